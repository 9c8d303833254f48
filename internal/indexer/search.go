package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alexeynavarkin/picsearch/internal/connector"
	"github.com/alexeynavarkin/picsearch/internal/metrics"
)

// Search queries the visual index and resolves every hit to its public URL.
// Hits keep the index's order; a signature missing from the mapping table is
// reported with Found=false rather than dropped.
func (i *Indexer) Search(ctx context.Context, payload connector.Payload) SearchResult {
	if payload.Len() == 0 {
		return SearchResult{Matches: []ResolvedMatch{}, Error: &StageError{Stage: metrics.StageSearch, Kind: KindInput, Message: "empty payload"}}
	}

	matches, err := i.index.Search(ctx, payload.Bytes())
	if err != nil {
		i.lg.Error("search failed", zap.Error(err))
		return SearchResult{Matches: []ResolvedMatch{}, Error: stageError(metrics.StageSearch, err)}
	}

	res := SearchResult{Matches: make([]ResolvedMatch, 0, matches.Remaining()), HasMore: matches.HasMore()}
	start := time.Now()
	var resolveErr error
	for m := range matches.All() {
		rm := ResolvedMatch{
			ContentSign: m.ContentSign,
			Score:       m.Score,
			Rank:        m.Rank,
			Brief:       m.Brief,
		}
		url, found, err := i.mapping.Get(ctx, m.ContentSign)
		if err != nil {
			resolveErr = err
			break
		}
		rm.URL, rm.Found = url, found
		res.Matches = append(res.Matches, rm)
	}
	i.rec.ObserveStage(metrics.StageMapping, time.Since(start), resolveErr)

	if resolveErr != nil {
		i.lg.Error("failed to resolve matches", zap.Error(resolveErr))
		res.Error = stageError(metrics.StageMapping, resolveErr)
		return res
	}

	i.lg.Info("search resolved", zap.Int("matches", len(res.Matches)), zap.Bool("has_more", res.HasMore))
	return res
}
