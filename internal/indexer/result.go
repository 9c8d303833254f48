package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alexeynavarkin/picsearch/internal/connector"
	"github.com/alexeynavarkin/picsearch/internal/credential"
	"github.com/alexeynavarkin/picsearch/internal/metrics"
	"github.com/alexeynavarkin/picsearch/internal/repository/mapping_repo"
	"github.com/alexeynavarkin/picsearch/internal/visualsearch"
)

const (
	KindInput        = "input"
	KindCredential   = "credential"
	KindObjectStore  = "object_store"
	KindRegistration = "registration"
	KindSearch       = "search"
	KindMapping      = "mapping"
	KindTransport    = "transport"
	KindCanceled     = "canceled"
	KindInternal     = "internal"
)

// StageError names the stage that failed and carries the upstream code and
// message verbatim.
type StageError struct {
	Stage   metrics.Stage `json:"stage"`
	Kind    string        `json:"kind"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message"`
	Status  int           `json:"status,omitempty"`

	err error
}

func (e *StageError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s stage failed: %s %s: %s", e.Stage, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s stage failed: %s: %s", e.Stage, e.Kind, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.err
}

// Upstream reports whether a remote dependency caused the failure, as
// opposed to bad input.
func (e *StageError) Upstream() bool {
	return e.Kind != KindInput
}

func stageError(stage metrics.Stage, err error) *StageError {
	se := &StageError{Stage: stage, Kind: KindInternal, Message: err.Error(), err: err}

	var (
		credErr    *credential.Error
		vsErr      *visualsearch.Error
		storeErr   *connector.Error
		mappingErr *mapping_repo.Error
	)
	switch {
	case errors.As(err, &credErr):
		se.Stage = metrics.StageToken
		se.Kind = KindCredential
		se.Code = credErr.Code
		se.Message = credErr.Message
		se.Status = credErr.Status
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		se.Kind = KindCanceled
	case errors.As(err, &vsErr):
		se.Kind = string(vsErr.Kind)
		if vsErr.Transport {
			se.Kind = KindTransport
		} else {
			se.Code = strconv.Itoa(vsErr.Code)
		}
		se.Message = vsErr.Message
		se.Status = vsErr.Status
	case errors.As(err, &storeErr):
		se.Kind = KindObjectStore
		se.Code = storeErr.Code
		se.Message = storeErr.Message
		se.Status = storeErr.StatusCode
	case errors.As(err, &mappingErr):
		se.Kind = KindMapping
	}

	return se
}

func inputError(msg string) *StageError {
	return &StageError{Stage: metrics.StageUpload, Kind: KindInput, Message: msg}
}

// IngestResult describes one ingestion. Success means the object is
// uploaded, registered and its signature mapped to URL. Partial means the
// upload landed and was recorded under MappingID, but registration failed.
type IngestResult struct {
	Success     bool          `json:"success"`
	Partial     bool          `json:"partial"`
	Stage       metrics.Stage `json:"stage,omitempty"`
	URL         string        `json:"url,omitempty"`
	Key         string        `json:"key,omitempty"`
	ContentSign string        `json:"contentSign,omitempty"`
	MappingID   string        `json:"mappingId,omitempty"`
	Brief       *Brief        `json:"brief,omitempty"`
	Error       *StageError   `json:"error,omitempty"`
}

// ResolvedMatch is a search hit with its signature looked up in the
// mapping table.
type ResolvedMatch struct {
	ContentSign string  `json:"contentSign"`
	Score       float64 `json:"score"`
	Rank        int     `json:"rank"`
	URL         string  `json:"url,omitempty"`
	Found       bool    `json:"found"`
	Brief       string  `json:"brief,omitempty"`
}

type SearchResult struct {
	Matches []ResolvedMatch `json:"matches"`
	HasMore bool            `json:"hasMore"`
	Error   *StageError     `json:"error,omitempty"`
}
