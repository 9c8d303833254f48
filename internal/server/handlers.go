package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alexeynavarkin/picsearch/internal/connector"
	"github.com/alexeynavarkin/picsearch/internal/indexer"
)

const imageField = "image"

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Diagnostic is what GET /api/diagnostic reports. Options holds only
// whether each option is set, never its value.
type Diagnostic struct {
	Options     map[string]bool       `json:"options"`
	ObjectStore ObjectStoreDiagnostic `json:"objectStore"`
}

type ObjectStoreDiagnostic struct {
	Backend      string `json:"backend"`
	Bucket       string `json:"bucket"`
	PublicDomain string `json:"publicDomain"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) uploadImage(c *gin.Context) {
	payload, fileName, status, err := s.readImage(c)
	if err != nil {
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}

	res := s.pipeline.Ingest(c.Request.Context(), payload, fileName)
	c.JSON(ingestStatus(res), res)
}

func (s *Server) searchImage(c *gin.Context) {
	payload, _, status, err := s.readImage(c)
	if err != nil {
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}

	res := s.pipeline.Search(c.Request.Context(), payload)
	if res.Error != nil {
		c.JSON(stageStatus(res.Error), res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) urlMapping(c *gin.Context) {
	table, err := s.mapping.All(c.Request.Context())
	if err != nil {
		s.lg.Error("failed to read url mapping", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read url mapping"})
		return
	}
	c.JSON(http.StatusOK, table)
}

type diagnosticResponse struct {
	Timestamp string `json:"timestamp"`
	Diagnostic
}

func (s *Server) diagnostic(c *gin.Context) {
	c.JSON(http.StatusOK, diagnosticResponse{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Diagnostic: s.diag,
	})
}

// readImage extracts the multipart image field and checks that it is a
// format the visual index accepts.
func (s *Server) readImage(c *gin.Context) (connector.Payload, string, int, error) {
	fh, err := c.FormFile(imageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return connector.Payload{}, "", http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes)
		}
		return connector.Payload{}, "", http.StatusBadRequest, fmt.Errorf("multipart field %q is required", imageField)
	}

	f, err := fh.Open()
	if err != nil {
		return connector.Payload{}, "", http.StatusBadRequest, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	payload, err := connector.PayloadFromReader(f, "")
	if err != nil {
		return connector.Payload{}, "", http.StatusBadRequest, fmt.Errorf("read upload: %w", err)
	}
	if payload.Len() == 0 {
		return connector.Payload{}, "", http.StatusBadRequest, errors.New("empty upload")
	}
	if !indexer.IsSupportedImage(payload.ContentType()) {
		return connector.Payload{}, "", http.StatusBadRequest, fmt.Errorf("unsupported image format %s", payload.ContentType())
	}

	return payload, filepath.Base(fh.Filename), http.StatusOK, nil
}

func ingestStatus(res indexer.IngestResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Partial:
		return http.StatusMultiStatus
	case res.Error != nil:
		return stageStatus(res.Error)
	default:
		return http.StatusInternalServerError
	}
}

func stageStatus(err *indexer.StageError) int {
	switch err.Kind {
	case indexer.KindInput:
		return http.StatusBadRequest
	case indexer.KindCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
