package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/eventmerge/internal/globaltime"
	"horse.fit/eventmerge/internal/ingest"
	"horse.fit/eventmerge/internal/store"
	payloadschema "horse.fit/eventmerge/schema"
)

type rejectedItem struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type batchResponse struct {
	RunID    string              `json:"run_id"`
	SourceID int64               `json:"source_id"`
	Summary  ingest.Summary      `json:"summary"`
	Results  []ingest.ItemResult `json:"results"`
	Rejected []rejectedItem      `json:"rejected,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Error().Err(err).Msg("health check failed")
			return internalError(c, "Database unavailable")
		}
	}
	return success(c, map[string]any{
		"service": "eventmerge",
		"time":    globaltime.UTC(),
	})
}

// handleSubmitBatch accepts a JSON array or NDJSON body of candidates.
// Items that fail schema validation are reported and skipped; ?strict=true
// rejects the whole batch instead.
func (s *Server) handleSubmitBatch(c echo.Context) error {
	sourceID, err := strconv.ParseInt(strings.TrimSpace(c.Param("source_id")), 10, 64)
	if err != nil || sourceID <= 0 {
		return failValidation(c, map[string]string{"source_id": "must be a positive integer"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Failed to read request body", nil)
	}

	candidates, itemErrs, err := payloadschema.ParseBatch(body)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}
	if len(candidates) == 0 && len(itemErrs) == 0 {
		return fail(c, http.StatusBadRequest, "Batch is empty", nil)
	}

	rejected := make([]rejectedItem, 0, len(itemErrs))
	for _, ie := range itemErrs {
		rejected = append(rejected, rejectedItem{Index: ie.Index, Error: ie.Err.Error()})
	}
	strict, _ := strconv.ParseBool(c.QueryParam("strict"))
	if len(itemErrs) > 0 && (strict || len(candidates) == 0) {
		fieldErrors := make(map[string]string, len(itemErrs))
		for _, r := range rejected {
			fieldErrors[strconv.Itoa(r.Index)] = r.Error
		}
		return failValidation(c, fieldErrors)
	}

	// A started batch runs to completion even if the client goes away.
	ctx := context.WithoutCancel(c.Request().Context())
	result, err := s.batches.Run(ctx, candidates, sourceID)
	if err != nil {
		if errors.Is(err, ingest.ErrUnknownSource) {
			return failNotFound(c, "Source not found")
		}
		s.logger.Error().Err(err).Int64("source_id", sourceID).Msg("batch failed")
		return internalError(c, "Failed to process batch")
	}

	return success(c, batchResponse{
		RunID:    result.RunID,
		SourceID: sourceID,
		Summary:  result.Summary,
		Results:  result.Results,
		Rejected: rejected,
	})
}

func (s *Server) handleGetRun(c echo.Context) error {
	runID := strings.TrimSpace(c.Param("run_id"))
	if runID == "" {
		return failValidation(c, map[string]string{"run_id": "is required"})
	}

	run, err := s.runs.GetRun(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failNotFound(c, "Run not found")
		}
		s.logger.Error().Err(err).Str("run_id", runID).Msg("load run failed")
		return internalError(c, "Failed to load run")
	}
	return success(c, run)
}
