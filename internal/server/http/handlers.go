package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	minQueryLength     = 3
	maxQueryLength     = 10000
	maxRequestBodySize = 8 << 20 // 8 MB; inline record batches can be large
)

var validate = validator.New()

// startRunRequest is the JSON request body for starting an aggregation
// run. Exactly one of query and records must be provided: a query run
// searches the configured sources, an inline run processes the supplied
// raw record batches directly.
type startRunRequest struct {
	Query               string                        `json:"query,omitempty"`
	Records             map[string][]domain.RawRecord `json:"records,omitempty"`
	Sources             []string                      `json:"sources,omitempty" validate:"omitempty,dive,oneof=pubmed cochrane clinicaltrials"`
	MaxResultsPerSource *int                          `json:"max_results_per_source,omitempty" validate:"omitempty,min=1,max=10000"`
	SimilarityThreshold *float64                      `json:"similarity_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	QualityThreshold    *float64                      `json:"quality_threshold,omitempty" validate:"omitempty,gte=0,lte=100"`
	SourcePriority      []string                      `json:"source_priority,omitempty" validate:"omitempty,dive,oneof=pubmed cochrane clinicaltrials"`
	Workers             *int                          `json:"workers,omitempty" validate:"omitempty,min=1,max=64"`
}

// runConfiguration builds the run configuration overrides from the
// request. Nil when the request carries no overrides.
func (req *startRunRequest) runConfiguration() *domain.RunConfiguration {
	cfg := domain.RunConfiguration{}
	overridden := false

	if len(req.Sources) > 0 {
		cfg.Sources = stringsToSourceNames(req.Sources)
		overridden = true
	}
	if req.MaxResultsPerSource != nil {
		cfg.MaxResultsPerSource = *req.MaxResultsPerSource
		overridden = true
	}
	if req.SimilarityThreshold != nil {
		cfg.SimilarityThreshold = *req.SimilarityThreshold
		overridden = true
	}
	if req.QualityThreshold != nil {
		cfg.QualityThreshold = *req.QualityThreshold
		overridden = true
	}
	if len(req.SourcePriority) > 0 {
		cfg.SourcePriority = stringsToSourceNames(req.SourcePriority)
		overridden = true
	}
	if req.Workers != nil {
		cfg.Workers = *req.Workers
		overridden = true
	}

	if !overridden {
		return nil
	}
	return &cfg
}

// startAggregationRun handles POST /aggregation-runs. It creates a run
// and executes it in the background.
func (s *Server) startAggregationRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req startRunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" && len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "either query or records is required")
		return
	}
	if req.Query != "" && len(req.Records) > 0 {
		writeError(w, http.StatusBadRequest, "query and records are mutually exclusive")
		return
	}
	if req.Query != "" && len(req.Query) < minQueryLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query must be at least %d characters", minQueryLength))
		return
	}
	if len(req.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query must be at most %d characters", maxQueryLength))
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationErrorMessage(err))
		return
	}

	cfg := req.runConfiguration()

	var run *domain.AggregationRun
	if req.Query != "" {
		run, err = s.service.StartRun(ctx, req.Query, cfg)
	} else {
		records := make(map[domain.SourceName][]domain.RawRecord, len(req.Records))
		for name, batch := range req.Records {
			records[domain.SourceName(name)] = batch
		}
		run, err = s.service.StartInlineRun(ctx, records, cfg)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Str("correlation_id", correlationIDFromContext(ctx)).
		Str("query", run.Query).
		Msg("aggregation run accepted")

	w.Header().Set("Location", fmt.Sprintf("/api/v1/aggregation-runs/%s", run.ID))
	writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:     run.ID.String(),
		Status:    string(run.Status),
		CreatedAt: run.CreatedAt,
		Message:   "aggregation run started",
	})
}

// getAggregationRun handles GET /aggregation-runs/{runID}.
func (s *Server) getAggregationRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.service.GetRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainRunToResponse(run))
}

// listAggregationRuns handles GET /aggregation-runs with optional status
// and creation time filters.
func (s *Server) listAggregationRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.RunFilter{
		Limit:  limit,
		Offset: offset,
	}

	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		filter.Status = []domain.RunStatus{domain.RunStatus(statusParam)}
	}

	if createdAfter := r.URL.Query().Get("created_after"); createdAfter != "" {
		t, parseErr := time.Parse(time.RFC3339, createdAfter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after format: expected RFC3339")
			return
		}
		filter.CreatedAfter = &t
	}
	if createdBefore := r.URL.Query().Get("created_before"); createdBefore != "" {
		t, parseErr := time.Parse(time.RFC3339, createdBefore)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_before format: expected RFC3339")
			return
		}
		filter.CreatedBefore = &t
	}

	runs, totalCount, err := s.service.ListRuns(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]runSummaryResponse, len(runs))
	for i, run := range runs {
		summaries[i] = domainRunToSummary(run)
	}

	writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:          summaries,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// deleteAggregationRun handles DELETE /aggregation-runs/{runID}.
func (s *Server) deleteAggregationRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	if err := s.service.DeleteRun(r.Context(), runID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps domain errors to HTTP status codes and writes a
// JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "run is not in a state that allows this operation")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// validationErrorMessage renders the first field violation of a
// validator error in a client-readable form.
func validationErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("invalid value for %s: failed %s constraint", fe.Field(), fe.Tag())
	}
	return "invalid request"
}

// parseUUID parses a UUID from a string, writing a 400 error response if
// invalid. The raw input is never echoed back.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query
// parameters, applying default and maximum bounds.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodePageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodePageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}

func stringsToSourceNames(values []string) []domain.SourceName {
	names := make([]domain.SourceName, len(values))
	for i, v := range values {
		names[i] = domain.SourceName(v)
	}
	return names
}
