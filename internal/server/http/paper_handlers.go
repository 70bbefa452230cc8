package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/export"
	"github.com/evidlab/study-aggregation-service/internal/repository"
)

// getAggregationRunPapers handles GET /aggregation-runs/{runID}/papers.
// It returns a paginated list of the merged entities stored for a run.
func (s *Server) getAggregationRunPapers(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	limit, offset := parsePaginationParams(r)

	filter := repository.PaperFilter{
		Limit:  limit,
		Offset: offset,
	}

	if typeParam := r.URL.Query().Get("study_type"); typeParam != "" {
		studyType := domain.StudyType(typeParam)
		filter.StudyType = &studyType
	}

	if doiParam := r.URL.Query().Get("has_doi"); doiParam != "" {
		hasDOI, parseErr := strconv.ParseBool(doiParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "has_doi must be a boolean")
			return
		}
		filter.HasDOI = &hasDOI
	}

	if yearParam := r.URL.Query().Get("min_year"); yearParam != "" {
		year, parseErr := strconv.Atoi(yearParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "min_year must be an integer")
			return
		}
		filter.MinYear = year
	}
	if yearParam := r.URL.Query().Get("max_year"); yearParam != "" {
		year, parseErr := strconv.Atoi(yearParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "max_year must be an integer")
			return
		}
		filter.MaxYear = year
	}

	papers, totalCount, err := s.service.ListPapers(r.Context(), runID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]paperResponse, len(papers))
	for i, p := range papers {
		responses[i] = storedPaperToResponse(p)
	}

	writeJSON(w, http.StatusOK, listPapersResponse{
		Papers:        responses,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getAggregationRunReport handles GET /aggregation-runs/{runID}/report.
// It returns the validation and statistics reports of a run. Reports are
// only present once the run completes.
func (s *Server) getAggregationRunReport(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.service.GetRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if run.ValidationReport == nil && run.StatisticsReport == nil {
		writeError(w, http.StatusConflict, "run has not produced reports yet")
		return
	}

	writeJSON(w, http.StatusOK, reportResponse{
		RunID:      run.ID.String(),
		Status:     string(run.Status),
		Validation: run.ValidationReport,
		Statistics: run.StatisticsReport,
	})
}

// exportAggregationRun handles GET /aggregation-runs/{runID}/export. It
// streams the merged entities of a completed run as CSV.
func (s *Server) exportAggregationRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" {
		writeError(w, http.StatusBadRequest, "unsupported export format: only csv is available")
		return
	}

	rs, err := s.service.ResultSet(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run-"+runID.String()+".csv"))
	w.WriteHeader(http.StatusOK)

	if err := export.WriteCSV(w, rs); err != nil {
		// Headers already sent; the client sees a truncated body.
		s.logger.Error().Err(err).
			Str("run_id", runID.String()).
			Msg("csv export write failed")
		return
	}

	s.metrics.RecordExport("csv")
}
