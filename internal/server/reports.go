package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/headline-goat/variant-goat/internal/experiment"
	"github.com/headline-goat/variant-goat/internal/store"
)

type VariantReport struct {
	VariantID      string  `json:"variantId"`
	Name           string  `json:"name"`
	Weight         int     `json:"weight"`
	Impressions    int64   `json:"impressions"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"`
}

type StatsResponse struct {
	ExperimentID int64           `json:"experimentId"`
	Name         string          `json:"name"`
	Status       store.Status    `json:"status"`
	StartDate    string          `json:"startDate,omitempty"`
	EndDate      string          `json:"endDate,omitempty"`
	Variants     []VariantReport `json:"variants"`
}

type DailyRow struct {
	Date        string `json:"date"`
	VariantID   string `json:"variantId"`
	VariantName string `json:"variantName"`
	Impressions int64  `json:"impressions"`
	Conversions int64  `json:"conversions"`
}

type DailyStatsResponse struct {
	ExperimentID int64      `json:"experimentId"`
	Rows         []DailyRow `json:"rows"`
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	status := store.Status(r.URL.Query().Get("status"))
	if status != "" {
		if _, err := experiment.ParseStatus(string(status)); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "status")
			return
		}
	}

	experiments, err := s.store.ListExperiments(r.Context(), status)
	if err != nil {
		s.logger.Error("failed to list experiments", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	if experiments == nil {
		experiments = []*store.Experiment{}
	}
	writeJSON(w, http.StatusOK, experiments)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	e, from, to, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	totals, err := s.store.VariantTotals(r.Context(), e.ID, from, to)
	if err != nil {
		s.logger.Error("failed to get variant totals", "experiment_id", e.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		ExperimentID: e.ID,
		Name:         e.Name,
		Status:       e.Status,
		StartDate:    from,
		EndDate:      to,
		Variants:     BuildVariantReports(e, totals),
	})
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	e, from, to, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	stats, err := s.store.DailyStats(r.Context(), e.ID, from, to)
	if err != nil {
		s.logger.Error("failed to get daily stats", "experiment_id", e.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	names := make(map[string]string, len(e.Variants))
	for _, v := range e.Variants {
		names[v.ID] = v.Name
	}

	rows := make([]DailyRow, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, DailyRow{
			Date:        st.Date,
			VariantID:   st.VariantID,
			VariantName: names[st.VariantID],
			Impressions: st.Impressions,
			Conversions: st.Conversions,
		})
	}
	writeJSON(w, http.StatusOK, DailyStatsResponse{ExperimentID: e.ID, Rows: rows})
}

// reportParams resolves the experiment and optional date range of a report
// request, writing the error response itself when they are invalid.
func (s *Server) reportParams(w http.ResponseWriter, r *http.Request) (*store.Experiment, string, string, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid experiment id", "id")
		return nil, "", "", false
	}

	q := r.URL.Query()
	from, to := q.Get("start_date"), q.Get("end_date")
	for field, value := range map[string]string{"start_date": from, "end_date": to} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(store.DateLayout, value); err != nil {
			writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD", field)
			return nil, "", "", false
		}
	}

	e, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "experiment not found", "id")
		return nil, "", "", false
	}
	if err != nil {
		s.logger.Error("failed to load experiment", "experiment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return nil, "", "", false
	}
	return e, from, to, true
}

// BuildVariantReports lists every variant of e in definition order, with
// zero counts for variants that have no data yet.
func BuildVariantReports(e *store.Experiment, totals []store.VariantTotals) []VariantReport {
	byVariant := make(map[string]store.VariantTotals, len(totals))
	for _, t := range totals {
		byVariant[t.VariantID] = t
	}

	reports := make([]VariantReport, 0, len(e.Variants))
	for _, v := range e.Variants {
		t := byVariant[v.ID]
		report := VariantReport{
			VariantID:   v.ID,
			Name:        v.Name,
			Weight:      v.Weight,
			Impressions: t.Impressions,
			Conversions: t.Conversions,
		}
		if t.Impressions > 0 {
			report.ConversionRate = float64(t.Conversions) / float64(t.Impressions)
		}
		reports = append(reports, report)
	}
	return reports
}
