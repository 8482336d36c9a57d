package http

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	analyticsrepo "zone-tracker/internal/analytics/infrastructure/postgres"
	"zone-tracker/internal/analytics/interfaces"
	"zone-tracker/internal/observability/metrics"
)

// ExportHandler serves file downloads of the analytics reports:
// /exports/most-visited.csv, /exports/most-visited.xlsx and
// /exports/occupancy.pdf.
type ExportHandler struct {
	query         *analyticsrepo.Query
	defaultSiteID string
}

// NewExportHandler constructs an ExportHandler.
func NewExportHandler(query *analyticsrepo.Query, defaultSiteID string) (*ExportHandler, error) {
	if query == nil {
		return nil, errors.New("export handler: nil query")
	}
	return &ExportHandler{query: query, defaultSiteID: defaultSiteID}, nil
}

func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/exports/most-visited.csv":
		h.handleMostVisitedCSV(w, r)
	case "/exports/most-visited.xlsx":
		h.handleMostVisitedXLSX(w, r)
	case "/exports/occupancy.pdf":
		h.handleOccupancyPDF(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ExportHandler) handleMostVisitedCSV(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("csv", result, time.Since(start))
	}()

	siteID, hours, items, err := h.mostVisited(r)
	if err != nil {
		result = metrics.ResultError
		writeExportError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"site_id", "window_hours", "zone_id", "zone_name", "total_seconds"})
	for _, item := range items {
		_ = writer.Write([]string{
			siteID,
			strconv.Itoa(hours),
			item.ZoneID,
			item.ZoneName,
			strconv.FormatInt(item.TotalSeconds, 10),
		})
	}
	writer.Flush()
}

func (h *ExportHandler) handleMostVisitedXLSX(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("xlsx", result, time.Since(start))
	}()

	siteID, hours, items, err := h.mostVisited(r)
	if err != nil {
		result = metrics.ResultError
		writeExportError(w, err)
		return
	}

	data, err := interfaces.BuildMostVisitedXLSX(siteID, hours, items)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *ExportHandler) handleOccupancyPDF(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("pdf", result, time.Since(start))
	}()

	siteID := siteOrDefault(r, h.defaultSiteID)
	visits, err := h.query.OpenVisits(r.Context(), siteID)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "query open visits error", http.StatusInternalServerError)
		return
	}

	data, err := interfaces.BuildOccupancyPDF(siteID, time.Now().UTC(), visits)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export pdf error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *ExportHandler) mostVisited(r *http.Request) (string, int, []analyticsrepo.ZoneDwell, error) {
	hours, err := parseLimit(r, "hours", 24, 720)
	if err != nil {
		return "", 0, nil, badRequestError{err}
	}
	siteID := siteOrDefault(r, h.defaultSiteID)
	items, err := h.query.MostVisited(r.Context(), siteID, time.Duration(hours)*time.Hour)
	if err != nil {
		return "", 0, nil, err
	}
	return siteID, hours, items, nil
}

type badRequestError struct {
	err error
}

func (e badRequestError) Error() string { return e.err.Error() }

func writeExportError(w http.ResponseWriter, err error) {
	var bad badRequestError
	if errors.As(err, &bad) {
		http.Error(w, bad.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, "export query error", http.StatusInternalServerError)
}
