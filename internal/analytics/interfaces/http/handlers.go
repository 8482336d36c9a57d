package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	analyticsrepo "zone-tracker/internal/analytics/infrastructure/postgres"
	"zone-tracker/internal/observability/metrics"
	application "zone-tracker/internal/occupancy/application"
	occupancy "zone-tracker/internal/occupancy/domain"
)

const timeLayout = time.RFC3339

// DeviceHistoryHandler serves GET /device/{deviceId}/history.
type DeviceHistoryHandler struct {
	query *analyticsrepo.Query
	cfg   application.Config
	clock application.Clock
}

// NewDeviceHistoryHandler constructs a DeviceHistoryHandler.
func NewDeviceHistoryHandler(query *analyticsrepo.Query, cfg application.Config, clock application.Clock) (*DeviceHistoryHandler, error) {
	if query == nil {
		return nil, errors.New("device history handler: nil query")
	}
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &DeviceHistoryHandler{query: query, cfg: cfg, clock: clock}, nil
}

type deviceHistoryItem struct {
	ID               int64   `json:"id"`
	ZoneID           string  `json:"zoneId"`
	ZoneName         string  `json:"zoneName"`
	StartTime        string  `json:"startTime"`
	EndTime          *string `json:"endTime"`
	EffectiveEndTime *string `json:"effectiveEndTime"`
	DurationSeconds  *int64  `json:"durationSeconds"`
	IsOpen           bool    `json:"isOpen"`
	IsActive         bool    `json:"isActive"`
}

type deviceHistoryDevice struct {
	SiteID                string `json:"siteId"`
	DeviceID              string `json:"deviceId"`
	DeviceName            string `json:"deviceName"`
	LastSeen              string `json:"lastSeen"`
	StaleThresholdMinutes int    `json:"staleThresholdMinutes"`
}

type deviceHistoryResponse struct {
	Device deviceHistoryDevice `json:"device"`
	Items  []deviceHistoryItem `json:"items"`
}

// ServeHTTP renders a device's visit history with query-time occupancy
// projection.
func (h *DeviceHistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveQuery("device_history", result, time.Since(start))
	}()

	if r.Method != http.MethodGet {
		result = metrics.ResultError
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	deviceID := parseDevicePath(r.URL.Path)
	if deviceID == "" {
		result = metrics.ResultError
		http.Error(w, "device id is required", http.StatusBadRequest)
		return
	}

	limit, err := parseLimit(r, "limit", 200, 2000)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	siteID := siteOrDefault(r, h.cfg.DefaultSiteID)

	device, err := h.query.GetDevice(r.Context(), siteID, deviceID)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "query device error", http.StatusInternalServerError)
		return
	}
	if device == nil {
		result = metrics.ResultError
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	visits, err := h.query.DeviceHistory(r.Context(), siteID, deviceID, limit)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "query history error", http.StatusInternalServerError)
		return
	}

	threshold := h.cfg.StaleThresholdFor(siteID)
	now := h.clock.Now().UTC()

	items := make([]deviceHistoryItem, 0, len(visits))
	for _, visit := range visits {
		projection := occupancy.EvaluateOccupancy(occupancy.Visit{
			ID:        visit.ID,
			SiteID:    siteID,
			DeviceID:  deviceID,
			ZoneID:    visit.ZoneID,
			StartTime: visit.StartTime,
			EndTime:   visit.EndTime,
		}, device.LastSeen, threshold, now)

		items = append(items, deviceHistoryItem{
			ID:               visit.ID,
			ZoneID:           visit.ZoneID,
			ZoneName:         visit.ZoneName,
			StartTime:        visit.StartTime.Format(timeLayout),
			EndTime:          formatOptionalTime(visit.EndTime),
			EffectiveEndTime: formatOptionalTime(projection.EffectiveEnd),
			DurationSeconds:  projection.DurationSeconds,
			IsOpen:           projection.IsOpen,
			IsActive:         projection.IsActive,
		})
	}

	response := deviceHistoryResponse{
		Device: deviceHistoryDevice{
			SiteID:                siteID,
			DeviceID:              device.DeviceID,
			DeviceName:            device.Name,
			LastSeen:              device.LastSeen.Format(timeLayout),
			StaleThresholdMinutes: h.cfg.StaleThresholdMinutesFor(siteID),
		},
		Items: items,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// MostVisitedHandler serves GET /metrics/most-visited.
type MostVisitedHandler struct {
	query         *analyticsrepo.Query
	defaultSiteID string
}

// NewMostVisitedHandler constructs a MostVisitedHandler.
func NewMostVisitedHandler(query *analyticsrepo.Query, defaultSiteID string) (*MostVisitedHandler, error) {
	if query == nil {
		return nil, errors.New("most visited handler: nil query")
	}
	return &MostVisitedHandler{query: query, defaultSiteID: defaultSiteID}, nil
}

type mostVisitedItem struct {
	ZoneID       string `json:"zoneId"`
	ZoneName     string `json:"zoneName"`
	TotalSeconds int64  `json:"totalSeconds"`
}

type mostVisitedResponse struct {
	SiteID      string            `json:"siteId"`
	WindowHours int               `json:"windowHours"`
	Items       []mostVisitedItem `json:"items"`
}

// ServeHTTP renders windowed dwell-time totals per zone.
func (h *MostVisitedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveQuery("most_visited", result, time.Since(start))
	}()

	if r.Method != http.MethodGet {
		result = metrics.ResultError
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	hours, err := parseLimit(r, "hours", 24, 720)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	siteID := siteOrDefault(r, h.defaultSiteID)

	items, err := h.query.MostVisited(r.Context(), siteID, time.Duration(hours)*time.Hour)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "query most visited error", http.StatusInternalServerError)
		return
	}

	response := mostVisitedResponse{SiteID: siteID, WindowHours: hours, Items: make([]mostVisitedItem, 0, len(items))}
	for _, item := range items {
		response.Items = append(response.Items, mostVisitedItem{
			ZoneID:       item.ZoneID,
			ZoneName:     item.ZoneName,
			TotalSeconds: item.TotalSeconds,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// TransitionsHandler serves GET /metrics/transitions.
type TransitionsHandler struct {
	query         *analyticsrepo.Query
	defaultSiteID string
}

// NewTransitionsHandler constructs a TransitionsHandler.
func NewTransitionsHandler(query *analyticsrepo.Query, defaultSiteID string) (*TransitionsHandler, error) {
	if query == nil {
		return nil, errors.New("transitions handler: nil query")
	}
	return &TransitionsHandler{query: query, defaultSiteID: defaultSiteID}, nil
}

type transitionItem struct {
	CurrentZone string `json:"currentZone"`
	NextZone    string `json:"nextZone"`
	Frequency   int64  `json:"frequency"`
}

type transitionsResponse struct {
	SiteID string           `json:"siteId"`
	Items  []transitionItem `json:"items"`
}

// ServeHTTP renders zone-to-zone transition frequencies.
func (h *TransitionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveQuery("transitions", result, time.Since(start))
	}()

	if r.Method != http.MethodGet {
		result = metrics.ResultError
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseLimit(r, "limit", 50, 500)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	siteID := siteOrDefault(r, h.defaultSiteID)

	items, err := h.query.Transitions(r.Context(), siteID, limit)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "query transitions error", http.StatusInternalServerError)
		return
	}

	response := transitionsResponse{SiteID: siteID, Items: make([]transitionItem, 0, len(items))}
	for _, item := range items {
		response.Items = append(response.Items, transitionItem{
			CurrentZone: item.CurrentZone,
			NextZone:    item.NextZone,
			Frequency:   item.Frequency,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// parseDevicePath extracts the device id from /device/{deviceId}/history.
func parseDevicePath(path string) string {
	rest := strings.TrimPrefix(path, "/device/")
	if rest == path {
		return ""
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] != "history" {
		return ""
	}
	return parts[0]
}

func parseLimit(r *http.Request, key string, fallback, max int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	if parsed <= 0 || parsed > max {
		return 0, errors.New(key + " must be between 1 and " + strconv.Itoa(max))
	}
	return parsed, nil
}

func siteOrDefault(r *http.Request, fallback string) string {
	if site := r.URL.Query().Get("siteId"); site != "" {
		return site
	}
	return fallback
}

func formatOptionalTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(timeLayout)
	return &formatted
}
