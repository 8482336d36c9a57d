package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	masterdata "zone-tracker/internal/masterdata/domain"
	"zone-tracker/internal/observability/metrics"
)

const maxBulkZones = 5000

// ZonesHandler serves GET /zones, POST /zones and POST /zones/bulk.
type ZonesHandler struct {
	repo          masterdata.ZoneRepository
	defaultSiteID string
}

// NewZonesHandler constructs a ZonesHandler.
func NewZonesHandler(repo masterdata.ZoneRepository, defaultSiteID string) (*ZonesHandler, error) {
	if repo == nil {
		return nil, errors.New("zones handler: nil repo")
	}
	return &ZonesHandler{repo: repo, defaultSiteID: defaultSiteID}, nil
}

type zonePayload struct {
	SiteID  string   `json:"siteId"`
	ZoneID  string   `json:"zoneId"`
	Name    string   `json:"name"`
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
	Z       *float64 `json:"z"`
	AudioID *int64   `json:"audioId"`
}

func (p zonePayload) toDomain(defaultSiteID string) masterdata.Zone {
	siteID := p.SiteID
	if siteID == "" {
		siteID = defaultSiteID
	}
	return masterdata.Zone{
		SiteID:  siteID,
		ZoneID:  p.ZoneID,
		Name:    p.Name,
		X:       p.X,
		Y:       p.Y,
		Z:       p.Z,
		AudioID: p.AudioID,
	}
}

func zoneToPayload(zone masterdata.Zone) zonePayload {
	return zonePayload{
		SiteID:  zone.SiteID,
		ZoneID:  zone.ZoneID,
		Name:    zone.Name,
		X:       zone.X,
		Y:       zone.Y,
		Z:       zone.Z,
		AudioID: zone.AudioID,
	}
}

func (h *ZonesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/zones" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.URL.Path == "/zones" && r.Method == http.MethodPost:
		h.handleSave(w, r)
	case r.URL.Path == "/zones/bulk" && r.Method == http.MethodPost:
		h.handleBulk(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *ZonesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveQuery("zones_list", result, time.Since(start))
	}()

	siteID := siteOrDefault(r, h.defaultSiteID)
	zones, err := h.repo.List(r.Context(), siteID)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "list zones error", http.StatusInternalServerError)
		return
	}

	items := make([]zonePayload, 0, len(zones))
	for _, zone := range zones {
		items = append(items, zoneToPayload(zone))
	}
	writeJSON(w, map[string]any{"siteId": siteID, "items": items})
}

func (h *ZonesHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	var payload zonePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	zone := payload.toDomain(h.defaultSiteID)
	if err := zone.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.repo.Save(r.Context(), &zone); err != nil {
		http.Error(w, "save zone error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, zoneToPayload(zone))
}

func (h *ZonesHandler) handleBulk(w http.ResponseWriter, r *http.Request) {
	var payloads []zonePayload
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if len(payloads) == 0 {
		http.Error(w, "empty zone list", http.StatusBadRequest)
		return
	}
	if len(payloads) > maxBulkZones {
		http.Error(w, "at most "+strconv.Itoa(maxBulkZones)+" zones per request", http.StatusBadRequest)
		return
	}

	zones := make([]masterdata.Zone, 0, len(payloads))
	for i, payload := range payloads {
		zone := payload.toDomain(h.defaultSiteID)
		if err := zone.Validate(); err != nil {
			http.Error(w, "zone "+strconv.Itoa(i)+": "+err.Error(), http.StatusBadRequest)
			return
		}
		zones = append(zones, zone)
	}
	if err := h.repo.SaveBulk(r.Context(), zones); err != nil {
		http.Error(w, "save zones error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"saved": len(zones)})
}

// AnchorsHandler serves GET /anchors, POST /anchors and
// GET /anchors/{anchorId}/history.
type AnchorsHandler struct {
	repo          masterdata.AnchorRepository
	defaultSiteID string
}

// NewAnchorsHandler constructs an AnchorsHandler.
func NewAnchorsHandler(repo masterdata.AnchorRepository, defaultSiteID string) (*AnchorsHandler, error) {
	if repo == nil {
		return nil, errors.New("anchors handler: nil repo")
	}
	return &AnchorsHandler{repo: repo, defaultSiteID: defaultSiteID}, nil
}

type anchorPayload struct {
	SiteID    string   `json:"siteId"`
	AnchorID  string   `json:"anchorId"`
	Name      string   `json:"name,omitempty"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Z         *float64 `json:"z"`
	Source    string   `json:"source,omitempty"`
	UpdatedAt string   `json:"updatedAt,omitempty"`
}

func (h *AnchorsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if anchorID := parseAnchorHistoryPath(r.URL.Path); anchorID != "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHistory(w, r, anchorID)
		return
	}

	switch {
	case r.URL.Path == "/anchors" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.URL.Path == "/anchors" && r.Method == http.MethodPost:
		h.handleSave(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *AnchorsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveQuery("anchors_list", result, time.Since(start))
	}()

	siteID := siteOrDefault(r, h.defaultSiteID)
	anchors, err := h.repo.List(r.Context(), siteID)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "list anchors error", http.StatusInternalServerError)
		return
	}

	items := make([]anchorPayload, 0, len(anchors))
	for _, anchor := range anchors {
		items = append(items, anchorPayload{
			SiteID:    anchor.SiteID,
			AnchorID:  anchor.AnchorID,
			Name:      anchor.Name,
			X:         anchor.X,
			Y:         anchor.Y,
			Z:         anchor.Z,
			UpdatedAt: anchor.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, map[string]any{"siteId": siteID, "items": items})
}

func (h *AnchorsHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	var payload anchorPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	siteID := payload.SiteID
	if siteID == "" {
		siteID = h.defaultSiteID
	}
	anchor := masterdata.Anchor{
		SiteID:   siteID,
		AnchorID: payload.AnchorID,
		Name:     payload.Name,
		X:        payload.X,
		Y:        payload.Y,
		Z:        payload.Z,
	}
	if err := anchor.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.repo.Save(r.Context(), &anchor, payload.Source); err != nil {
		http.Error(w, "save anchor error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, anchorPayload{
		SiteID:    anchor.SiteID,
		AnchorID:  anchor.AnchorID,
		Name:      anchor.Name,
		X:         anchor.X,
		Y:         anchor.Y,
		Z:         anchor.Z,
		UpdatedAt: anchor.UpdatedAt.Format(time.RFC3339),
	})
}

type anchorObservationPayload struct {
	ID         int64    `json:"id"`
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
	Z          *float64 `json:"z"`
	Source     string   `json:"source,omitempty"`
	ObservedAt string   `json:"observedAt"`
}

func (h *AnchorsHandler) handleHistory(w http.ResponseWriter, r *http.Request, anchorID string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveQuery("anchor_history", result, time.Since(start))
	}()

	limit, err := parseLimit(r, "limit", 200, 2000)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	siteID := siteOrDefault(r, h.defaultSiteID)

	known, err := h.repo.Exists(r.Context(), siteID, anchorID)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "query anchor error", http.StatusInternalServerError)
		return
	}
	if !known {
		result = metrics.ResultError
		http.Error(w, "anchor not found", http.StatusNotFound)
		return
	}

	observations, err := h.repo.History(r.Context(), siteID, anchorID, limit)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "query anchor history error", http.StatusInternalServerError)
		return
	}

	items := make([]anchorObservationPayload, 0, len(observations))
	for _, obs := range observations {
		items = append(items, anchorObservationPayload{
			ID:         obs.ID,
			X:          obs.X,
			Y:          obs.Y,
			Z:          obs.Z,
			Source:     obs.Source,
			ObservedAt: obs.ObservedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, map[string]any{"siteId": siteID, "anchorId": anchorID, "items": items})
}

// parseAnchorHistoryPath extracts the anchor id from
// /anchors/{anchorId}/history, returning "" for any other path.
func parseAnchorHistoryPath(path string) string {
	rest := strings.TrimPrefix(path, "/anchors/")
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

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
