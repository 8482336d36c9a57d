package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	audio "zone-tracker/internal/audio/domain"
)

// MaxUploadBytes caps the accepted clip size at 50MB.
const MaxUploadBytes = 50 << 20

var allowedExtensions = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
}

// Handler serves the audio endpoints: POST /audio/upload, GET /audio/list,
// GET /audio/{id}, DELETE /audio/{id} and POST /audio/cleanup-orphaned.
type Handler struct {
	repo          audio.Repository
	defaultSiteID string
}

// NewHandler constructs a Handler.
func NewHandler(repo audio.Repository, defaultSiteID string) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("audio handler: nil repo")
	}
	return &Handler{repo: repo, defaultSiteID: defaultSiteID}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/audio/upload" && r.Method == http.MethodPost:
		h.handleUpload(w, r)
	case r.URL.Path == "/audio/list" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.URL.Path == "/audio/cleanup-orphaned" && r.Method == http.MethodPost:
		h.handleCleanup(w, r)
	default:
		id, ok := parseAudioIDPath(r.URL.Path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleDownload(w, r, id)
		case http.MethodDelete:
			h.handleDelete(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		http.Error(w, "file too large or invalid multipart body", http.StatusBadRequest)
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer part.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	mimeType, ok := allowedExtensions[ext]
	if !ok {
		http.Error(w, "only .mp3 and .wav files are accepted", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(part)
	if err != nil {
		http.Error(w, "read upload error", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty file", http.StatusBadRequest)
		return
	}

	siteID := r.FormValue("siteId")
	if siteID == "" {
		siteID = h.defaultSiteID
	}

	file := audio.File{
		SiteID:      siteID,
		Filename:    filepath.Base(header.Filename),
		MimeType:    mimeType,
		Data:        data,
		UploadedBy:  r.FormValue("uploadedBy"),
		Description: r.FormValue("description"),
	}
	if err := h.repo.Save(r.Context(), &file); err != nil {
		http.Error(w, "save audio error", http.StatusInternalServerError)
		return
	}

	writeAudioJSON(w, fileMetadata(file))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	siteID := r.URL.Query().Get("siteId")
	if siteID == "" {
		siteID = h.defaultSiteID
	}

	files, err := h.repo.List(r.Context(), siteID, limit)
	if err != nil {
		http.Error(w, "list audio error", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(files))
	for _, file := range files {
		items = append(items, fileMetadata(file))
	}
	writeAudioJSON(w, map[string]any{"siteId": siteID, "items": items})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, id int64) {
	file, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, audio.ErrNotFound) {
		http.Error(w, "audio file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "get audio error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(int64(len(file.Data)), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id int64) {
	err := h.repo.Delete(r.Context(), id)
	if errors.Is(err, audio.ErrNotFound) {
		http.Error(w, "audio file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "delete audio error", http.StatusInternalServerError)
		return
	}
	writeAudioJSON(w, map[string]any{"deleted": id})
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("siteId")
	if siteID == "" {
		siteID = h.defaultSiteID
	}
	removed, err := h.repo.DeleteOrphaned(r.Context(), siteID)
	if err != nil {
		http.Error(w, "cleanup audio error", http.StatusInternalServerError)
		return
	}
	writeAudioJSON(w, map[string]any{"siteId": siteID, "removed": removed})
}

func fileMetadata(file audio.File) map[string]any {
	meta := map[string]any{
		"id":         file.ID,
		"siteId":     file.SiteID,
		"filename":   file.Filename,
		"size":       file.Size,
		"mimeType":   file.MimeType,
		"uploadedAt": file.UploadedAt.Format(time.RFC3339),
	}
	if file.UploadedBy != "" {
		meta["uploadedBy"] = file.UploadedBy
	}
	if file.Description != "" {
		meta["description"] = file.Description
	}
	return meta
}

// parseAudioIDPath extracts the numeric id from /audio/{id}.
func parseAudioIDPath(path string) (int64, bool) {
	rest := strings.TrimPrefix(path, "/audio/")
	if rest == path || rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeAudioJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
