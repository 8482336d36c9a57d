package http

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	audio "zone-tracker/internal/audio/domain"
)

type stubRepo struct {
	saved   []audio.File
	files   map[int64]*audio.File
	deleted []int64
	removed int64
}

func (s *stubRepo) Save(ctx context.Context, file *audio.File) error {
	file.ID = int64(len(s.saved) + 1)
	file.Size = int64(len(file.Data))
	s.saved = append(s.saved, *file)
	return nil
}

func (s *stubRepo) List(ctx context.Context, siteID string, limit int) ([]audio.File, error) {
	var files []audio.File
	for _, file := range s.files {
		files = append(files, *file)
	}
	return files, nil
}

func (s *stubRepo) Get(ctx context.Context, id int64) (*audio.File, error) {
	file, ok := s.files[id]
	if !ok {
		return nil, audio.ErrNotFound
	}
	return file, nil
}

func (s *stubRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := s.files[id]; !ok {
		return audio.ErrNotFound
	}
	delete(s.files, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubRepo) DeleteOrphaned(ctx context.Context, siteID string) (int64, error) {
	return s.removed, nil
}

func multipartUpload(t *testing.T, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestUploadAcceptsWav(t *testing.T) {
	repo := &stubRepo{}
	handler, err := NewHandler(repo, "site-001")
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	body, contentType := multipartUpload(t, "chime.wav", []byte("RIFFdata"))
	request := httptest.NewRequest(http.MethodPost, "/audio/upload", body)
	request.Header.Set("Content-Type", contentType)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", recorder.Code, recorder.Body.String())
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved %d files, want 1", len(repo.saved))
	}
	file := repo.saved[0]
	if file.SiteID != "site-001" || file.Filename != "chime.wav" || file.MimeType != "audio/wav" {
		t.Fatalf("unexpected file: %+v", file)
	}
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	repo := &stubRepo{}
	handler, _ := NewHandler(repo, "site-001")

	body, contentType := multipartUpload(t, "notes.txt", []byte("hello"))
	request := httptest.NewRequest(http.MethodPost, "/audio/upload", body)
	request.Header.Set("Content-Type", contentType)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("saved %d files, want 0", len(repo.saved))
	}
}

func TestDownloadSetsDisposition(t *testing.T) {
	repo := &stubRepo{files: map[int64]*audio.File{
		3: {ID: 3, SiteID: "site-001", Filename: "chime.mp3", MimeType: "audio/mpeg", Data: []byte("ID3data")},
	}}
	handler, _ := NewHandler(repo, "site-001")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/audio/3", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Disposition"); got != `attachment; filename="chime.mp3"` {
		t.Fatalf("disposition = %q", got)
	}
	if !bytes.Equal(recorder.Body.Bytes(), []byte("ID3data")) {
		t.Fatal("payload mismatch")
	}
}

func TestDownloadUnknownID(t *testing.T) {
	handler, _ := NewHandler(&stubRepo{files: map[int64]*audio.File{}}, "site-001")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/audio/99", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	repo := &stubRepo{files: map[int64]*audio.File{
		5: {ID: 5, Filename: "chime.wav"},
	}}
	handler, _ := NewHandler(repo, "site-001")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/audio/5", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", recorder.Code, recorder.Body.String())
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != 5 {
		t.Fatalf("deleted = %v", repo.deleted)
	}
}

func TestListRejectsBadLimit(t *testing.T) {
	handler, _ := NewHandler(&stubRepo{}, "site-001")

	for _, limit := range []string{"0", "501", "x"} {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/audio/list?limit="+limit, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("limit %q: status = %d, want %d", limit, recorder.Code, http.StatusBadRequest)
		}
	}
}
