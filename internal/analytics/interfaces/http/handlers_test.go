package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	analyticsrepo "zone-tracker/internal/analytics/infrastructure/postgres"
	application "zone-tracker/internal/occupancy/application"
)

func TestParseDevicePath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/device/tag-001/history", "tag-001"},
		{"/device/tag-001/history/extra", ""},
		{"/device/tag-001", ""},
		{"/device//history", ""},
		{"/metrics/most-visited", ""},
	}
	for _, tc := range cases {
		if got := parseDevicePath(tc.path); got != tc.want {
			t.Errorf("parseDevicePath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestDeviceHistoryHandlerRejectsBadLimit(t *testing.T) {
	handler, err := NewDeviceHistoryHandler(analyticsrepo.NewQuery(nil), application.Config{DefaultSiteID: "site-001"}, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	for _, limit := range []string{"0", "2001", "-5", "abc"} {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/device/tag-001/history?limit="+limit, nil)
		handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("limit %q: status = %d, want %d", limit, recorder.Code, http.StatusBadRequest)
		}
	}
}

func TestDeviceHistoryHandlerRejectsNonGet(t *testing.T) {
	handler, err := NewDeviceHistoryHandler(analyticsrepo.NewQuery(nil), application.Config{DefaultSiteID: "site-001"}, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/device/tag-001/history", nil)
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusMethodNotAllowed)
	}
}

func TestMostVisitedHandlerRejectsBadHours(t *testing.T) {
	handler, err := NewMostVisitedHandler(analyticsrepo.NewQuery(nil), "site-001")
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	for _, hours := range []string{"0", "721", "x"} {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/metrics/most-visited?hours="+hours, nil)
		handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("hours %q: status = %d, want %d", hours, recorder.Code, http.StatusBadRequest)
		}
	}
}

func TestTransitionsHandlerRejectsBadLimit(t *testing.T) {
	handler, err := NewTransitionsHandler(analyticsrepo.NewQuery(nil), "site-001")
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	for _, limit := range []string{"0", "501"} {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/metrics/transitions?limit="+limit, nil)
		handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("limit %q: status = %d, want %d", limit, recorder.Code, http.StatusBadRequest)
		}
	}
}

func TestExportHandlerRejectsBadHours(t *testing.T) {
	handler, err := NewExportHandler(analyticsrepo.NewQuery(nil), "site-001")
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/exports/most-visited.csv?hours=0", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/exports/unknown.csv", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestNewHandlersRejectNilQuery(t *testing.T) {
	if _, err := NewDeviceHistoryHandler(nil, application.Config{}, nil); err == nil {
		t.Fatal("expected error for nil query")
	}
	if _, err := NewMostVisitedHandler(nil, "site-001"); err == nil {
		t.Fatal("expected error for nil query")
	}
	if _, err := NewTransitionsHandler(nil, "site-001"); err == nil {
		t.Fatal("expected error for nil query")
	}
}
