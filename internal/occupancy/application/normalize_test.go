package application

import (
	"errors"
	"testing"

	occupancy "zone-tracker/internal/occupancy/domain"
)

func TestNormalizeEventPayloadWins(t *testing.T) {
	payload := []byte(`{"siteId":"site-9","deviceId":"dev-9","zoneId":"zone-9"}`)
	event, err := NormalizeEvent(payload, "site/site-1/device/dev-1/location", "site-001")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := occupancy.LocationEvent{SiteID: "site-9", DeviceID: "dev-9", ZoneID: "zone-9"}
	if event != want {
		t.Fatalf("expected %+v, got %+v", want, event)
	}
}

func TestNormalizeEventSnakeCaseAccepted(t *testing.T) {
	payload := []byte(`{"site_id":"site-2","device_id":"dev-2","zone_id":"zone-2"}`)
	event, err := NormalizeEvent(payload, "not/a/location/topic", "site-001")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.SiteID != "site-2" || event.DeviceID != "dev-2" || event.ZoneID != "zone-2" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestNormalizeEventTopicFallback(t *testing.T) {
	payload := []byte(`{"zoneId":"zone-3"}`)
	event, err := NormalizeEvent(payload, "site/site-3/device/dev-3/location", "site-001")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.SiteID != "site-3" {
		t.Fatalf("expected topic site, got %q", event.SiteID)
	}
	if event.DeviceID != "dev-3" {
		t.Fatalf("expected topic device, got %q", event.DeviceID)
	}
}

func TestNormalizeEventDefaultSite(t *testing.T) {
	payload := []byte(`{"deviceId":"dev-4","zoneId":"zone-4"}`)
	event, err := NormalizeEvent(payload, "unrelated", "site-001")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.SiteID != "site-001" {
		t.Fatalf("expected default site, got %q", event.SiteID)
	}
}

func TestNormalizeEventMissingIdentifiers(t *testing.T) {
	event, err := NormalizeEvent([]byte(`{"foo":"bar"}`), "x/y", "site-001")
	if !errors.Is(err, occupancy.ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v (%+v)", err, event)
	}
}

func TestNormalizeEventMissingZone(t *testing.T) {
	_, err := NormalizeEvent([]byte(`{}`), "site/site-5/device/dev-5/location", "site-001")
	if !errors.Is(err, occupancy.ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
}

func TestNormalizeEventInvalidJSON(t *testing.T) {
	_, err := NormalizeEvent([]byte(`{not json`), "site/site-6/device/dev-6/location", "site-001")
	if !errors.Is(err, occupancy.ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
}
