package application

import (
	"context"
	"errors"
	"testing"
	"time"

	occupancy "zone-tracker/internal/occupancy/domain"
)

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

type fakeTx struct {
	openVisit *occupancy.Visit
	insertErr error

	devices []string
	zones   []string
	calls   []string
}

func (tx *fakeTx) UpsertDevice(_ context.Context, siteID, deviceID string, _ time.Time) error {
	tx.devices = append(tx.devices, siteID+"/"+deviceID)
	tx.calls = append(tx.calls, "upsert_device")
	return nil
}

func (tx *fakeTx) EnsureZone(_ context.Context, siteID, zoneID string) error {
	tx.zones = append(tx.zones, siteID+"/"+zoneID)
	tx.calls = append(tx.calls, "ensure_zone")
	return nil
}

func (tx *fakeTx) GetOpenVisitForUpdate(_ context.Context, _, _ string) (*occupancy.Visit, error) {
	tx.calls = append(tx.calls, "get_open")
	return tx.openVisit, nil
}

func (tx *fakeTx) InsertOpenVisit(_ context.Context, _, _, zoneID string, _ time.Time) error {
	tx.calls = append(tx.calls, "insert_open:"+zoneID)
	return tx.insertErr
}

func (tx *fakeTx) CloseVisit(_ context.Context, _ string, visitID int64, _ time.Time) error {
	tx.calls = append(tx.calls, "close")
	_ = visitID
	return nil
}

type fakeLedger struct {
	txs  []*fakeTx
	next int
}

func (l *fakeLedger) WithinTx(_ context.Context, fn func(tx occupancy.LedgerTx) error) error {
	if l.next >= len(l.txs) {
		return errors.New("fake ledger: no transaction scripted")
	}
	tx := l.txs[l.next]
	l.next++
	return fn(tx)
}

func newService(t *testing.T, ledger occupancy.Ledger) *TrackerService {
	t.Helper()
	service, err := NewTrackerService(ledger, fixedClock{at: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("new tracker service: %v", err)
	}
	return service
}

func TestProcessEventFirstVisit(t *testing.T) {
	tx := &fakeTx{}
	ledger := &fakeLedger{txs: []*fakeTx{tx}}
	service := newService(t, ledger)

	event := occupancy.LocationEvent{SiteID: "site-001", DeviceID: "dev-1", ZoneID: "zone-a"}
	if err := service.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("process event: %v", err)
	}

	want := []string{"upsert_device", "ensure_zone", "get_open", "insert_open:zone-a"}
	assertCalls(t, tx.calls, want)
}

func TestProcessEventSameZoneNoop(t *testing.T) {
	tx := &fakeTx{openVisit: &occupancy.Visit{ID: 7, ZoneID: "zone-a"}}
	ledger := &fakeLedger{txs: []*fakeTx{tx}}
	service := newService(t, ledger)

	event := occupancy.LocationEvent{SiteID: "site-001", DeviceID: "dev-1", ZoneID: "zone-a"}
	if err := service.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("process event: %v", err)
	}

	want := []string{"upsert_device", "ensure_zone", "get_open"}
	assertCalls(t, tx.calls, want)
}

func TestProcessEventZoneChange(t *testing.T) {
	tx := &fakeTx{openVisit: &occupancy.Visit{ID: 7, ZoneID: "zone-a"}}
	ledger := &fakeLedger{txs: []*fakeTx{tx}}
	service := newService(t, ledger)

	event := occupancy.LocationEvent{SiteID: "site-001", DeviceID: "dev-1", ZoneID: "zone-b"}
	if err := service.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("process event: %v", err)
	}

	want := []string{"upsert_device", "ensure_zone", "get_open", "close", "insert_open:zone-b"}
	assertCalls(t, tx.calls, want)
}

func TestProcessEventCreationRaceSameZone(t *testing.T) {
	losing := &fakeTx{insertErr: occupancy.ErrVisitAlreadyOpen}
	retry := &fakeTx{openVisit: &occupancy.Visit{ID: 9, ZoneID: "zone-a"}}
	ledger := &fakeLedger{txs: []*fakeTx{losing, retry}}
	service := newService(t, ledger)

	event := occupancy.LocationEvent{SiteID: "site-001", DeviceID: "dev-1", ZoneID: "zone-a"}
	if err := service.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("process event: %v", err)
	}

	assertCalls(t, retry.calls, []string{"upsert_device", "ensure_zone", "get_open"})
}

func TestProcessEventCreationRaceZoneChange(t *testing.T) {
	losing := &fakeTx{insertErr: occupancy.ErrVisitAlreadyOpen}
	retry := &fakeTx{openVisit: &occupancy.Visit{ID: 9, ZoneID: "zone-b"}}
	ledger := &fakeLedger{txs: []*fakeTx{losing, retry}}
	service := newService(t, ledger)

	event := occupancy.LocationEvent{SiteID: "site-001", DeviceID: "dev-1", ZoneID: "zone-a"}
	if err := service.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("process event: %v", err)
	}

	assertCalls(t, retry.calls, []string{"upsert_device", "ensure_zone", "get_open", "close", "insert_open:zone-a"})
}

func TestProcessEventRetryExhausted(t *testing.T) {
	losing := &fakeTx{insertErr: occupancy.ErrVisitAlreadyOpen}
	retry := &fakeTx{}
	ledger := &fakeLedger{txs: []*fakeTx{losing, retry}}
	service := newService(t, ledger)

	event := occupancy.LocationEvent{SiteID: "site-001", DeviceID: "dev-1", ZoneID: "zone-a"}
	err := service.ProcessEvent(context.Background(), event)
	if !errors.Is(err, occupancy.ErrOpenVisitMissing) {
		t.Fatalf("expected open visit missing error, got %v", err)
	}
	if ledger.next != 2 {
		t.Fatalf("expected exactly one retry, ran %d transactions", ledger.next)
	}
}

func TestProcessEventMalformed(t *testing.T) {
	ledger := &fakeLedger{}
	service := newService(t, ledger)

	err := service.ProcessEvent(context.Background(), occupancy.LocationEvent{SiteID: "site-001"})
	if !errors.Is(err, occupancy.ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
	if ledger.next != 0 {
		t.Fatalf("malformed event must not touch the ledger")
	}
}

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, got)
		}
	}
}
