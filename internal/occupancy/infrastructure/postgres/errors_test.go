package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	occupancy "zone-tracker/internal/occupancy/domain"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_open_visit_per_device"}
	wrapped := fmt.Errorf("insert open visit: %w", pgErr)

	if !IsUniqueViolation(wrapped) {
		t.Fatalf("expected unique violation")
	}
	if !IsUniqueViolation(wrapped, "uq_open_visit_per_device") {
		t.Fatalf("expected constraint match")
	}
	if IsUniqueViolation(wrapped, "some_other_constraint") {
		t.Fatalf("unexpected constraint match")
	}
	if IsUniqueViolation(errors.New("plain error")) {
		t.Fatalf("plain error must not match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation must not match")
	}
}

func TestMapConstraintError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_open_visit_per_device"}
	mapped := mapConstraintError(fmt.Errorf("insert: %w", pgErr))
	if !errors.Is(mapped, occupancy.ErrVisitAlreadyOpen) {
		t.Fatalf("expected ErrVisitAlreadyOpen, got %v", mapped)
	}

	other := errors.New("connection reset")
	if mapConstraintError(other) != other {
		t.Fatalf("unrelated errors must pass through")
	}
}
