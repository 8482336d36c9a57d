package http

import (
	"database/sql"
	"net/http"
)

// HealthHandler serves GET /healthz. Health means the ledger answers a
// round-trip query, not just that the process is up.
type HealthHandler struct {
	db *sql.DB
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.db == nil {
		http.Error(w, "database unavailable", http.StatusInternalServerError)
		return
	}
	var one int
	if err := h.db.QueryRowContext(r.Context(), "SELECT 1").Scan(&one); err != nil {
		http.Error(w, "database unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
