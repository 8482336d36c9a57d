package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// forbiddenKeywords blocks statements that mutate state. The endpoint is a
// diagnostic read surface, not a general SQL console.
var forbiddenKeywords = []string{"drop", "delete", "update", "insert", "alter", "create", "truncate"}

const (
	maxQueryRows   = 1000
	maxQueryLength = 10000
)

// QueryHandler serves POST /query: ad-hoc read-only SQL for diagnostics.
type QueryHandler struct {
	db *sql.DB
}

// NewQueryHandler constructs a QueryHandler.
func NewQueryHandler(db *sql.DB) (*QueryHandler, error) {
	if db == nil {
		return nil, errors.New("query handler: nil db")
	}
	return &QueryHandler{db: db}, nil
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 2*maxQueryLength)
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := validateQuery(req.Query); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := h.db.QueryContext(r.Context(), req.Query)
	if err != nil {
		http.Error(w, "query error: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		if len(results) >= maxQueryRows {
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			http.Error(w, "scan error", http.StatusInternalServerError)
			return
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(queryResponse{
		Columns:  columns,
		Rows:     results,
		RowCount: len(results),
	})
}

func validateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return errors.New("query is required")
	}
	if len(trimmed) > maxQueryLength {
		return errors.New("query exceeds maximum length")
	}
	lowered := strings.ToLower(trimmed)
	if !strings.HasPrefix(lowered, "select") {
		return errors.New("only SELECT statements are allowed")
	}
	for _, keyword := range forbiddenKeywords {
		if containsWord(lowered, keyword) {
			return errors.New("forbidden keyword: " + keyword)
		}
	}
	return nil
}

// containsWord reports whether keyword appears as a standalone SQL word, so
// a column named created_at does not trip the create screen.
func containsWord(query, keyword string) bool {
	offset := 0
	for {
		idx := strings.Index(query[offset:], keyword)
		if idx < 0 {
			return false
		}
		begin := offset + idx
		end := begin + len(keyword)
		beforeOK := begin == 0 || !isWordByte(query[begin-1])
		afterOK := end == len(query) || !isWordByte(query[end])
		if beforeOK && afterOK {
			return true
		}
		offset = begin + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case []byte:
		return string(v)
	default:
		return v
	}
}
