package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	audio "zone-tracker/internal/audio/domain"
)

const (
	defaultAudioTable      = "audio_files"
	defaultAudioZonesTable = "zones"
)

// Repository is a Postgres implementation for audio file storage. Clips are
// kept as bytea rows; deletion clears zone references in the same
// transaction so zones never point at a missing clip.
type Repository struct {
	db         *sql.DB
	table      string
	zonesTable string
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB, opts ...Option) *Repository {
	repo := &Repository{db: db, table: defaultAudioTable, zonesTable: defaultAudioZonesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Option configures the repository.
type Option func(*Repository)

// WithAudioTable overrides the default table names.
func WithAudioTable(table, zonesTable string) Option {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
		if zonesTable != "" {
			repo.zonesTable = zonesTable
		}
	}
}

// Save inserts a new audio file and fills in its generated id and upload
// time.
func (r *Repository) Save(ctx context.Context, file *audio.File) error {
	if r == nil || r.db == nil {
		return errors.New("audio repo: nil db")
	}
	if file == nil {
		return errors.New("audio repo: nil file")
	}
	if file.SiteID == "" || file.Filename == "" || len(file.Data) == 0 {
		return errors.New("audio repo: site id, filename and data are required")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (site_id, filename, file_size, mime_type, file_data, uploaded_by, description)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, uploaded_at`, r.table)

	err := r.db.QueryRowContext(ctx, query,
		file.SiteID,
		file.Filename,
		int64(len(file.Data)),
		file.MimeType,
		file.Data,
		nullString(file.UploadedBy),
		nullString(file.Description),
	).Scan(&file.ID, &file.UploadedAt)
	if err != nil {
		return err
	}
	file.Size = int64(len(file.Data))
	file.UploadedAt = file.UploadedAt.UTC()
	return nil
}

// List returns file metadata for a site, newest first, without payloads.
func (r *Repository) List(ctx context.Context, siteID string, limit int) ([]audio.File, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audio repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, filename, file_size, mime_type, uploaded_at, COALESCE(uploaded_by, ''), COALESCE(description, '')
FROM %s
WHERE site_id = $1
ORDER BY uploaded_at DESC
LIMIT $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []audio.File
	for rows.Next() {
		var file audio.File
		if err := rows.Scan(&file.ID, &file.SiteID, &file.Filename, &file.Size, &file.MimeType,
			&file.UploadedAt, &file.UploadedBy, &file.Description); err != nil {
			return nil, err
		}
		file.UploadedAt = file.UploadedAt.UTC()
		files = append(files, file)
	}
	return files, rows.Err()
}

// Get loads one file including its payload.
func (r *Repository) Get(ctx context.Context, id int64) (*audio.File, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audio repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, filename, file_size, mime_type, file_data, uploaded_at, COALESCE(uploaded_by, ''), COALESCE(description, '')
FROM %s
WHERE id = $1`, r.table)

	var file audio.File
	err := r.db.QueryRowContext(ctx, query, id).Scan(&file.ID, &file.SiteID, &file.Filename,
		&file.Size, &file.MimeType, &file.Data, &file.UploadedAt, &file.UploadedBy, &file.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audio.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	file.UploadedAt = file.UploadedAt.UTC()
	return &file, nil
}

// Delete removes a file and clears any zone referencing it in the same
// transaction.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return errors.New("audio repo: nil db")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	clear := fmt.Sprintf(`UPDATE %s SET audio_id = NULL WHERE audio_id = $1`, r.zonesTable)
	if _, err := tx.ExecContext(ctx, clear, id); err != nil {
		return err
	}

	del := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table)
	res, err := tx.ExecContext(ctx, del, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return audio.ErrNotFound
	}
	return tx.Commit()
}

// DeleteOrphaned removes files of a site that no zone references and
// returns how many were deleted.
func (r *Repository) DeleteOrphaned(ctx context.Context, siteID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("audio repo: nil db")
	}

	query := fmt.Sprintf(`
DELETE FROM %s a
WHERE a.site_id = $1
AND NOT EXISTS (SELECT 1 FROM %s z WHERE z.audio_id = a.id)`, r.table, r.zonesTable)

	res, err := r.db.ExecContext(ctx, query, siteID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
