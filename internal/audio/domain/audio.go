package audio

import (
	"context"
	"errors"
	"time"
)

// File is a stored announcement clip. Data is only populated on download.
type File struct {
	ID          int64
	SiteID      string
	Filename    string
	Size        int64
	MimeType    string
	Data        []byte
	UploadedAt  time.Time
	UploadedBy  string
	Description string
}

// ErrNotFound is returned when the requested audio file does not exist.
var ErrNotFound = errors.New("audio file not found")

// Repository manages audio file persistence.
type Repository interface {
	Save(ctx context.Context, file *File) error
	List(ctx context.Context, siteID string, limit int) ([]File, error)
	Get(ctx context.Context, id int64) (*File, error)
	Delete(ctx context.Context, id int64) error
	DeleteOrphaned(ctx context.Context, siteID string) (int64, error)
}
