package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a ledger row does not exist.
var ErrNotFound = errors.New("not found")

// Upload is one stored file accounted against a room.
type Upload struct {
	ID        int64
	RoomID    string
	FileName  string
	Original  string
	Mime      string
	Size      int64
	Uploader  string
	CreatedAt time.Time
}

// RoomUsage is the accounted size of one room.
type RoomUsage struct {
	RoomID string
	Bytes  int64
	Files  int
}

// UploadStore handles upload ledger persistence.
type UploadStore interface {
	// SaveUpload records a stored file and fills in ID and CreatedAt.
	SaveUpload(ctx context.Context, u *Upload) error

	// GetUpload retrieves a ledger row by stored file name.
	GetUpload(ctx context.Context, fileName string) (*Upload, error)

	// DeleteUpload removes a ledger row by stored file name.
	DeleteUpload(ctx context.Context, fileName string) error

	// DeleteRoomUploads removes every row of a room and returns what was removed.
	DeleteRoomUploads(ctx context.Context, roomID string) ([]*Upload, error)

	// RoomUsage returns the accounted bytes of one room.
	RoomUsage(ctx context.Context, roomID string) (int64, error)

	// TotalUsage returns the accounted bytes of all rooms.
	TotalUsage(ctx context.Context) (int64, error)

	// UsageByRoom returns per-room totals ordered by room id.
	UsageByRoom(ctx context.Context) ([]RoomUsage, error)
}

// Store combines all store interfaces.
type Store interface {
	UploadStore
	Close() error
}
