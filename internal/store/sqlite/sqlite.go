package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/burnroom/internal/store"
)

// Schema is the upload ledger. It is applied on open and is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id     TEXT NOT NULL,
	file_name   TEXT NOT NULL UNIQUE,
	original    TEXT NOT NULL DEFAULT '',
	mime        TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL,
	uploader    TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_uploads_room ON uploads (room_id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies Schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, applySchema)
}

// NewWithSetup opens the database and runs a setup function.
// Useful for tests to seed data on an in-memory database.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func applySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveUpload records a stored file.
func (s *SQLiteStore) SaveUpload(ctx context.Context, u *store.Upload) error {
	query := `
		INSERT INTO uploads (room_id, file_name, original, mime, size, uploader)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, u.RoomID, u.FileName, u.Original, u.Mime, u.Size, u.Uploader)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	saved, err := s.getUploadByID(ctx, id)
	if err != nil {
		return err
	}
	*u = *saved
	return nil
}

const uploadColumns = `id, room_id, file_name, original, mime, size, uploader, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*store.Upload, error) {
	var u store.Upload
	if err := row.Scan(&u.ID, &u.RoomID, &u.FileName, &u.Original, &u.Mime, &u.Size, &u.Uploader, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) getUploadByID(ctx context.Context, id int64) (*store.Upload, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	u, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upload %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query upload: %w", err)
	}
	return u, nil
}

// GetUpload retrieves a ledger row by stored file name.
func (s *SQLiteStore) GetUpload(ctx context.Context, fileName string) (*store.Upload, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE file_name = ?`, fileName)
	u, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upload %s: %w", fileName, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query upload: %w", err)
	}
	return u, nil
}

// DeleteUpload removes a ledger row. Deleting a missing row is not an error.
func (s *SQLiteStore) DeleteUpload(ctx context.Context, fileName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE file_name = ?`, fileName); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

// DeleteRoomUploads removes every ledger row of a room.
func (s *SQLiteStore) DeleteRoomUploads(ctx context.Context, roomID string) ([]*store.Upload, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query room uploads: %w", err)
	}
	var uploads []*store.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE room_id = ?`, roomID); err != nil {
		return nil, fmt.Errorf("delete room uploads: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return uploads, nil
}

// RoomUsage returns the accounted bytes of one room.
func (s *SQLiteStore) RoomUsage(ctx context.Context, roomID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM uploads WHERE room_id = ?`, roomID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("room usage: %w", err)
	}
	return total, nil
}

// TotalUsage returns the accounted bytes of all rooms.
func (s *SQLiteStore) TotalUsage(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM uploads`).Scan(&total); err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// UsageByRoom returns per-room totals ordered by room id.
func (s *SQLiteStore) UsageByRoom(ctx context.Context) ([]store.RoomUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, SUM(size), COUNT(*)
		FROM uploads
		GROUP BY room_id
		ORDER BY room_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var usage []store.RoomUsage
	for rows.Next() {
		var u store.RoomUsage
		if err := rows.Scan(&u.RoomID, &u.Bytes, &u.Files); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
