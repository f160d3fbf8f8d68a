package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/vovakirdan/burnroom/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", applySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *SQLiteStore, room, file string, size int64) *store.Upload {
	t.Helper()

	u := &store.Upload{RoomID: room, FileName: file, Original: "a.png", Mime: "image/png", Size: size, Uploader: "Alice"}
	if err := s.SaveUpload(context.Background(), u); err != nil {
		t.Fatalf("save %s: %v", file, err)
	}
	return u
}

func TestSaveAndGetUpload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := seed(t, s, "r1", "r1_1_aa.png", 100)
	if u.ID == 0 || u.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at to be filled, got %+v", u)
	}

	got, err := s.GetUpload(ctx, "r1_1_aa.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RoomID != "r1" || got.Size != 100 || got.Uploader != "Alice" {
		t.Fatalf("unexpected upload: %+v", got)
	}

	if _, err := s.GetUpload(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveUpload_DuplicateFileName(t *testing.T) {
	s := newTestStore(t)

	seed(t, s, "r1", "same.png", 1)
	err := s.SaveUpload(context.Background(), &store.Upload{RoomID: "r1", FileName: "same.png", Size: 1})
	if err == nil {
		t.Fatal("expected unique constraint error")
	}
}

func TestUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed(t, s, "r1", "r1_1_aa.png", 100)
	seed(t, s, "r1", "r1_2_bb.png", 50)
	seed(t, s, "r2", "r2_1_cc.png", 7)

	tests := []struct {
		room string
		want int64
	}{
		{"r1", 150},
		{"r2", 7},
		{"none", 0},
	}
	for _, tt := range tests {
		got, err := s.RoomUsage(ctx, tt.room)
		if err != nil {
			t.Fatalf("room usage %s: %v", tt.room, err)
		}
		if got != tt.want {
			t.Errorf("room %s: expected %d, got %d", tt.room, tt.want, got)
		}
	}

	total, err := s.TotalUsage(ctx)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 157 {
		t.Errorf("expected total 157, got %d", total)
	}

	byRoom, err := s.UsageByRoom(ctx)
	if err != nil {
		t.Fatalf("by room: %v", err)
	}
	want := []store.RoomUsage{{RoomID: "r1", Bytes: 150, Files: 2}, {RoomID: "r2", Bytes: 7, Files: 1}}
	if len(byRoom) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(byRoom))
	}
	for i := range want {
		if byRoom[i] != want[i] {
			t.Errorf("row %d: expected %+v, got %+v", i, want[i], byRoom[i])
		}
	}
}

func TestDeleteRoomUploads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed(t, s, "r1", "r1_1_aa.png", 100)
	seed(t, s, "r1", "r1_2_bb.png", 50)
	seed(t, s, "r2", "r2_1_cc.png", 7)

	removed, err := s.DeleteRoomUploads(ctx, "r1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(removed) != 2 || removed[0].FileName != "r1_1_aa.png" || removed[1].FileName != "r1_2_bb.png" {
		t.Fatalf("unexpected removed rows: %+v", removed)
	}

	if usage, _ := s.RoomUsage(ctx, "r1"); usage != 0 {
		t.Errorf("expected r1 empty, got %d", usage)
	}
	if usage, _ := s.RoomUsage(ctx, "r2"); usage != 7 {
		t.Errorf("expected r2 untouched, got %d", usage)
	}
}

func TestDeleteUpload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed(t, s, "r1", "r1_1_aa.png", 100)
	if err := s.DeleteUpload(ctx, "r1_1_aa.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteUpload(ctx, "r1_1_aa.png"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.GetUpload(ctx, "r1_1_aa.png"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
