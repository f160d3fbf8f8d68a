package uploads

import (
	"context"
	"fmt"
	"os"
	"time"
)

// CleanupRoom deletes every file and ledger row of a room.
func (m *Manager) CleanupRoom(ctx context.Context, roomID string) error {
	removed, err := m.store.DeleteRoomUploads(ctx, roomID)
	if err != nil {
		return fmt.Errorf("purge ledger: %w", err)
	}
	for _, u := range removed {
		m.remove(u.FileName)
	}

	// Files written before a crash may be missing from the ledger.
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read upload dir: %w", err)
	}
	n := len(removed)
	for _, e := range entries {
		if e.IsDir() || RoomOf(e.Name()) != roomID {
			continue
		}
		m.remove(e.Name())
		n++
	}

	if n > 0 {
		m.log.Info().Str("room", roomID).Int("files", n).Msg("room uploads purged")
	}
	return nil
}

// CleanupOrphans deletes files of rooms that no longer exist once they are
// older than maxAge, together with their ledger rows. It returns how many
// files were deleted.
func (m *Manager) CleanupOrphans(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}

	now := m.clock.Now()
	remaining := make(map[string]bool)
	deleted := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		room := RoomOf(e.Name())
		if room == "" || m.rooms.Has(room) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			remaining[room] = true
			continue
		}

		m.remove(e.Name())
		if err := m.store.DeleteUpload(ctx, e.Name()); err != nil {
			m.log.Warn().Err(err).Str("path", e.Name()).Msg("delete ledger row")
		}
		deleted++
	}

	// Ledger rows of dead rooms whose files are already gone.
	usage, err := m.store.UsageByRoom(ctx)
	if err != nil {
		return deleted, err
	}
	for _, u := range usage {
		if m.rooms.Has(u.RoomID) || remaining[u.RoomID] {
			continue
		}
		if _, err := m.store.DeleteRoomUploads(ctx, u.RoomID); err != nil {
			return deleted, err
		}
	}

	if deleted > 0 {
		m.log.Info().Int("files", deleted).Msg("orphan uploads removed")
	}
	return deleted, nil
}

// RunSweeper calls CleanupOrphans every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CleanupOrphans(ctx, maxAge); err != nil {
				m.log.Warn().Err(err).Msg("orphan sweep failed")
			}
		}
	}
}
