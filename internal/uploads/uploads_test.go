package uploads

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/burnroom/internal/store/sqlite"
)

type liveRooms struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (l *liveRooms) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids[id]
}

type byteCounter struct {
	mu    sync.Mutex
	bytes int64
}

func (b *byteCounter) UploadStored(n int64) {
	b.mu.Lock()
	b.bytes += n
	b.mu.Unlock()
}

func newTestManager(t *testing.T, limits Limits, live ...string) (*Manager, *liveRooms) {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(sqlite.Schema)
		return err
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rooms := &liveRooms{ids: make(map[string]bool)}
	for _, id := range live {
		rooms.ids[id] = true
	}
	m, err := New(t.TempDir(), limits, st, rooms)
	require.NoError(t, err)
	return m, rooms
}

func save(t *testing.T, m *Manager, room, body, original string) string {
	t.Helper()

	ctx := context.Background()
	res, err := m.Admit(ctx, room, int64(len(body)))
	require.NoError(t, err)
	u, err := m.Save(ctx, res, strings.NewReader(body), FileInfo{Original: original, Mime: "image/png", Uploader: "Alice"})
	require.NoError(t, err)
	return u.FileName
}

func TestSave_WritesFileAndLedger(t *testing.T) {
	counter := &byteCounter{}
	m, _ := newTestManager(t, Limits{}, "r_1")
	WithObserver(counter)(m)

	name := save(t, m, "r_1", "hello", "Cat.PNG")
	assert.True(t, strings.HasPrefix(name, "r_1_"))
	assert.True(t, strings.HasSuffix(name, ".png"))
	assert.Equal(t, "r_1", RoomOf(name))

	data, err := os.ReadFile(filepath.Join(m.Dir(), name))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	require.Len(t, stats.Rooms, 1)
	assert.Equal(t, "r_1", stats.Rooms[0].RoomID)
	assert.Equal(t, "5 B", stats.Rooms[0].Formatted)
	assert.Equal(t, int64(5), counter.bytes)
}

func TestSave_ExtensionFromMime(t *testing.T) {
	m, _ := newTestManager(t, Limits{}, "r1")

	name := save(t, m, "r1", "x", "no-extension")
	assert.NotEqual(t, "", filepath.Ext(name))

	name = save(t, m, "r1", "x", "evil.p/h?p")
	assert.Equal(t, "r1", RoomOf(name))
}

func TestSave_BodyLargerThanReservation(t *testing.T) {
	m, _ := newTestManager(t, Limits{}, "r1")
	ctx := context.Background()

	res, err := m.Admit(ctx, "r1", 3)
	require.NoError(t, err)
	_, err = m.Save(ctx, res, strings.NewReader("too long"), FileInfo{Original: "a.txt"})
	require.ErrorIs(t, err, ErrFileTooLarge)

	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdmit_Quotas(t *testing.T) {
	m, _ := newTestManager(t, Limits{MaxFileSize: 10, MaxRoomStorage: 12, MaxTotalStorage: 21}, "r1", "r2")
	ctx := context.Background()

	_, err := m.Admit(ctx, "r1", 0)
	require.ErrorIs(t, err, ErrEmptyFile)
	_, err = m.Admit(ctx, "r1", 11)
	require.ErrorIs(t, err, ErrFileTooLarge)

	save(t, m, "r1", strings.Repeat("a", 10), "a.bin")
	_, err = m.Admit(ctx, "r1", 6)
	require.ErrorIs(t, err, ErrRoomQuota)

	// r2 stays within its own quota but the server total would reach 22.
	save(t, m, "r2", strings.Repeat("b", 10), "b.bin")
	_, err = m.Admit(ctx, "r2", 2)
	require.ErrorIs(t, err, ErrTotalQuota)

	res, err := m.Admit(ctx, "r2", 1)
	require.NoError(t, err)
	res.Release()
	res.Release()
}

func TestAdmit_PendingCountsAgainstQuota(t *testing.T) {
	m, _ := newTestManager(t, Limits{MaxRoomStorage: 10}, "r1")
	ctx := context.Background()

	first, err := m.Admit(ctx, "r1", 8)
	require.NoError(t, err)
	_, err = m.Admit(ctx, "r1", 8)
	require.ErrorIs(t, err, ErrRoomQuota)

	first.Release()
	_, err = m.Admit(ctx, "r1", 8)
	require.NoError(t, err)
}

func TestCleanupRoom(t *testing.T) {
	m, _ := newTestManager(t, Limits{}, "r1", "r1_x")

	a := save(t, m, "r1", "aaa", "a.png")
	b := save(t, m, "r1_x", "bbb", "b.png")
	stray := "r1_1700000000000_deadbeef.png"
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), stray), []byte("s"), 0o644))

	require.NoError(t, m.CleanupRoom(context.Background(), "r1"))

	assert.NoFileExists(t, filepath.Join(m.Dir(), a))
	assert.NoFileExists(t, filepath.Join(m.Dir(), stray))
	assert.FileExists(t, filepath.Join(m.Dir(), b))

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.Rooms, 1)
	assert.Equal(t, "r1_x", stats.Rooms[0].RoomID)
}

func TestCleanupOrphans(t *testing.T) {
	m, rooms := newTestManager(t, Limits{}, "live", "dead", "young")

	live := save(t, m, "live", "l", "l.png")
	dead := save(t, m, "dead", "d", "d.png")
	young := save(t, m, "young", "y", "y.png")
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "README"), []byte("keep"), 0o644))

	old := time.Now().Add(-48 * time.Hour)
	for _, name := range []string{live, dead} {
		require.NoError(t, os.Chtimes(filepath.Join(m.Dir(), name), old, old))
	}

	rooms.mu.Lock()
	rooms.ids = map[string]bool{"live": true}
	rooms.mu.Unlock()

	n, err := m.CleanupOrphans(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.FileExists(t, filepath.Join(m.Dir(), live))
	assert.NoFileExists(t, filepath.Join(m.Dir(), dead))
	assert.FileExists(t, filepath.Join(m.Dir(), young))
	assert.FileExists(t, filepath.Join(m.Dir(), "README"))

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(stats.Rooms))
	for _, r := range stats.Rooms {
		ids = append(ids, r.RoomID)
	}
	assert.Equal(t, []string{"live", "young"}, ids)
}

func TestRoomOf(t *testing.T) {
	cases := map[string]string{
		"lobby_1700000000000_ab12cd34.png": "lobby",
		"my_room_1700000000000_ab12.jpg":   "my_room",
		"a_b_c_1_x":                        "a_b_c",
		"plain.png":                        "",
		"room_notnumber_ab.png":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, RoomOf(in), in)
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(0))
	assert.Equal(t, "1.0 KiB", FormatSize(1024))
	assert.Equal(t, "200 MiB", FormatSize(200<<20))
	assert.Equal(t, "0 B", FormatSize(-1))
}
