// Package uploads stores files shared in rooms and accounts them against quotas.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/burnroom/internal/store"
	"github.com/vovakirdan/burnroom/internal/utils"
)

var (
	ErrFileTooLarge = errors.New("file exceeds the per-file limit")
	ErrRoomQuota    = errors.New("room storage quota exceeded")
	ErrTotalQuota   = errors.New("server storage quota exceeded")
	ErrEmptyFile    = errors.New("empty file")
)

// Limits are byte quotas. Zero or negative disables a limit.
type Limits struct {
	MaxFileSize     int64
	MaxRoomStorage  int64
	MaxTotalStorage int64
}

// RoomChecker reports whether a room is still registered.
type RoomChecker interface {
	Has(roomID string) bool
}

// Observer is told about every stored file.
type Observer interface {
	UploadStored(bytes int64)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the manager logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithObserver attaches an upload counter.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// Manager owns the upload directory and its ledger.
type Manager struct {
	dir      string
	limits   Limits
	store    store.UploadStore
	rooms    RoomChecker
	clock    clock.Clock
	log      *zerolog.Logger
	observer Observer

	mu           sync.Mutex
	pending      map[string]int64
	pendingTotal int64
}

// New creates the upload directory when missing.
func New(dir string, limits Limits, st store.UploadStore, rooms RoomChecker, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	nop := zerolog.Nop()
	m := &Manager{
		dir:     dir,
		limits:  limits,
		store:   st,
		rooms:   rooms,
		clock:   clock.New(),
		log:     &nop,
		pending: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir is the directory stored files are served from.
func (m *Manager) Dir() string {
	return m.dir
}

// Limits returns the configured quotas.
func (m *Manager) Limits() Limits {
	return m.limits
}

// FormatSize renders a byte count for people.
func FormatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// Reservation holds quota for an upload in flight.
type Reservation struct {
	m      *Manager
	RoomID string
	Size   int64
	once   sync.Once
}

// Release returns the reserved bytes. It is safe to call more than once.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.m.mu.Lock()
		defer r.m.mu.Unlock()
		r.m.pending[r.RoomID] -= r.Size
		if r.m.pending[r.RoomID] <= 0 {
			delete(r.m.pending, r.RoomID)
		}
		r.m.pendingTotal -= r.Size
	})
}

// Admit checks the per-file, per-room and global quotas for size bytes and
// reserves them until the reservation is released.
func (m *Manager) Admit(ctx context.Context, roomID string, size int64) (*Reservation, error) {
	if size <= 0 {
		return nil, ErrEmptyFile
	}
	if over(m.limits.MaxFileSize, 0, size) {
		return nil, ErrFileTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	roomUsed, err := m.store.RoomUsage(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if over(m.limits.MaxRoomStorage, roomUsed+m.pending[roomID], size) {
		return nil, ErrRoomQuota
	}
	total, err := m.store.TotalUsage(ctx)
	if err != nil {
		return nil, err
	}
	if over(m.limits.MaxTotalStorage, total+m.pendingTotal, size) {
		return nil, ErrTotalQuota
	}

	m.pending[roomID] += size
	m.pendingTotal += size
	return &Reservation{m: m, RoomID: roomID, Size: size}, nil
}

func over(limit, used, size int64) bool {
	return limit > 0 && used+size > limit
}

// FileInfo describes an incoming file.
type FileInfo struct {
	Original string
	Mime     string
	Uploader string
}

// Save writes src under a fresh name and records it in the ledger. It never
// writes more than the reserved size. The reservation is released on return.
func (m *Manager) Save(ctx context.Context, res *Reservation, src io.Reader, info FileInfo) (*store.Upload, error) {
	defer res.Release()

	name := m.fileName(res.RoomID, info)
	path := filepath.Join(m.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(src, res.Size+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > res.Size {
		err = ErrFileTooLarge
	}
	if err == nil && written == 0 {
		err = ErrEmptyFile
	}
	if err != nil {
		m.remove(name)
		return nil, err
	}

	u := &store.Upload{
		RoomID:   res.RoomID,
		FileName: name,
		Original: info.Original,
		Mime:     info.Mime,
		Size:     written,
		Uploader: info.Uploader,
	}
	if err := m.store.SaveUpload(ctx, u); err != nil {
		m.remove(name)
		return nil, err
	}

	if m.observer != nil {
		m.observer.UploadStored(written)
	}
	m.log.Info().Str("room", res.RoomID).Str("path", name).Str("size", FormatSize(written)).Msg("upload stored")
	return u, nil
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// fileName is <room>_<unix ms>_<random><ext>.
func (m *Manager) fileName(roomID string, info FileInfo) string {
	ext := strings.ToLower(filepath.Ext(info.Original))
	if !extPattern.MatchString(ext) {
		ext = ""
		if exts, _ := mime.ExtensionsByType(info.Mime); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("%s_%d_%s%s", roomID, m.clock.Now().UnixMilli(), utils.NewToken(4), ext)
}

// RoomOf extracts the room id from a stored file name, or "" when the name
// was not produced by this package. Room ids may contain underscores.
func RoomOf(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return ""
	}
	if _, err := strconv.ParseInt(parts[len(parts)-2], 10, 64); err != nil {
		return ""
	}
	return strings.Join(parts[:len(parts)-2], "_")
}

func (m *Manager) remove(name string) {
	if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn().Err(err).Str("path", name).Msg("remove upload")
	}
}

// RoomStats is the usage of one room.
type RoomStats struct {
	RoomID    string `json:"roomId"`
	Size      int64  `json:"size"`
	Formatted string `json:"formatted"`
}

// Stats is aggregate storage usage.
type Stats struct {
	Total             int64       `json:"total"`
	TotalFormatted    string      `json:"totalFormatted"`
	MaxTotal          int64       `json:"maxTotal"`
	MaxTotalFormatted string      `json:"maxTotalFormatted"`
	Rooms             []RoomStats `json:"rooms"`
}

// Stats reports accounted usage per room and in total.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	usage, err := m.store.UsageByRoom(ctx)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		MaxTotal:          m.limits.MaxTotalStorage,
		MaxTotalFormatted: FormatSize(m.limits.MaxTotalStorage),
		Rooms:             make([]RoomStats, 0, len(usage)),
	}
	for _, u := range usage {
		s.Total += u.Bytes
		s.Rooms = append(s.Rooms, RoomStats{RoomID: u.RoomID, Size: u.Bytes, Formatted: FormatSize(u.Bytes)})
	}
	s.TotalFormatted = FormatSize(s.Total)
	return s, nil
}
