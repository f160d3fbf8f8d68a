package core

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testSettings() Settings {
	s := DefaultSettings()
	s.PasswordCost = bcrypt.MinCost
	return s
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(epoch)
	reg := NewRegistry(testSettings(), append([]Option{WithClock(mock)}, opts...)...)
	t.Cleanup(reg.Shutdown)
	return reg, mock
}

// lazyClock reports mock time but schedules timers on a clock that never
// advances, so only lazy checks can observe elapsed time.
type lazyClock struct {
	*clock.Mock
	timers *clock.Mock
}

func (l lazyClock) AfterFunc(d time.Duration, f func()) *clock.Timer {
	return l.timers.AfterFunc(d, f)
}

func newLazyRegistry(t *testing.T) (*Registry, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(epoch)
	reg := NewRegistry(testSettings(), WithClock(lazyClock{Mock: mock, timers: clock.NewMock()}))
	t.Cleanup(reg.Shutdown)
	return reg, mock
}

func mustJoin(t *testing.T, reg *Registry, req JoinRequest) *Connection {
	t.Helper()

	c, err := reg.Join(req)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func mustReject(t *testing.T, reg *Registry, req JoinRequest, code string) *JoinError {
	t.Helper()

	c, err := reg.Join(req)
	require.Nil(t, c)
	var je *JoinError
	require.ErrorAs(t, err, &je)
	require.Equal(t, code, je.Code)
	return je
}

// createRoom admits Alice as the creator of room r1 and drains her welcome events.
func createRoom(t *testing.T, reg *Registry) *Connection {
	t.Helper()

	alice := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Alice", DurationMinutes: 5})
	drain(alice)
	return alice
}

func mustEvent(t *testing.T, c *Connection, kind EventKind) *Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return nil
		}
	}
}

// mustSystem skips events until a system notice with exactly text arrives.
func mustSystem(t *testing.T, c *Connection, text string) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == EventSystem && ev.Text == text {
				return
			}
		case <-deadline:
			t.Fatalf("system notice %q not received", text)
		}
	}
}

func nextEvent(t *testing.T, c *Connection) *Event {
	t.Helper()

	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

// drain returns everything queued for c without blocking.
func drain(c *Connection) []*Event {
	var out []*Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(evs []*Event) []EventKind {
	out := make([]EventKind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}

func rosterNames(ev *Event) []string {
	names := make([]string, 0, len(ev.Members))
	for _, m := range ev.Members {
		names = append(names, m.Name)
	}
	return names
}

func waitClosed(t *testing.T, c *Connection) Closure {
	t.Helper()

	select {
	case <-c.Done():
		return c.Closure()
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
		return Closure{}
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	opened   int
	expired  int
	joined   int
	left     int
	rejected map[string]int
	chats    int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{rejected: make(map[string]int)}
}

func (o *recordingObserver) RoomOpened() { o.mu.Lock(); o.opened++; o.mu.Unlock() }
func (o *recordingObserver) RoomClosed(expired bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if expired {
		o.expired++
	}
}
func (o *recordingObserver) MemberJoined()   { o.mu.Lock(); o.joined++; o.mu.Unlock() }
func (o *recordingObserver) MemberLeft(n int) { o.mu.Lock(); o.left += n; o.mu.Unlock() }
func (o *recordingObserver) JoinRejected(code string) {
	o.mu.Lock()
	o.rejected[code]++
	o.mu.Unlock()
}
func (o *recordingObserver) ChatRelayed() { o.mu.Lock(); o.chats++; o.mu.Unlock() }

type fakeTickets struct{}

func (fakeTickets) Issue(roomID, connID string, _ time.Time) (string, error) {
	return roomID + ":" + connID, nil
}
