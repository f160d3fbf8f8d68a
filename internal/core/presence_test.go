package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longRoom(t *testing.T, reg *Registry) *Connection {
	t.Helper()

	alice := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Alice", DurationHours: 2})
	drain(alice)
	return alice
}

func TestLeave_WithoutDeviceIsImmediate(t *testing.T) {
	obs := newRecordingObserver()
	reg, _ := newTestRegistry(t, WithObserver(obs))

	alice := longRoom(t, reg)
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob"})
	drain(alice)

	reg.Leave(bob)

	evs := drain(alice)
	require.Equal(t, []EventKind{EventSystem, EventMembers}, kinds(evs))
	assert.Equal(t, "Bob left the room", evs[0].Text)
	assert.Equal(t, []string{"Alice"}, rosterNames(evs[1]))

	obs.mu.Lock()
	assert.Equal(t, 1, obs.left)
	obs.mu.Unlock()
}

func TestLeave_WithDeviceBecomesGhost(t *testing.T) {
	reg, _ := newTestRegistry(t)

	alice := longRoom(t, reg)
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", Color: "#123456", DeviceID: "d1"})
	drain(alice)

	reg.Leave(bob)
	assert.Empty(t, drain(alice), "a ghost departure is silent")
	assert.True(t, reg.IsGhostActive("r1", "d1"))

	room, _ := reg.GetRoom("r1")
	assert.Equal(t, 1, room.MemberCount())

	reg.BroadcastMembers("r1")
	ev := mustEvent(t, alice, EventMembers)
	assert.Equal(t, []MemberView{{Name: "Alice", Color: "#2f80ed"}, {Name: "Bob", Color: "#123456"}}, ev.Members)
}

func TestLeave_GhostCleanupAnnouncesDeparture(t *testing.T) {
	reg, mock := newTestRegistry(t)

	alice := longRoom(t, reg)
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", DeviceID: "d1"})
	reg.Leave(bob)
	drain(alice)

	// Within grace plus slack nothing happens.
	mock.Add(30 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, drain(alice))

	mock.Add(time.Second)
	mustSystem(t, alice, "Bob left the room")
	ev := mustEvent(t, alice, EventMembers)
	assert.Equal(t, []string{"Alice"}, rosterNames(ev))
	assert.False(t, reg.IsGhostActive("r1", "d1"))
}

func TestLeave_ReconnectCancelsPendingCleanup(t *testing.T) {
	reg, mock := newTestRegistry(t)

	alice := longRoom(t, reg)
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", DeviceID: "d1"})
	reg.Leave(bob)

	mock.Add(20 * time.Minute)
	bob = mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", DeviceID: "d1"})
	reg.Leave(bob)
	drain(alice)

	// The first departure's cleanup would fire here; it was replaced.
	mock.Add(11 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, drain(alice))
	assert.True(t, reg.IsGhostActive("r1", "d1"))

	mock.Add(20 * time.Minute)
	mustSystem(t, alice, "Bob left the room")
}

func TestLeave_AfterKickIsNoop(t *testing.T) {
	reg, _ := newTestRegistry(t)

	alice := longRoom(t, reg)
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", DeviceID: "d1"})
	require.NoError(t, reg.Submit(alice, ChatInput{Text: "/kick @Bob"}))
	drain(alice)

	reg.Leave(bob)
	assert.Empty(t, drain(alice))
	assert.False(t, reg.IsGhostActive("r1", "d1"))
}

func TestLeave_Twice(t *testing.T) {
	reg, _ := newTestRegistry(t)

	alice := longRoom(t, reg)
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob"})
	reg.Leave(bob)
	drain(alice)

	reg.Leave(bob)
	assert.Empty(t, drain(alice))
}

func TestIsGhostActive_StaleGhostIsPurged(t *testing.T) {
	reg, mock := newLazyRegistry(t)

	alice := longRoom(t, reg)
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", DeviceID: "d1"})
	reg.Leave(bob)
	drain(alice)

	mock.Add(30 * time.Minute)
	assert.True(t, reg.IsGhostActive("r1", "d1"), "exactly at the grace boundary the ghost is still active")

	mock.Add(time.Millisecond)
	reg.BroadcastMembers("r1")
	ev := mustEvent(t, alice, EventMembers)
	assert.Equal(t, []string{"Alice"}, rosterNames(ev))

	room, _ := reg.GetRoom("r1")
	room.mu.Lock()
	assert.Empty(t, room.ghosts)
	room.mu.Unlock()
	assert.False(t, reg.IsGhostActive("r1", "d1"))
}

func TestBroadcastMembers_LiveOverridesGhost(t *testing.T) {
	reg, _ := newTestRegistry(t)

	alice := longRoom(t, reg)
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", DeviceID: "d1"})
	reg.Leave(bob)
	drain(alice)

	// Another device takes the departed name.
	mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", DeviceID: "d2"})
	ev := mustEvent(t, alice, EventMembers)
	assert.Equal(t, []string{"Alice", "Bob"}, rosterNames(ev))
}

func TestBroadcastMembers_GhostsInDepartureOrder(t *testing.T) {
	reg, mock := newTestRegistry(t)

	alice := longRoom(t, reg)
	carol := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Carol", DeviceID: "zz"})
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", DeviceID: "aa"})

	reg.Leave(carol)
	mock.Add(time.Second)
	reg.Leave(bob)
	drain(alice)

	reg.BroadcastMembers("r1")
	ev := mustEvent(t, alice, EventMembers)
	assert.Equal(t, []string{"Alice", "Carol", "Bob"}, rosterNames(ev))
}

func TestRenameWithoutDuplicateEntries(t *testing.T) {
	reg, _ := newTestRegistry(t)

	alice := longRoom(t, reg)
	bob := mustJoin(t, reg, JoinRequest{RoomID: "r1", Name: "Bob", DeviceID: "d1"})
	drain(alice)

	mustReject(t, reg, JoinRequest{RoomID: "r1", Name: "Bobby", DeviceID: "d1"}, ErrCodeRenamed)
	ev := mustEvent(t, alice, EventMembers)
	assert.Equal(t, []string{"Alice", "Bobby"}, rosterNames(ev))

	// A later departure ghosts the new name.
	reg.Leave(bob)
	reg.BroadcastMembers("r1")
	ev = mustEvent(t, alice, EventMembers)
	assert.Equal(t, []string{"Alice", "Bobby"}, rosterNames(ev))
}
