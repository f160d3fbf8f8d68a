package core

// Observer receives lifecycle counters from the registry.
// Calls may happen with a room lock held and must not call back into the registry.
type Observer interface {
	RoomOpened()
	// RoomClosed is called once per room; expired is false on shutdown.
	RoomClosed(expired bool)
	MemberJoined()
	MemberLeft(n int)
	JoinRejected(code string)
	ChatRelayed()
}

type nopObserver struct{}

func (nopObserver) RoomOpened()         {}
func (nopObserver) RoomClosed(bool)     {}
func (nopObserver) MemberJoined()       {}
func (nopObserver) MemberLeft(int)      {}
func (nopObserver) JoinRejected(string) {}
func (nopObserver) ChatRelayed()        {}
