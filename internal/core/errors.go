package core

import (
	"errors"
	"fmt"
)

// Error codes reported to clients.
const (
	ErrCodeInvalidRoomID   = "invalid_room_id"
	ErrCodeInvalidName     = "invalid_name"
	ErrCodeInvalidPassword = "invalid_password"
	ErrCodeBadDuration     = "bad_duration"
	ErrCodeExpired         = "expired"
	ErrCodeWrongPassword   = "wrong_password"
	ErrCodeDuplicateName   = "duplicate_name"
	ErrCodeDuplicateDevice = "duplicate_device"
	ErrCodeRenamed         = "renamed"
	ErrCodeInternal        = "internal_error"
	ErrCodeRateLimited     = "rate_limited"
)

var (
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room not found")
	ErrBadDuration  = errors.New("duration out of bounds")
	ErrNotMember    = errors.New("not a room member")
)

// CloseCode is the transport close status attached to a rejection or eviction.
type CloseCode int

const (
	CloseGoingAway       CloseCode = 1001
	CloseClientError     CloseCode = 4000
	CloseExpired         CloseCode = 4001
	CloseKicked          CloseCode = 4002
	CloseDuplicateName   CloseCode = 4003
	CloseDuplicateDevice CloseCode = 4004
	CloseRenamed         CloseCode = 4005
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// JoinError is returned when a connection is not admitted to a room.
// Close is the status the transport must close the connection with.
type JoinError struct {
	CoreError
	Close  CloseCode
	Reason string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join rejected: %s: %s", e.Code, e.Message)
}

// Silent reports whether the client should only see the close frame.
// A rename is carried by the existing connection, so nothing is reported.
func (e *JoinError) Silent() bool {
	return e.Code == ErrCodeRenamed
}

func joinError(code, msg string, closeCode CloseCode, reason string) *JoinError {
	return &JoinError{
		CoreError: CoreError{Code: code, Message: msg},
		Close:     closeCode,
		Reason:    reason,
	}
}

// InternalJoinError is used by the transport when admission fails unexpectedly.
func InternalJoinError() *JoinError {
	return joinError(ErrCodeInternal, "internal server error", CloseClientError, "internal error")
}
