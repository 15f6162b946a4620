package relay

import "errors"

// Coordination errors surfaced to clients as `error` events. Storage
// failures are deliberately not in this list: they reach the client as a
// generic failure without leaking driver detail.
var (
	ErrDuplicateAddress = errors.New("another connection from this address is already active")
	ErrRoomNotFound     = errors.New("room does not exist")
	ErrRoomFull         = errors.New("room is full")
	ErrNotInRoom        = errors.New("you are not a member of this room")
	ErrValidation       = errors.New("invalid request")
)

// Eviction reasons carried in session_conflict notices
const (
	reasonDeviceSuperseded = "superseded by another tab/window"
	reasonUserSuperseded   = "session opened on another device"
)
