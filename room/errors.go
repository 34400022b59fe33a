package room

import "errors"

// Kind classifies a rejected operation. The HTTP layer maps kinds to status codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindInvalidState
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Error is a rejection that is safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrMissingPlayer = &Error{KindInvalidInput, "Missing player in request"}
	ErrMissingRoomID = &Error{KindInvalidInput, "Missing room_id in request"}
	ErrMissingColumn = &Error{KindInvalidInput, "Missing or invalid col in request"}

	ErrRoomNotFound        = &Error{KindNotFound, "Room not found"}
	ErrRoomFull            = &Error{KindInvalidInput, "Room already full"}
	ErrPlayerAlreadyInRoom = &Error{KindInvalidInput, "Player already in room"}
	ErrInvalidRoomOrPlayer = &Error{KindInvalidInput, "Invalid room or player"}
	ErrPlayerNotInRoom     = &Error{KindInvalidInput, "Player not in room"}
	ErrInvalidColumn       = &Error{KindInvalidInput, "Invalid column"}
	ErrColumnFull          = &Error{KindInvalidInput, "Column full"}

	ErrGameOver    = &Error{KindInvalidState, "Game over"}
	ErrNotYourTurn = &Error{KindInvalidState, "Not your turn"}

	ErrStoreUnavailable = &Error{KindUnavailable, "Redis not available"}
)

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
