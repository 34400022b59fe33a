// Package state derives the lifecycle status of a room from its stored
// fields and decides which operations a status admits. Nothing here is
// persisted: the wire format only carries players, ready, board, turn and winner.
package state

import (
	"errors"
	"fmt"
)

// Status is the derived lifecycle position of a room.
type Status int

const (
	StatusEmpty Status = iota
	StatusWaiting
	StatusLobby
	StatusReady
	StatusInProgress
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusWaiting:
		return "waiting"
	case StatusLobby:
		return "lobby"
	case StatusReady:
		return "ready"
	case StatusInProgress:
		return "in_progress"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Snapshot is the read-only view of a room the state machine needs.
type Snapshot interface {
	PlayerCount() int
	AllReady() bool
	MoveCount() int
	HasWinner() bool
}

// Of derives the status of a room.
func Of(s Snapshot) Status {
	switch {
	case s.HasWinner():
		return StatusFinished
	case s.PlayerCount() == 0:
		return StatusEmpty
	case s.PlayerCount() == 1:
		return StatusWaiting
	case s.MoveCount() > 0:
		return StatusInProgress
	case s.AllReady():
		return StatusReady
	default:
		return StatusLobby
	}
}

// Operation names a room-mutating request.
type Operation string

const (
	OpJoin     Operation = "join"
	OpSetReady Operation = "set_ready"
	OpMove     Operation = "move"
)

// ErrTransitionNotAllowed is returned when an operation is not admitted by
// the room's current status.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// transitions lists, per operation, the statuses it may be applied in.
var transitions = map[Operation]map[Status]bool{
	OpJoin: {
		StatusEmpty:   true,
		StatusWaiting: true,
	},
	OpSetReady: {
		StatusWaiting:    true,
		StatusLobby:      true,
		StatusReady:      true,
		StatusInProgress: true,
		StatusFinished:   true,
	},
	OpMove: {
		StatusWaiting:    true,
		StatusLobby:      true,
		StatusReady:      true,
		StatusInProgress: true,
	},
}

// Check returns nil when op may be applied to a room in status from.
func Check(op Operation, from Status) error {
	if transitions[op][from] {
		return nil
	}
	return fmt.Errorf("%w: %s in %s", ErrTransitionNotAllowed, op, from)
}
