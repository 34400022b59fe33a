// broadcast/broadcast.go
package broadcast

import (
	"context"
	"time"

	"github.com/kitokato77/cnc4-gs2/room"
)

// EventType names what happened to a room.
type EventType string

const (
	EventRoomCreated  EventType = "room_created"
	EventPlayerJoined EventType = "player_joined"
	EventPlayerReady  EventType = "player_ready"
	EventMove         EventType = "move"
	EventGameOver     EventType = "game_over"
	// EventSnapshot is the first frame of a feed and carries the current room.
	EventSnapshot EventType = "snapshot"
)

// Event is pushed to a room's subscribers after a committed change.
type Event struct {
	Type   EventType       `json:"type"`
	RoomID string          `json:"room_id"`
	Room   *room.Room      `json:"room"`
	Move   *room.Placement `json:"move,omitempty"`
	At     time.Time       `json:"at"`
}

// NewEvent stamps an event for r.
func NewEvent(typ EventType, r *room.Room) Event {
	return Event{Type: typ, RoomID: r.ID, Room: r, At: time.Now().UTC()}
}

// Broadcaster fans room events out to every subscriber of that room,
// across server processes when the backend allows it.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, roomID string) (Subscription, error)
}

// Subscription delivers events for one room until closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// subscriberBuffer is the per-subscriber queue length. Slow subscribers
// lose events rather than stall publishers.
const subscriberBuffer = 16

// Channel returns the pub/sub channel of a room.
func Channel(roomID string) string {
	return "room:" + roomID + ":events"
}
