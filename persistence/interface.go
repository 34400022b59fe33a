// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/kitokato77/cnc4-gs2/models"
	"github.com/kitokato77/cnc4-gs2/room"
)

// RoomStore is the single source of truth for room documents. Every
// successful read or write refreshes the room's time-to-live.
type RoomStore interface {
	// Get loads a room. A missing or expired room yields ErrRoomNotFound.
	Get(ctx context.Context, id string) (*room.Room, error)
	// Create stores a new room and fails with ErrRoomExists if the id is taken.
	Create(ctx context.Context, r *room.Room) error
	// Update runs one optimistic read-modify-write cycle. mutate receives a
	// fresh copy of the room; an error from it aborts the write and is
	// returned unchanged. If another writer committed in between, nothing is
	// written and ErrConflict is returned.
	Update(ctx context.Context, id string, mutate func(*room.Room) error) (*room.Room, error)
	// ScanWaiting lazily yields ids of live rooms with fewer than two players.
	ScanWaiting(ctx context.Context) iter.Seq2[string, error]
	// Count returns the number of live rooms.
	Count(ctx context.Context) (int, error)
}

// Archive keeps finished games after their rooms expire.
type Archive interface {
	SaveGameRecord(ctx context.Context, rec *models.GameRecord) error
	Close() error
}

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrConflict     = errors.New("room modified concurrently")
	ErrUnavailable  = errors.New("store unavailable")
)

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// KeyPrefix namespaces room documents in the key-value store.
const KeyPrefix = "room:"

// Key returns the store key of a room.
func Key(id string) string {
	return KeyPrefix + id
}
