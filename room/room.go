// room/room.go
package room

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kitokato77/cnc4-gs2/state"
)

// MaxPlayers is the seat count of every room.
const MaxPlayers = 2

// Room is the persisted match document. Its JSON form is the value stored
// under room:<id>.
type Room struct {
	ID      string          `json:"id"`
	Players []string        `json:"players"`
	Ready   map[string]bool `json:"ready"`
	Board   Board           `json:"board"`
	Turn    int             `json:"turn"`
	Winner  *string         `json:"winner"`
}

// Placement is where a move landed.
type Placement struct {
	Player string `json:"player"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
}

// New returns a room seeded with its creator.
func New(id, player string) *Room {
	return &Room{
		ID:      id,
		Players: []string{player},
		Ready:   map[string]bool{player: false},
	}
}

// --- state.Snapshot ---

func (r *Room) PlayerCount() int { return len(r.Players) }
func (r *Room) MoveCount() int   { return r.Board.Marks() }
func (r *Room) HasWinner() bool  { return r.Winner != nil }

// AllReady reports whether both seats are taken and every player is ready.
func (r *Room) AllReady() bool {
	if len(r.Players) != MaxPlayers {
		return false
	}
	for _, p := range r.Players {
		if !r.Ready[p] {
			return false
		}
	}
	return true
}

// Status returns the derived lifecycle status.
func (r *Room) Status() state.Status {
	return state.Of(r)
}

// Index returns the seat of player, or -1.
func (r *Room) Index(player string) int {
	return slices.Index(r.Players, player)
}

// --- transitions ---

// Join seats player in a room that has exactly one player.
func (r *Room) Join(player string) error {
	if err := state.Check(state.OpJoin, r.Status()); err != nil {
		return ErrRoomFull
	}
	if r.Index(player) >= 0 {
		return ErrPlayerAlreadyInRoom
	}
	r.Players = append(r.Players, player)
	r.Ready[player] = false
	return nil
}

// SetReady marks player ready and reports whether everyone is.
func (r *Room) SetReady(player string) (bool, error) {
	if r.Index(player) < 0 {
		return false, ErrInvalidRoomOrPlayer
	}
	if err := state.Check(state.OpSetReady, r.Status()); err != nil {
		return false, ErrInvalidRoomOrPlayer
	}
	r.Ready[player] = true
	return r.AllReady(), nil
}

// Move drops player's mark into col. On a win the winner is recorded and
// the turn stays put; otherwise the turn passes to the other seat.
func (r *Room) Move(player string, col int) (Placement, error) {
	if err := state.Check(state.OpMove, r.Status()); err != nil {
		return Placement{}, ErrGameOver
	}
	idx := r.Index(player)
	if idx < 0 {
		return Placement{}, ErrPlayerNotInRoom
	}
	if r.Turn != idx {
		return Placement{}, ErrNotYourTurn
	}
	if col < 0 || col >= Columns {
		return Placement{}, ErrInvalidColumn
	}

	row, ok := r.Board.Drop(col, idx+1)
	if !ok {
		return Placement{}, ErrColumnFull
	}
	if r.Board.WinsAt(row, col) {
		winner := player
		r.Winner = &winner
	} else {
		r.Turn = 1 - r.Turn
	}
	return Placement{Player: player, Row: row, Col: col}, nil
}

// --- codec ---

// Encode serializes the room for the store.
func Encode(r *Room) ([]byte, error) {
	return json.Marshal(r)
}

// Decode parses a stored room and checks its invariants.
func Decode(data []byte) (*Room, error) {
	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", r.ID, err)
	}
	if r.Players == nil {
		r.Players = []string{}
	}
	if r.Ready == nil {
		r.Ready = map[string]bool{}
	}
	return &r, nil
}

func (r *Room) validate() error {
	if len(r.Players) > MaxPlayers {
		return fmt.Errorf("%d players", len(r.Players))
	}
	for i, p := range r.Players {
		if p == "" {
			return fmt.Errorf("empty player at seat %d", i)
		}
		if slices.Index(r.Players, p) != i {
			return fmt.Errorf("duplicate player %q", p)
		}
		if _, ok := r.Ready[p]; !ok {
			return fmt.Errorf("no ready entry for %q", p)
		}
	}
	if len(r.Ready) != len(r.Players) {
		return fmt.Errorf("ready has %d entries for %d players", len(r.Ready), len(r.Players))
	}
	if r.Turn != 0 && r.Turn != 1 {
		return fmt.Errorf("turn %d", r.Turn)
	}
	for row := range r.Board {
		for col, v := range r.Board[row] {
			if v != Empty && v != Player1 && v != Player2 {
				return fmt.Errorf("cell (%d,%d) holds %d", row, col, v)
			}
		}
	}
	return nil
}
