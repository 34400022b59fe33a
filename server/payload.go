package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"

	"github.com/kitokato77/cnc4-gs2/room"
)

const maxBodyBytes = 64 << 10

// payload is a loosely parsed request body. Each handler states which
// fields it requires and of which type.
type payload map[string]json.RawMessage

// readPayload parses the body as a JSON object. Anything else counts as {}.
func readPayload(r *http.Request) payload {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return payload{}
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil || p == nil {
		return payload{}
	}
	return p
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// str returns a non-empty string field.
func (p payload) str(key string) (string, bool) {
	raw, ok := p[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// integer returns an integral number field. 3.5, "3" and true are rejected.
func (p payload) integer(key string) (int, bool) {
	raw, ok := p[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// --- request schemas ---

type playerRequest struct {
	Player string
}

type roomRequest struct {
	Player string
	RoomID string
}

type moveRequest struct {
	Player string
	RoomID string
	Col    int
}

func (p payload) playerRequest() (playerRequest, error) {
	player, ok := p.str("player")
	if !ok {
		return playerRequest{}, room.ErrMissingPlayer
	}
	return playerRequest{Player: player}, nil
}

func (p payload) roomRequest() (roomRequest, error) {
	pr, err := p.playerRequest()
	if err != nil {
		return roomRequest{}, err
	}
	id, ok := p.str("room_id")
	if !ok {
		return roomRequest{}, room.ErrMissingRoomID
	}
	return roomRequest{Player: pr.Player, RoomID: id}, nil
}

func (p payload) moveRequest() (moveRequest, error) {
	rr, err := p.roomRequest()
	if err != nil {
		return moveRequest{}, err
	}
	col, ok := p.integer("col")
	if !ok {
		return moveRequest{}, room.ErrMissingColumn
	}
	return moveRequest{Player: rr.Player, RoomID: rr.RoomID, Col: col}, nil
}
