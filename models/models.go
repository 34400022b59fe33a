// models/models.go
package models

import (
	"time"
)

// GameRecord is the archived summary of a finished match.
type GameRecord struct {
	RoomID     string    `json:"room_id"`
	Players    []string  `json:"players"`
	Winner     string    `json:"winner"`
	Moves      int       `json:"moves"`
	Board      [][]int   `json:"board"`
	FinishedAt time.Time `json:"finished_at"`
}
