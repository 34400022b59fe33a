// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormGameRecord is the GORM mapping of GameRecord.
type GormGameRecord struct {
	gorm.Model
	RoomID     string    `gorm:"uniqueIndex;not null"`
	Players    []string  `gorm:"serializer:json;type:jsonb;not null"`
	Winner     string    `gorm:"index;not null"`
	Moves      int       `gorm:"not null"`
	Board      [][]int   `gorm:"serializer:json;type:jsonb;not null"`
	FinishedAt time.Time `gorm:"index;not null"`
}

func (GormGameRecord) TableName() string {
	return "game_records"
}

// NewGormGameRecord converts an archive record to its table row.
func NewGormGameRecord(rec *GameRecord) *GormGameRecord {
	return &GormGameRecord{
		RoomID:     rec.RoomID,
		Players:    rec.Players,
		Winner:     rec.Winner,
		Moves:      rec.Moves,
		Board:      rec.Board,
		FinishedAt: rec.FinishedAt,
	}
}

// Record converts the row back to an archive record.
func (g *GormGameRecord) Record() *GameRecord {
	return &GameRecord{
		RoomID:     g.RoomID,
		Players:    g.Players,
		Winner:     g.Winner,
		Moves:      g.Moves,
		Board:      g.Board,
		FinishedAt: g.FinishedAt,
	}
}
