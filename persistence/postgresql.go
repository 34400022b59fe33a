// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq" // PostgreSQL 驱动

	"github.com/kitokato77/cnc4-gs2/models"
)

// PostgreSQL is the database/sql archive on lib/pq.
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(dsn string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables creates game_records with the same shape GORM migrates.
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS game_records (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            deleted_at TIMESTAMPTZ,
            room_id TEXT NOT NULL,
            players JSONB NOT NULL,
            winner TEXT NOT NULL,
            moves BIGINT NOT NULL,
            board JSONB NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE UNIQUE INDEX IF NOT EXISTS idx_game_records_room_id ON game_records(room_id);
        CREATE INDEX IF NOT EXISTS idx_game_records_winner ON game_records(winner);
        CREATE INDEX IF NOT EXISTS idx_game_records_finished_at ON game_records(finished_at);
    `)
	return err
}

func (p *PostgreSQL) SaveGameRecord(ctx context.Context, rec *models.GameRecord) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return err
	}
	board, err := json.Marshal(rec.Board)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO game_records (room_id, players, winner, moves, board, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (room_id) DO NOTHING
    `
	_, err = p.db.ExecContext(ctx, query, rec.RoomID, string(players), rec.Winner, rec.Moves, string(board), rec.FinishedAt)
	return err
}

func (p *PostgreSQL) LoadGameRecord(ctx context.Context, roomID string) (*models.GameRecord, error) {
	var (
		rec     models.GameRecord
		players []byte
		board   []byte
	)
	query := `SELECT room_id, players, winner, moves, board, finished_at FROM game_records WHERE room_id = $1`
	err := p.db.QueryRowContext(ctx, query, roomID).
		Scan(&rec.RoomID, &players, &rec.Winner, &rec.Moves, &board, &rec.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(players, &rec.Players); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(board, &rec.Board); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
