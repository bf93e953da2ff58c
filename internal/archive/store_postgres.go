package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schemaGames = `CREATE TABLE IF NOT EXISTS relay_games (
    game_id       TEXT PRIMARY KEY,
    white_id      TEXT NOT NULL,
    black_id      TEXT NOT NULL,
    room_code     TEXT,
    state         TEXT NOT NULL,
    result        TEXT,
    result_method TEXT,
    moves_uci     JSONB NOT NULL,
    moves_san     JSONB NOT NULL,
    final_fen     TEXT NOT NULL,
    pgn           TEXT NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    ended_at      TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL
)`

const upsertGame = `INSERT INTO relay_games (
    game_id, white_id, black_id, room_code, state,
    result, result_method, moves_uci, moves_san, final_fen, pgn,
    started_at, ended_at, duration_ms
  ) VALUES (
    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
  ) ON CONFLICT (game_id) DO UPDATE SET
    state=EXCLUDED.state,
    result=EXCLUDED.result,
    result_method=EXCLUDED.result_method,
    moves_uci=EXCLUDED.moves_uci,
    moves_san=EXCLUDED.moves_san,
    final_fen=EXCLUDED.final_fen,
    pgn=EXCLUDED.pgn,
    ended_at=EXCLUDED.ended_at,
    duration_ms=EXCLUDED.duration_ms`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaGames)
	return err
}

// Save upserts the record keyed by game id.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	movesUCI, _ := json.Marshal(nonNil(rec.MovesUCI))
	movesSAN, _ := json.Marshal(nonNil(rec.MovesSAN))
	_, err := s.db.ExecContext(ctx, upsertGame,
		rec.GameID, rec.WhiteID, rec.BlackID, nullable(rec.RoomCode), rec.State,
		nullable(rec.Result), nullable(rec.Method), string(movesUCI), string(movesSAN), rec.FinalFEN, PGN(rec),
		rec.StartedAt, rec.EndedAt, rec.Duration().Milliseconds(),
	)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullable(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
