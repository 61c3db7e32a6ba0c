package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/deckmate/tablesync/pkg/game/types"
)

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository connects to Postgres and ensures the snapshots
// table exists. The caller is responsible for calling Close().
func NewPostgresRepository(ctx context.Context, connStr string) (Repository, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	q := `
	CREATE TABLE IF NOT EXISTS snapshots (
		session_id TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		game_type TEXT NOT NULL,
		state JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	if _, err := conn.Exec(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}

	return &PostgresRepository{conn: conn}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) LoadSnapshot(ctx context.Context, sessionID string) (*types.GameState, error) {
	var blob []byte
	q := `SELECT state FROM snapshots WHERE session_id = $1;`
	if err := r.conn.QueryRow(ctx, q, sessionID).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	state := &types.GameState{}
	if err := json.Unmarshal(blob, state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for session %s: %w", sessionID, err)
	}
	return state, nil
}

func (r *PostgresRepository) SaveSnapshot(ctx context.Context, sessionID string, state *types.GameState) error {
	blob, err := state.Canonical()
	if err != nil {
		return err
	}

	q := `
	INSERT INTO snapshots (session_id, version, game_type, state, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (session_id) DO UPDATE SET version = $2, game_type = $3, state = $4, updated_at = now();
	`
	if _, err := r.conn.Exec(ctx, q, sessionID, state.Version, state.GameType, blob); err != nil {
		return fmt.Errorf("failed to save snapshot for session %s: %w", sessionID, err)
	}
	return nil
}

func (r *PostgresRepository) DeleteSnapshot(ctx context.Context, sessionID string) error {
	q := `DELETE FROM snapshots WHERE session_id = $1;`
	if _, err := r.conn.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("failed to delete snapshot for session %s: %w", sessionID, err)
	}
	return nil
}
