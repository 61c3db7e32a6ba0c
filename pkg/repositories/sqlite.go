package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deckmate/tablesync/pkg/game/types"
)

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database file and applies
// every migration in the migrations directory, in name order.
func NewSQLiteRepository(ctx context.Context, path string, migrations string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	dir, err := os.ReadDir(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", migrationPath, err)
		}

		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %w", migrationPath, err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) LoadSnapshot(ctx context.Context, sessionID string) (*types.GameState, error) {
	var blob []byte
	q := `SELECT state FROM snapshots WHERE session_id = ?;`
	if err := r.db.QueryRowContext(ctx, q, sessionID).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, sessionID string, state *types.GameState) error {
	blob, err := state.Canonical()
	if err != nil {
		return err
	}

	q := `
	INSERT OR REPLACE INTO snapshots (session_id, version, game_type, state, updated_at)
	VALUES (?, ?, ?, ?, strftime('%s', 'now'));
	`
	if _, err := r.db.ExecContext(ctx, q, sessionID, state.Version, state.GameType, blob); err != nil {
		return fmt.Errorf("failed to save snapshot for session %s: %w", sessionID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteSnapshot(ctx context.Context, sessionID string) error {
	q := `DELETE FROM snapshots WHERE session_id = ?;`
	if _, err := r.db.ExecContext(ctx, q, sessionID); err != nil {
		return fmt.Errorf("failed to delete snapshot for session %s: %w", sessionID, err)
	}
	return nil
}
