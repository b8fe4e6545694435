package transform

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/boardsync/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists the operation log in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the operation log at path. Use ":memory:"
// for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open operation log: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			board_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			type TEXT NOT NULL,
			element_id TEXT,
			user_id TEXT,
			timestamp INTEGER,
			parent_version INTEGER,
			data TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create operations table: %w", err)
	}
	_, err = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_operations_board_version
		ON operations(board_id, version)`)
	if err != nil {
		return fmt.Errorf("create operations index: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendOperation(ctx context.Context, op models.Operation) error {
	var data []byte
	if op.Data != nil {
		encoded, err := json.Marshal(op.Data)
		if err != nil {
			return fmt.Errorf("encode operation data: %w", err)
		}
		data = encoded
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO operations
			(id, board_id, version, type, element_id, user_id, timestamp, parent_version, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.BoardID, op.Version, string(op.Type), op.ElementID,
		op.UserID, op.Timestamp, op.ParentVersion, data,
	)
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListOperations(ctx context.Context, boardID string, sinceVersion int64) ([]models.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, version, type, element_id, user_id, timestamp, parent_version, data
		FROM operations
		WHERE board_id = ? AND version > ?
		ORDER BY version ASC`,
		boardID, sinceVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []models.Operation
	for rows.Next() {
		var (
			op        models.Operation
			opType    string
			elementID sql.NullString
			userID    sql.NullString
			data      []byte
		)
		if err := rows.Scan(&op.ID, &op.BoardID, &op.Version, &opType, &elementID,
			&userID, &op.Timestamp, &op.ParentVersion, &data); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Type = models.OperationType(opType)
		op.ElementID = elementID.String
		op.UserID = userID.String
		if len(data) > 0 {
			if err := json.Unmarshal(data, &op.Data); err != nil {
				return nil, fmt.Errorf("decode operation data: %w", err)
			}
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestVersion(ctx context.Context, boardID string) (int64, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM operations WHERE board_id = ?`, boardID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}
	return version.Int64, nil
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, boardID string, beforeVersion int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM operations WHERE board_id = ? AND version < ?`,
		boardID, beforeVersion,
	)
	if err != nil {
		return fmt.Errorf("delete operations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
