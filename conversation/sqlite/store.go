// Package sqlite persists conversation checkpoints in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/archiq/assistant/conversation"
	"github.com/archiq/assistant/types"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultLimit       = 50
)

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp conversation.Checkpoint) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if cp.Seq < 0 {
		return fmt.Errorf("seq must be >= 0")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	stateRaw, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}
	var pendingRaw []byte
	if len(cp.PendingCalls) > 0 {
		pendingRaw, err = json.Marshal(cp.PendingCalls)
		if err != nil {
			return fmt.Errorf("failed to marshal pending calls: %w", err)
		}
	}

	const q = `
INSERT INTO checkpoints (checkpoint_id, thread_id, seq, node_id, next_node, pending_calls, state, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = s.db.ExecContext(ctx, q,
		cp.ID, cp.ThreadID, cp.Seq, cp.NodeID, cp.NextNode,
		nullIfEmpty(pendingRaw), string(stateRaw),
		cp.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return conversation.ErrConflict
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadLatestCheckpoint(ctx context.Context, threadID string) (conversation.Checkpoint, error) {
	if threadID == "" {
		return conversation.Checkpoint{}, fmt.Errorf("thread_id is required")
	}

	const q = `
SELECT checkpoint_id, thread_id, seq, node_id, next_node, pending_calls, state, created_at
FROM checkpoints
WHERE thread_id = ?
ORDER BY seq DESC
LIMIT 1;
`
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, q, threadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Checkpoint{}, conversation.ErrNotFound
		}
		return conversation.Checkpoint{}, err
	}
	return cp, nil
}

func (s *Store) ListCheckpoints(ctx context.Context, threadID string, limit int) ([]conversation.Checkpoint, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	const q = `
SELECT checkpoint_id, thread_id, seq, node_id, next_node, pending_calls, state, created_at
FROM checkpoints
WHERE thread_id = ?
ORDER BY seq DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]conversation.Checkpoint, 0, limit)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return out, nil
}

func (s *Store) PurgeThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE thread_id = ?;", threadID); err != nil {
		return fmt.Errorf("failed to purge thread: %w", err)
	}
	return nil
}

func (s *Store) PruneSuperseded(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	const q = `
DELETE FROM checkpoints
WHERE (thread_id, seq) IN (
  SELECT thread_id, seq FROM (
    SELECT thread_id, seq,
           ROW_NUMBER() OVER (PARTITION BY thread_id ORDER BY seq DESC) AS rn
    FROM checkpoints
  ) WHERE rn > ?
);
`
	res, err := s.db.ExecContext(ctx, q, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	return int(n), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (conversation.Checkpoint, error) {
	var (
		cp         conversation.Checkpoint
		pendingRaw sql.NullString
		stateRaw   string
		createdRaw string
	)
	if err := row.Scan(
		&cp.ID, &cp.ThreadID, &cp.Seq, &cp.NodeID, &cp.NextNode,
		&pendingRaw, &stateRaw, &createdRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Checkpoint{}, err
		}
		return conversation.Checkpoint{}, fmt.Errorf("failed to scan checkpoint row: %w", err)
	}
	if err := json.Unmarshal([]byte(stateRaw), &cp.State); err != nil {
		return conversation.Checkpoint{}, fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	if pendingRaw.Valid && strings.TrimSpace(pendingRaw.String) != "" {
		var calls []types.ToolCall
		if err := json.Unmarshal([]byte(pendingRaw.String), &calls); err != nil {
			return conversation.Checkpoint{}, fmt.Errorf("failed to decode pending calls: %w", err)
		}
		cp.PendingCalls = calls
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return conversation.Checkpoint{}, fmt.Errorf("failed to parse checkpoint created_at: %w", err)
	}
	cp.CreatedAt = created.UTC()
	return cp, nil
}

func nullIfEmpty(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
