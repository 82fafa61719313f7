package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// EnqueueOperation records a change made while the cloud was unreachable.
// A later operation for the same key replaces the earlier one.
func (s *Store) EnqueueOperation(ctx context.Context, op schema.SyncOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.QueuedAt.IsZero() {
		op.QueuedAt = s.now()
	}
	if err := op.Validate(); err != nil {
		return err
	}

	var data sql.NullString
	if len(op.Data) > 0 {
		data = sql.NullString{String: string(op.Data), Valid: true}
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_queue (key, id, type, data, queued_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		id = excluded.id,
		type = CASE
			WHEN sync_queue.type = 'create' AND excluded.type = 'update' THEN 'create'
			ELSE excluded.type
		END,
		data = excluded.data,
		queued_at = excluded.queued_at
	`, op.Key, op.ID, string(op.Type), data, formatTime(op.QueuedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s %s: %w", op.Type, op.Key, err)
	}
	return nil
}

// PendingOperations returns the queued operations, oldest first.
func (s *Store) PendingOperations(ctx context.Context) ([]schema.SyncOperation, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT key, id, type, data, queued_at FROM sync_queue ORDER BY queued_at ASC, key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	defer rows.Close()

	var ops []schema.SyncOperation
	for rows.Next() {
		var op schema.SyncOperation
		var typ, queuedAt string
		var data sql.NullString
		if err := rows.Scan(&op.Key, &op.ID, &typ, &data, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Type = schema.OperationType(typ)
		op.QueuedAt = parseTime(queuedAt)
		if data.Valid {
			op.Data = []byte(data.String)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

// RemoveOperation drops a queued operation once it has been replayed. The id
// guards against removing a newer operation queued for the same key.
func (s *Store) RemoveOperation(ctx context.Context, key, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE key = ? AND id = ?`, key, id); err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", key, err)
	}
	return nil
}

// CountPendingOperations returns the size of the offline queue.
func (s *Store) CountPendingOperations(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return n, nil
}

// ClearQueue discards every queued operation.
func (s *Store) ClearQueue(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}
