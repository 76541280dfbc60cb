package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tg-guard/lock"
)

func (s *Store) GetLock(ctx context.Context, chatID int64) (*lock.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rec lock.Record
	var until sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, locked, until, reason, locked_by
		FROM lock_status WHERE chat_id = $1
	`, chatID).Scan(&rec.ChatID, &rec.Locked, &until, &rec.Reason, &rec.LockedBy)
	if noRows(err) {
		return nil, lock.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lock %d: %w", chatID, err)
	}
	rec.Until = nullTimePtr(until)
	return &rec, nil
}

func (s *Store) SaveLock(ctx context.Context, rec lock.Record) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lock_status (chat_id, locked, until, reason, locked_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chat_id) DO UPDATE
		SET locked = EXCLUDED.locked, until = EXCLUDED.until,
			reason = EXCLUDED.reason, locked_by = EXCLUDED.locked_by,
			created_at = CURRENT_TIMESTAMP
	`, rec.ChatID, rec.Locked, timePtrNull(rec.Until), cleanUTF8String(rec.Reason), rec.LockedBy)
	if err != nil {
		return fmt.Errorf("save lock %d: %w", rec.ChatID, err)
	}
	return nil
}

func (s *Store) DeleteLock(ctx context.Context, chatID int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM lock_status WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("delete lock %d: %w", chatID, err)
	}
	return nil
}

func (s *Store) ListLocks(ctx context.Context) ([]lock.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, locked, until, reason, locked_by
		FROM lock_status ORDER BY chat_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var records []lock.Record
	for rows.Next() {
		var rec lock.Record
		var until sql.NullTime
		if err := rows.Scan(&rec.ChatID, &rec.Locked, &until, &rec.Reason, &rec.LockedBy); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		rec.Until = nullTimePtr(until)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timePtrNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
