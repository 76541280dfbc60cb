package db

import (
	"context"
	"fmt"
)

// Role возвращает роль участника или пустую строку
func (s *Store) Role(ctx context.Context, chatID, userID int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM user_roles WHERE chat_id = $1 AND user_id = $2`, chatID, userID,
	).Scan(&role)
	if noRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

// SetRole назначает или заменяет роль
func (s *Store) SetRole(ctx context.Context, chatID, userID int64, role string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (chat_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, updated_at = CURRENT_TIMESTAMP
	`, chatID, userID, cleanUTF8String(role))
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

// RemoveRole снимает роль. false, если роли не было
func (s *Store) RemoveRole(ctx context.Context, chatID, userID int64) (bool, error) {
	return s.deleteOne(ctx, `DELETE FROM user_roles WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
}
