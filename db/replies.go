package db

import (
	"context"
	"fmt"

	"tg-guard/replies"
)

func (s *Store) GetCommand(ctx context.Context, chatID int64, name string) (*replies.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cmd := replies.Command{ChatID: chatID, Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT response FROM custom_commands WHERE chat_id = $1 AND name = $2`,
		chatID, name,
	).Scan(&cmd.Response)
	if noRows(err) {
		return nil, replies.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get command %q: %w", name, err)
	}
	return &cmd, nil
}

// SaveCommand создает или заменяет команду. xmax = 0 у только что вставленной строки
func (s *Store) SaveCommand(ctx context.Context, cmd replies.Command) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO custom_commands (chat_id, name, response)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, name) DO UPDATE
		SET response = EXCLUDED.response, updated_at = CURRENT_TIMESTAMP
		RETURNING (xmax = 0)
	`, cmd.ChatID, cmd.Name, cleanUTF8String(cmd.Response)).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("save command %q: %w", cmd.Name, err)
	}
	return created, nil
}

func (s *Store) DeleteCommand(ctx context.Context, chatID int64, name string) (bool, error) {
	return s.deleteOne(ctx, `DELETE FROM custom_commands WHERE chat_id = $1 AND name = $2`, chatID, name)
}

func (s *Store) ListKeywords(ctx context.Context, chatID int64) ([]replies.Keyword, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword, response FROM keyword_triggers WHERE chat_id = $1 ORDER BY keyword`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var keywords []replies.Keyword
	for rows.Next() {
		kw := replies.Keyword{ChatID: chatID}
		if err := rows.Scan(&kw.Keyword, &kw.Response); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		keywords = append(keywords, kw)
	}
	return keywords, rows.Err()
}

func (s *Store) SaveKeyword(ctx context.Context, kw replies.Keyword) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO keyword_triggers (chat_id, keyword, response)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, keyword) DO UPDATE
		SET response = EXCLUDED.response, updated_at = CURRENT_TIMESTAMP
		RETURNING (xmax = 0)
	`, kw.ChatID, cleanUTF8String(kw.Keyword), cleanUTF8String(kw.Response)).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("save keyword %q: %w", kw.Keyword, err)
	}
	return created, nil
}

func (s *Store) DeleteKeyword(ctx context.Context, chatID int64, keyword string) (bool, error) {
	return s.deleteOne(ctx, `DELETE FROM keyword_triggers WHERE chat_id = $1 AND keyword = $2`, chatID, keyword)
}

func (s *Store) deleteOne(ctx context.Context, query string, args ...any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
