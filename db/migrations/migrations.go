// Package migrations версионированные изменения схемы базы.
// Каждая миграция применяется в своей транзакции и отмечается в schema_migrations
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration одно изменение схемы
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, tx *sql.Tx) error
}

// All миграции в порядке применения
var All = []Migration{
	{Version: 1, Name: "base schema", Up: exec(baseSchema)},
	{Version: 2, Name: "lowercase keyword triggers", Up: lowercaseKeywords},
	{Version: 3, Name: "lock history index", Up: exec(lockIndexes)},
}

const baseSchema = `
	-- Настройки групп
	CREATE TABLE IF NOT EXISTS group_settings (
		chat_id BIGINT PRIMARY KEY,
		captcha_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		block_links BOOLEAN NOT NULL DEFAULT TRUE,
		banned_words_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		banned_words TEXT[] NOT NULL DEFAULT '{}',
		block_forwarded BOOLEAN NOT NULL DEFAULT FALSE,
		welcome_message TEXT NOT NULL DEFAULT '',
		welcome_media VARCHAR(256) NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	-- Блокировки групп
	CREATE TABLE IF NOT EXISTS lock_status (
		chat_id BIGINT PRIMARY KEY,
		locked BOOLEAN NOT NULL DEFAULT TRUE,
		until TIMESTAMPTZ NULL,
		reason VARCHAR(256) NOT NULL DEFAULT '',
		locked_by BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	-- Пользовательские команды
	CREATE TABLE IF NOT EXISTS custom_commands (
		chat_id BIGINT NOT NULL,
		name VARCHAR(32) NOT NULL,
		response TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chat_id, name)
	);
	-- Ответы на ключевые слова
	CREATE TABLE IF NOT EXISTS keyword_triggers (
		chat_id BIGINT NOT NULL,
		keyword VARCHAR(256) NOT NULL,
		response TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chat_id, keyword)
	);
	-- Роли участников
	CREATE TABLE IF NOT EXISTS user_roles (
		chat_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		role VARCHAR(64) NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chat_id, user_id)
	);
`

const lockIndexes = `
	CREATE INDEX IF NOT EXISTS idx_lock_status_until ON lock_status (until) WHERE until IS NOT NULL;
`

func exec(query string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query)
		return err
	}
}

// lowercaseKeywords приводит ключевые слова к нижнему регистру.
// При совпадении после приведения остается самая свежая запись
func lowercaseKeywords(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM keyword_triggers k
		USING keyword_triggers o
		WHERE k.chat_id = o.chat_id
		  AND LOWER(k.keyword) = LOWER(o.keyword)
		  AND k.keyword <> o.keyword
		  AND (k.updated_at, k.keyword) < (o.updated_at, o.keyword)
	`); err != nil {
		return fmt.Errorf("drop duplicate keywords: %w", err)
	}
	_, err := tx.ExecContext(ctx, `UPDATE keyword_triggers SET keyword = LOWER(keyword) WHERE keyword <> LOWER(keyword)`)
	return err
}

// Apply применяет все миграции, которых еще нет в schema_migrations.
// Возвращает число примененных
func Apply(ctx context.Context, db *sql.DB) (int, error) {
	return ApplyList(ctx, db, All)
}

// ApplyList применяет переданные миграции по возрастанию версии
func ApplyList(ctx context.Context, db *sql.DB, list []Migration) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	done, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range Pending(list, done) {
		if err := applyOne(ctx, db, m); err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		applied++
	}
	return applied, nil
}

// Pending возвращает миграции, отсутствующие в done, в порядке версий
func Pending(list []Migration, done map[int]bool) []Migration {
	var pending []Migration
	for _, m := range list {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })
	return pending
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.Up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
