package db

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/lib/pq"

	"tg-guard/moderation"
	"tg-guard/welcome"
)

// ErrEmptyBannedWord пустое запрещенное слово
var ErrEmptyBannedWord = errors.New("banned word is empty")

// Setting переключаемая настройка группы
type Setting string

const (
	SettingCaptcha     Setting = "captcha"
	SettingLinks       Setting = "links"
	SettingBannedWords Setting = "bannedwords"
	SettingForwarded   Setting = "forwarded"
)

// GroupSettings строка group_settings
type GroupSettings struct {
	ChatID             int64
	CaptchaEnabled     bool
	BlockLinks         bool
	BannedWordsEnabled bool
	BannedWords        []string
	BlockForwarded     bool
	WelcomeText        string
	WelcomeMedia       string
}

// DefaultGroupSettings настройки группы, для которой еще нет записи
func DefaultGroupSettings(chatID int64) GroupSettings {
	d := moderation.DefaultSettings()
	return GroupSettings{
		ChatID:             chatID,
		CaptchaEnabled:     d.CaptchaEnabled,
		BlockLinks:         d.BlockLinks,
		BannedWordsEnabled: d.BannedWordsEnabled,
		BannedWords:        d.BannedWords,
		BlockForwarded:     d.BlockForwarded,
	}
}

// Policy фильтры модерации группы
func (g GroupSettings) Policy() moderation.Settings {
	return moderation.Settings{
		CaptchaEnabled:     g.CaptchaEnabled,
		BlockLinks:         g.BlockLinks,
		BannedWordsEnabled: g.BannedWordsEnabled,
		BannedWords:        slices.Clone(g.BannedWords),
		BlockForwarded:     g.BlockForwarded,
	}
}

// Enabled значение переключаемой настройки
func (g GroupSettings) Enabled(setting Setting) bool {
	switch setting {
	case SettingCaptcha:
		return g.CaptchaEnabled
	case SettingLinks:
		return g.BlockLinks
	case SettingBannedWords:
		return g.BannedWordsEnabled
	case SettingForwarded:
		return g.BlockForwarded
	}
	return false
}

// column имя колонки и значение по умолчанию для настройки
func column(setting Setting) (string, bool, error) {
	d := DefaultGroupSettings(0)
	switch setting {
	case SettingCaptcha:
		return "captcha_enabled", d.CaptchaEnabled, nil
	case SettingLinks:
		return "block_links", d.BlockLinks, nil
	case SettingBannedWords:
		return "banned_words_enabled", d.BannedWordsEnabled, nil
	case SettingForwarded:
		return "block_forwarded", d.BlockForwarded, nil
	}
	return "", false, fmt.Errorf("unknown setting %q", setting)
}

// NormalizeBannedWord приводит запрещенное слово к виду хранения
func NormalizeBannedWord(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// GetSettings возвращает настройки группы или настройки по умолчанию
func (s *Store) GetSettings(ctx context.Context, chatID int64) (GroupSettings, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	g := GroupSettings{ChatID: chatID}
	var words pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT captcha_enabled, block_links, banned_words_enabled, banned_words,
			block_forwarded, welcome_message, welcome_media
		FROM group_settings WHERE chat_id = $1
	`, chatID).Scan(&g.CaptchaEnabled, &g.BlockLinks, &g.BannedWordsEnabled, &words,
		&g.BlockForwarded, &g.WelcomeText, &g.WelcomeMedia)
	if noRows(err) {
		return DefaultGroupSettings(chatID), nil
	}
	if err != nil {
		return GroupSettings{}, fmt.Errorf("get settings %d: %w", chatID, err)
	}
	g.BannedWords = []string(words)
	return g, nil
}

// WelcomeTemplate реализует welcome.TemplateSource
func (s *Store) WelcomeTemplate(ctx context.Context, chatID int64) (welcome.Template, error) {
	g, err := s.GetSettings(ctx, chatID)
	if err != nil {
		return welcome.Template{}, err
	}
	return welcome.Template{Text: g.WelcomeText, MediaFileID: g.WelcomeMedia}, nil
}

// SetWelcome сохраняет текст приветствия и баннер
func (s *Store) SetWelcome(ctx context.Context, chatID int64, text, mediaFileID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_settings (chat_id, welcome_message, welcome_media)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE
		SET welcome_message = EXCLUDED.welcome_message,
			welcome_media = EXCLUDED.welcome_media,
			updated_at = CURRENT_TIMESTAMP
	`, chatID, cleanUTF8String(text), mediaFileID)
	if err != nil {
		return fmt.Errorf("set welcome %d: %w", chatID, err)
	}
	return nil
}

// Toggle инвертирует настройку и возвращает новое значение
func (s *Store) Toggle(ctx context.Context, chatID int64, setting Setting) (bool, error) {
	col, def, err := column(setting)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO group_settings (chat_id, %[1]s)
		VALUES ($1, $2)
		ON CONFLICT (chat_id) DO UPDATE
		SET %[1]s = NOT group_settings.%[1]s, updated_at = CURRENT_TIMESTAMP
		RETURNING %[1]s
	`, col)

	var enabled bool
	if err := s.db.QueryRowContext(ctx, query, chatID, !def).Scan(&enabled); err != nil {
		return false, fmt.Errorf("toggle %s for %d: %w", setting, chatID, err)
	}
	return enabled, nil
}

// AddBannedWord добавляет слово в список группы. false, если оно уже было
func (s *Store) AddBannedWord(ctx context.Context, chatID int64, word string) (bool, error) {
	word = NormalizeBannedWord(cleanUTF8String(word))
	if word == "" {
		return false, ErrEmptyBannedWord
	}
	return s.updateBannedWords(ctx, chatID, func(words []string) ([]string, bool) {
		if slices.Contains(words, word) {
			return words, false
		}
		return append(words, word), true
	})
}

// RemoveBannedWord удаляет слово из списка группы. false, если его не было
func (s *Store) RemoveBannedWord(ctx context.Context, chatID int64, word string) (bool, error) {
	word = NormalizeBannedWord(word)
	return s.updateBannedWords(ctx, chatID, func(words []string) ([]string, bool) {
		i := slices.Index(words, word)
		if i < 0 {
			return words, false
		}
		return slices.Delete(words, i, i+1), true
	})
}

func (s *Store) updateBannedWords(ctx context.Context, chatID int64, fn func([]string) ([]string, bool)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_settings (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING`, chatID); err != nil {
		return false, fmt.Errorf("ensure settings row: %w", err)
	}

	var words pq.StringArray
	if err := tx.QueryRowContext(ctx,
		`SELECT banned_words FROM group_settings WHERE chat_id = $1 FOR UPDATE`, chatID,
	).Scan(&words); err != nil {
		return false, fmt.Errorf("read banned words: %w", err)
	}

	next, changed := fn([]string(words))
	if !changed {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE group_settings SET banned_words = $2, updated_at = CURRENT_TIMESTAMP
		WHERE chat_id = $1
	`, chatID, pq.Array(next)); err != nil {
		return false, fmt.Errorf("write banned words: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
