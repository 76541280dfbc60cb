package bot

import (
	"context"
	"time"

	"tg-guard/cache"
	"tg-guard/db"
	"tg-guard/moderation"
	"tg-guard/monitoring"
	"tg-guard/welcome"
)

// DefaultSettingsCacheTTL сколько помнить настройки группы
const DefaultSettingsCacheTTL = time.Minute

// SettingsStore хранилище настроек групп (db.Store)
type SettingsStore interface {
	GetSettings(ctx context.Context, chatID int64) (db.GroupSettings, error)
	Toggle(ctx context.Context, chatID int64, setting db.Setting) (bool, error)
	AddBannedWord(ctx context.Context, chatID int64, word string) (bool, error)
	RemoveBannedWord(ctx context.Context, chatID int64, word string) (bool, error)
	SetWelcome(ctx context.Context, chatID int64, text, mediaFileID string) error
}

// RoleStore хранилище ролей участников (db.Store)
type RoleStore interface {
	Role(ctx context.Context, chatID, userID int64) (string, error)
	SetRole(ctx context.Context, chatID, userID int64, role string) error
	RemoveRole(ctx context.Context, chatID, userID int64) (bool, error)
}

// SettingsProvider кэширует настройки групп поверх SettingsStore.
// Изменения через провайдер сбрасывают кэш группы
type SettingsProvider struct {
	store  SettingsStore
	cache  *cache.Cache[int64, db.GroupSettings]
	logger *monitoring.StructuredLogger
}

var (
	_ moderation.SettingsProvider = (*SettingsProvider)(nil)
	_ welcome.TemplateSource      = (*SettingsProvider)(nil)
)

// NewSettingsProvider создает провайдер. ttl <= 0 - DefaultSettingsCacheTTL
func NewSettingsProvider(store SettingsStore, ttl time.Duration) *SettingsProvider {
	if ttl <= 0 {
		ttl = DefaultSettingsCacheTTL
	}
	return &SettingsProvider{
		store:  store,
		cache:  cache.New[int64, db.GroupSettings]("settings", ttl),
		logger: monitoring.GetLogger("settings"),
	}
}

// Group возвращает настройки группы
func (p *SettingsProvider) Group(ctx context.Context, chatID int64) (db.GroupSettings, error) {
	if s, ok := p.cache.Get(chatID); ok {
		return s, nil
	}
	s, err := p.store.GetSettings(ctx, chatID)
	if err != nil {
		return db.GroupSettings{}, err
	}
	p.cache.Set(chatID, s)
	return s, nil
}

// Settings политика фильтров для конвейера. При ошибке хранилища действуют настройки по умолчанию
func (p *SettingsProvider) Settings(ctx context.Context, chatID int64) moderation.Settings {
	s, err := p.Group(ctx, chatID)
	if err != nil {
		p.logger.Error("failed to load group settings, using defaults", "chat_id", chatID, "error", err)
		return moderation.DefaultSettings()
	}
	return s.Policy()
}

// WelcomeTemplate реализует welcome.TemplateSource
func (p *SettingsProvider) WelcomeTemplate(ctx context.Context, chatID int64) (welcome.Template, error) {
	s, err := p.Group(ctx, chatID)
	if err != nil {
		return welcome.Template{}, err
	}
	return welcome.Template{Text: s.WelcomeText, MediaFileID: s.WelcomeMedia}, nil
}

// CaptchaEnabled включена ли проверка новых участников
func (p *SettingsProvider) CaptchaEnabled(ctx context.Context, chatID int64) bool {
	return p.Settings(ctx, chatID).CaptchaEnabled
}

// Toggle переключает настройку
func (p *SettingsProvider) Toggle(ctx context.Context, chatID int64, setting db.Setting) (bool, error) {
	defer p.Invalidate(chatID)
	return p.store.Toggle(ctx, chatID, setting)
}

// AddBannedWord добавляет запрещенное слово
func (p *SettingsProvider) AddBannedWord(ctx context.Context, chatID int64, word string) (bool, error) {
	defer p.Invalidate(chatID)
	return p.store.AddBannedWord(ctx, chatID, word)
}

// RemoveBannedWord удаляет запрещенное слово
func (p *SettingsProvider) RemoveBannedWord(ctx context.Context, chatID int64, word string) (bool, error) {
	defer p.Invalidate(chatID)
	return p.store.RemoveBannedWord(ctx, chatID, word)
}

// SetWelcome сохраняет шаблон приветствия
func (p *SettingsProvider) SetWelcome(ctx context.Context, chatID int64, text, mediaFileID string) error {
	defer p.Invalidate(chatID)
	return p.store.SetWelcome(ctx, chatID, text, mediaFileID)
}

// Invalidate сбрасывает кэш группы
func (p *SettingsProvider) Invalidate(chatID int64) {
	p.cache.Delete(chatID)
}

// RunCleanup периодически удаляет устаревшие записи кэша
func (p *SettingsProvider) RunCleanup(ctx context.Context, interval time.Duration) {
	p.cache.RunCleanup(ctx, interval)
}
