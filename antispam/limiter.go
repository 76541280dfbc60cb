// Package antispam классифицирует всплески сообщений по скользящему окну.
package antispam

import (
	"context"
	"fmt"
	"time"

	"tg-guard/monitoring"
	"tg-guard/state"
)

// Scope определяет, по какому ключу считается окно активности
type Scope string

const (
	// ScopeUser одно окно на пользователя во всех группах
	ScopeUser Scope = "user"
	// ScopeChatUser отдельное окно на пользователя в каждой группе
	ScopeChatUser Scope = "chat_user"
)

// ParseScope разбирает значение SPAM_SCOPE
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeUser, ScopeChatUser:
		return Scope(s), nil
	case "":
		return ScopeUser, nil
	default:
		return "", fmt.Errorf("unknown spam scope %q", s)
	}
}

// Key отправитель сообщения
type Key struct {
	ChatID int64
	UserID int64
}

// Verdict результат наблюдения
type Verdict struct {
	WithinLimit bool
	Count       int
}

// Config параметры антиспама
type Config struct {
	Threshold       int
	Window          time.Duration
	Scope           Scope
	CleanupInterval time.Duration
	// Name метка в метриках
	Name string
}

// DefaultConfig 5 сообщений за 5 секунд на пользователя
func DefaultConfig() Config {
	return Config{
		Threshold:       5,
		Window:          5 * time.Second,
		Scope:           ScopeUser,
		CleanupInterval: time.Minute,
	}
}

// Limiter скользящее окно активности на отправителя
type Limiter struct {
	cfg     Config
	windows state.Store[Key, []time.Time]
	logger  *monitoring.StructuredLogger
}

// NewLimiter создает Limiter с окнами в памяти процесса
func NewLimiter(cfg Config) *Limiter {
	return NewLimiterWithStore(cfg, state.NewMemory[Key, []time.Time]())
}

// NewLimiterWithStore создает Limiter поверх переданного хранилища
func NewLimiterWithStore(cfg Config, store state.Store[Key, []time.Time]) *Limiter {
	if cfg.Scope == "" {
		cfg.Scope = ScopeUser
	}
	if cfg.Name == "" {
		cfg.Name = "messages"
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		windows: store,
		logger:  monitoring.GetLogger("antispam"),
	}
}

func (l *Limiter) scoped(key Key) Key {
	if l.cfg.Scope == ScopeUser {
		return Key{UserID: key.UserID}
	}
	return key
}

// Observe фиксирует сообщение и сообщает, укладывается ли отправитель в лимит
func (l *Limiter) Observe(key Key, now time.Time) Verdict {
	var count int
	l.windows.Update(l.scoped(key), func(window []time.Time, _ bool) ([]time.Time, bool) {
		window = append(window, now)
		window = trim(window, now, l.cfg.Window)
		count = len(window)
		return window, true
	})

	verdict := Verdict{WithinLimit: count <= l.cfg.Threshold, Count: count}
	monitoring.ObserveSpamVerdict(l.cfg.Name, verdict.WithinLimit)
	return verdict
}

// trim удаляет записи старше окна, сохраняя порядок
func trim(window []time.Time, now time.Time, length time.Duration) []time.Time {
	kept := window[:0]
	for _, ts := range window {
		if now.Sub(ts) < length {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Sweep удаляет окна, в которых не осталось свежих записей
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	l.windows.Range(func(key Key, _ []time.Time) bool {
		_, stale := l.windows.DeleteIf(key, func(window []time.Time) bool {
			return len(window) == 0 || now.Sub(window[len(window)-1]) >= l.cfg.Window
		})
		if stale {
			removed++
		}
		return true
	})

	monitoring.SetSpamWindows(l.cfg.Name, l.windows.Len())
	if removed > 0 {
		l.logger.Debug("idle activity windows removed", "count", removed)
	}
	return removed
}

// Run периодически очищает простаивающие окна до отмены контекста
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// Tracked возвращает количество отслеживаемых окон
func (l *Limiter) Tracked() int {
	return l.windows.Len()
}
