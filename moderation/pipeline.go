// Package moderation решает судьбу каждого сообщения группы: блокировка,
// незавершенная проверка, антиспам и фильтры контента в фиксированном порядке.
package moderation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tg-guard/antispam"
	"tg-guard/audit"
	"tg-guard/monitoring"
	"tg-guard/schedule"
)

// RestartCommand сообщение, которое пропускается во время проверки
const RestartCommand = "/start"

var linkPattern = regexp.MustCompile(`(?i)(https?://\S+|t\.me/\S+|telegram\.me/\S+)`)

// Reason причина удаления сообщения
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonLocked         Reason = "locked"
	ReasonPendingCaptcha Reason = "captcha_pending"
	ReasonSpam           Reason = "spam"
	ReasonLink           Reason = "link"
	ReasonBannedWord     Reason = "banned_word"
	ReasonForwarded      Reason = "forwarded"
)

// Message входящее сообщение группы
type Message struct {
	ChatID     int64
	MessageID  int
	SenderID   int64
	SenderName string
	Text       string
	// HasLink сообщение содержит сущность-ссылку
	HasLink   bool
	Forwarded bool
}

// Decision итог обработки сообщения
type Decision struct {
	Consumed bool
	Reason   Reason
	// Admin отправитель администратор (известно, если проверялось)
	Admin bool
}

// Settings политика фильтров группы
type Settings struct {
	CaptchaEnabled     bool
	BlockLinks         bool
	BannedWordsEnabled bool
	BannedWords        []string
	BlockForwarded     bool
}

// DefaultSettings настройки группы без сохраненной записи
func DefaultSettings() Settings {
	return Settings{
		CaptchaEnabled:     true,
		BlockLinks:         true,
		BannedWordsEnabled: true,
		BlockForwarded:     false,
	}
}

// MatchBannedWord возвращает первое запрещенное слово, встреченное в тексте
func (s Settings) MatchBannedWord(text string) (string, bool) {
	if !s.BannedWordsEnabled || text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, word := range s.BannedWords {
		if word != "" && strings.Contains(lower, strings.ToLower(word)) {
			return word, true
		}
	}
	return "", false
}

// LockChecker состояние блокировки группы
type LockChecker interface {
	IsLocked(ctx context.Context, chatID int64) bool
}

// ChallengeTracker незавершенные проверки участников
type ChallengeTracker interface {
	Pending(chatID, userID int64) bool
}

// SpamDetector антиспам по скользящему окну
type SpamDetector interface {
	Observe(key antispam.Key, now time.Time) antispam.Verdict
}

// AdminChecker проверка прав администратора
type AdminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) bool
}

// SettingsProvider политика фильтров группы
type SettingsProvider interface {
	Settings(ctx context.Context, chatID int64) Settings
}

// Deleter удаление сообщений
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Pipeline проверки сообщения в фиксированном порядке
type Pipeline struct {
	locks      LockChecker
	challenges ChallengeTracker
	spam       SpamDetector
	admins     AdminChecker
	settings   SettingsProvider
	deleter    Deleter
	audit      audit.Sink
	clock      schedule.Clock
	logger     *monitoring.StructuredLogger
}

// Deps зависимости конвейера
type Deps struct {
	Locks      LockChecker
	Challenges ChallengeTracker
	Spam       SpamDetector
	Admins     AdminChecker
	Settings   SettingsProvider
	Deleter    Deleter
	Audit      audit.Sink
	Clock      schedule.Clock
}

// NewPipeline создает конвейер модерации
func NewPipeline(d Deps) *Pipeline {
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Clock == nil {
		d.Clock = schedule.Real{}
	}
	return &Pipeline{
		locks:      d.Locks,
		challenges: d.Challenges,
		spam:       d.Spam,
		admins:     d.Admins,
		settings:   d.Settings,
		deleter:    d.Deleter,
		audit:      d.Audit,
		clock:      d.Clock,
		logger:     monitoring.GetLogger("moderation"),
	}
}

// Process применяет проверки к сообщению. Consumed=true означает,
// что сообщение удалено и дальше не обрабатывается.
func (p *Pipeline) Process(ctx context.Context, msg Message) Decision {
	monitoring.IncrementMessagesProcessed()

	// Права администратора запрашиваются только когда нужны
	var admin, adminKnown bool
	isAdmin := func() bool {
		if !adminKnown {
			admin = p.admins.IsAdmin(ctx, msg.ChatID, msg.SenderID)
			adminKnown = true
		}
		return admin
	}

	if p.locks.IsLocked(ctx, msg.ChatID) && !isAdmin() {
		return p.consume(ctx, msg, ReasonLocked, "")
	}

	if p.challenges.Pending(msg.ChatID, msg.SenderID) && !strings.HasPrefix(msg.Text, RestartCommand) {
		return p.consume(ctx, msg, ReasonPendingCaptcha, "")
	}

	if isAdmin() {
		return Decision{Admin: true}
	}

	verdict := p.spam.Observe(antispam.Key{ChatID: msg.ChatID, UserID: msg.SenderID}, p.clock.Now())
	if !verdict.WithinLimit {
		return p.consume(ctx, msg, ReasonSpam,
			fmt.Sprintf("Spam detected from %s (%d). Message deleted.", msg.SenderName, msg.SenderID))
	}

	settings := p.settings.Settings(ctx, msg.ChatID)

	if settings.BlockLinks && (msg.HasLink || linkPattern.MatchString(msg.Text)) {
		return p.consume(ctx, msg, ReasonLink,
			fmt.Sprintf("Link detected and deleted from %s (%d): %s", msg.SenderName, msg.SenderID, msg.Text))
	}

	if _, ok := settings.MatchBannedWord(msg.Text); ok {
		return p.consume(ctx, msg, ReasonBannedWord,
			fmt.Sprintf("Banned word detected and deleted from %s (%d): %s", msg.SenderName, msg.SenderID, msg.Text))
	}

	if settings.BlockForwarded && msg.Forwarded {
		return p.consume(ctx, msg, ReasonForwarded,
			fmt.Sprintf("Forwarded message deleted from %s (%d).", msg.SenderName, msg.SenderID))
	}

	return Decision{}
}

// consume удаляет сообщение. Ошибка удаления не отменяет решения
func (p *Pipeline) consume(ctx context.Context, msg Message, reason Reason, auditText string) Decision {
	monitoring.IncrementMessagesDeleted(string(reason))

	if err := p.deleter.DeleteMessage(ctx, msg.ChatID, msg.MessageID); err != nil {
		p.logger.Warn("failed to delete message",
			"chat_id", msg.ChatID,
			"message_id", msg.MessageID,
			"reason", reason,
			"error", err,
		)
	}

	if auditText != "" {
		p.logger.Info("message removed", "chat_id", msg.ChatID, "user_id", msg.SenderID, "reason", reason)
		if err := p.audit.Emit(ctx, msg.ChatID, auditText); err != nil {
			p.logger.Warn("audit emit failed", "chat_id", msg.ChatID, "error", err)
		}
	}

	return Decision{Consumed: true, Reason: reason}
}
