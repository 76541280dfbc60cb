package bot

import (
	"context"
	"runtime/debug"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sourcegraph/conc/pool"

	"tg-guard/audit"
	"tg-guard/captcha"
	"tg-guard/lock"
	"tg-guard/moderation"
	"tg-guard/monitoring"
	"tg-guard/replies"
	"tg-guard/schedule"
	"tg-guard/state"
	"tg-guard/welcome"
)

// DefaultWorkers число параллельно обрабатываемых обновлений
const DefaultWorkers = 8

// updateTimeout время на обработку одного обновления
const updateTimeout = 30 * time.Second

// Deps зависимости бота
type Deps struct {
	Client   *Client
	Self     tgbotapi.User
	Pipeline *moderation.Pipeline
	Captcha  *captcha.Manager
	Locks    *lock.Scheduler
	Welcome  *welcome.Service
	Replies  *replies.Service
	Settings *SettingsProvider
	Admins   *AdminResolver
	Roles    RoleStore
	Audit    audit.Sink
	Clock    schedule.Clock
	Workers  int
}

// Bot разбирает обновления Telegram и передает их модулям модерации
type Bot struct {
	client   *Client
	self     tgbotapi.User
	pipeline *moderation.Pipeline
	captcha  *captcha.Manager
	locks    *lock.Scheduler
	welcome  *welcome.Service
	replies  *replies.Service
	settings *SettingsProvider
	admins   *AdminResolver
	roles    RoleStore
	audit    audit.Sink
	clock    schedule.Clock
	workers  int
	chatMu   *state.KeyedMutex[int64]
	logger   *monitoring.StructuredLogger
}

// New создает бота
func New(d Deps) *Bot {
	if d.Workers <= 0 {
		d.Workers = DefaultWorkers
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Clock == nil {
		d.Clock = schedule.Real{}
	}
	return &Bot{
		client:   d.Client,
		self:     d.Self,
		pipeline: d.Pipeline,
		captcha:  d.Captcha,
		locks:    d.Locks,
		welcome:  d.Welcome,
		replies:  d.Replies,
		settings: d.Settings,
		admins:   d.Admins,
		roles:    d.Roles,
		audit:    d.Audit,
		clock:    d.Clock,
		workers:  d.Workers,
		chatMu:   state.NewKeyedMutex[int64](),
		logger:   monitoring.GetLogger("bot"),
	}
}

// Run обрабатывает обновления пулом воркеров до закрытия канала или отмены ctx.
// Начатые обновления дорабатываются до конца
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	p := pool.New().WithMaxGoroutines(b.workers)
	defer p.Wait()

	// Обработка не прерывается на середине при остановке
	handlerCtx := context.WithoutCancel(ctx)

	b.logger.Info("update dispatcher started", "bot", b.self.UserName, "workers", b.workers)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("update dispatcher stopping")
			return
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("updates channel closed")
				return
			}
			p.Go(func() {
				ctx, cancel := context.WithTimeout(handlerCtx, updateTimeout)
				defer cancel()
				b.HandleUpdate(ctx, update)
			})
		}
	}
}

// HandleUpdate обрабатывает одно обновление. Обновления одной группы
// обрабатываются последовательно
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while handling update",
				"update_id", update.UpdateID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if chatID := updateChatID(update); chatID != 0 {
		unlock := b.chatMu.Lock(chatID)
		defer unlock()
	}

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func updateChatID(update tgbotapi.Update) int64 {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID
	}
	return 0
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.Chat == nil {
		return
	}
	if m.Chat.IsPrivate() {
		b.handlePrivate(ctx, m)
		return
	}
	if !m.Chat.IsGroup() && !m.Chat.IsSuperGroup() {
		return
	}

	if len(m.NewChatMembers) > 0 {
		b.handleNewMembers(ctx, m)
		return
	}
	if m.LeftChatMember != nil {
		b.captcha.Leave(ctx, m.Chat.ID, m.LeftChatMember.ID)
		return
	}
	if m.From == nil {
		return
	}

	decision := b.pipeline.Process(ctx, toModeration(m))
	if decision.Consumed {
		return
	}

	if m.IsCommand() && b.handleCommand(ctx, m, decision.Admin) {
		return
	}
	b.handleReplies(ctx, m)
}

// handlePrivate в личных сообщениях бот отвечает только на /start и /help
func (b *Bot) handlePrivate(ctx context.Context, m *tgbotapi.Message) {
	if !m.IsCommand() {
		return
	}
	switch m.Command() {
	case "start":
		b.handleStart(ctx, m)
	case "help":
		b.handleHelp(ctx, m)
	}
}

func (b *Bot) handleNewMembers(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	enabled := b.settings.CaptchaEnabled(ctx, chatID)

	for _, user := range m.NewChatMembers {
		if user.ID == b.self.ID {
			b.logger.Info("bot added to group", "chat_id", chatID, "title", m.Chat.Title)
			continue
		}
		status, err := b.captcha.Begin(ctx, chatID, toMember(user), enabled)
		if err != nil && status != captcha.BeginPending {
			b.logger.Error("failed to start verification", "chat_id", chatID, "user_id", user.ID, "error", err)
		}
	}
}

// handleReplies отвечает пользовательской командой или ключевым словом
func (b *Bot) handleReplies(ctx context.Context, m *tgbotapi.Message) {
	if m.Text == "" {
		return
	}
	parsed, ok := b.replies.Match(ctx, m.Chat.ID, m.Text)
	if !ok {
		return
	}
	var markup interface{}
	if parsed.HasLayout() {
		markup = parsed.Layout.Markup()
	}
	if _, err := b.client.Reply(ctx, m.Chat.ID, m.MessageID, parsed.Text, markup); err != nil {
		b.logger.Warn("failed to send reply", "chat_id", m.Chat.ID, "error", err)
	}
}

// toModeration переводит сообщение Telegram в вход конвейера модерации
func toModeration(m *tgbotapi.Message) moderation.Message {
	text, entities := m.Text, m.Entities
	if text == "" {
		text, entities = m.Caption, m.CaptionEntities
	}
	hasLink := false
	for _, e := range entities {
		if e.IsURL() || e.IsTextLink() {
			hasLink = true
			break
		}
	}
	return moderation.Message{
		ChatID:     m.Chat.ID,
		MessageID:  m.MessageID,
		SenderID:   m.From.ID,
		SenderName: displayName(m.From),
		Text:       text,
		HasLink:    hasLink,
		Forwarded:  m.ForwardFrom != nil || m.ForwardFromChat != nil || m.ForwardSenderName != "" || m.ForwardDate != 0,
	}
}

func toMember(u tgbotapi.User) captcha.Member {
	return captcha.Member{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.UserName,
		IsBot:     u.IsBot,
	}
}

// displayName имя пользователя в сообщениях: имя, иначе @username
func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return toMember(*u).DisplayName()
}
