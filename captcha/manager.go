package captcha

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"tg-guard/audit"
	"tg-guard/monitoring"
	"tg-guard/schedule"
	"tg-guard/state"
)

// DefaultTimeout время на прохождение проверки
const DefaultTimeout = 60 * time.Second

// Config параметры проверки
type Config struct {
	Timeout time.Duration
	Options []Option
	// Intn и Shuffle заменяются в тестах для детерминированного выбора
	Intn    func(n int) int
	Shuffle func(n int, swap func(i, j int))
}

// Manager ведет незавершенные проверки новых участников
type Manager struct {
	cfg      Config
	store    state.Store[Key, *Challenge]
	platform Platform
	admitter Admitter
	audit    audit.Sink
	clock    schedule.Clock
	logger   *monitoring.StructuredLogger
}

// NewManager создает менеджер проверок с хранилищем в памяти
func NewManager(cfg Config, platform Platform, admitter Admitter, sink audit.Sink, clock schedule.Clock) *Manager {
	return NewManagerWithStore(cfg, state.NewMemory[Key, *Challenge](), platform, admitter, sink, clock)
}

// NewManagerWithStore создает менеджер поверх переданного хранилища
func NewManagerWithStore(cfg Config, store state.Store[Key, *Challenge], platform Platform, admitter Admitter, sink audit.Sink, clock schedule.Clock) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Options) == 0 {
		cfg.Options = DefaultOptions
	}
	if cfg.Intn == nil {
		cfg.Intn = rand.Intn
	}
	if cfg.Shuffle == nil {
		cfg.Shuffle = rand.Shuffle
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		platform: platform,
		admitter: admitter,
		audit:    sink,
		clock:    clock,
		logger:   monitoring.GetLogger("captcha"),
	}
}

// Begin начинает проверку участника. Боты и группы с выключенной проверкой
// допускаются сразу.
func (m *Manager) Begin(ctx context.Context, chatID int64, member Member, enabled bool) (BeginStatus, error) {
	if member.IsBot || !enabled {
		m.admit(ctx, chatID, member)
		return BeginAdmitted, nil
	}

	key := Key{ChatID: chatID, UserID: member.ID}
	options := m.options()
	answer := options[m.cfg.Intn(len(options))]
	expected := answer.Value

	reserved := &Challenge{
		ID:        uuid.NewString(),
		Key:       key,
		Member:    member,
		Expected:  expected,
		CreatedAt: m.clock.Now(),
	}
	if _, loaded := m.store.LoadOrStore(key, reserved); loaded {
		m.logger.Debug("challenge already pending", "chat_id", chatID, "user_id", member.ID)
		return BeginPending, ErrAlreadyPending
	}
	monitoring.AddChallengesPending(1)

	promptID, err := m.platform.SendPrompt(ctx, Prompt{
		ChatID:   chatID,
		Member:   member,
		Question: fmt.Sprintf("Welcome %s! Please tap \"%s\" to prove you're not a bot.", member.DisplayName(), answer.Label),
		Options:  options,
		Timeout:  m.cfg.Timeout,
	})
	if err != nil {
		// Без сообщения с кнопками пройти проверку нельзя
		if _, ok := m.store.DeleteIf(key, sameChallenge(reserved.ID)); ok {
			monitoring.AddChallengesPending(-1)
		}
		return BeginFailed, fmt.Errorf("send captcha prompt: %w", err)
	}

	armed := false
	m.store.Update(key, func(current *Challenge, ok bool) (*Challenge, bool) {
		if !ok || current.ID != reserved.ID {
			return current, ok
		}
		next := *current
		next.PromptID = promptID
		id := next.ID
		next.task = m.clock.AfterFunc(m.cfg.Timeout, func() {
			m.expire(key, id)
		})
		armed = true
		return &next, true
	})

	if !armed {
		// Проверка завершилась, пока отправлялось сообщение
		m.deletePrompt(ctx, chatID, promptID)
		return BeginStarted, nil
	}

	monitoring.IncrementChallengeOutcome("started")
	m.logger.Info("challenge started", "chat_id", chatID, "user_id", member.ID, "challenge_id", reserved.ID)
	return BeginStarted, nil
}

// Resolve обрабатывает нажатие кнопки проверки
func (m *Manager) Resolve(ctx context.Context, chatID, actorID, targetID int64, value string) Outcome {
	if actorID != targetID {
		return OutcomeNotYours
	}

	ch, ok := m.store.Delete(Key{ChatID: chatID, UserID: targetID})
	if !ok {
		return OutcomeNotActive
	}
	m.release(ch)

	if value != ch.Expected {
		monitoring.IncrementChallengeOutcome("failed")
		m.logger.Info("challenge failed", "chat_id", chatID, "user_id", targetID, "challenge_id", ch.ID)
		m.kick(ctx, ch, "failed CAPTCHA")
		return OutcomeFailed
	}

	monitoring.IncrementChallengeOutcome("solved")
	m.logger.Info("challenge solved", "chat_id", chatID, "user_id", targetID, "challenge_id", ch.ID)
	m.deletePrompt(ctx, chatID, ch.PromptID)
	m.admit(ctx, chatID, ch.Member)
	return OutcomeSolved
}

// Leave снимает проверку с участника, покинувшего группу
func (m *Manager) Leave(ctx context.Context, chatID, userID int64) bool {
	ch, ok := m.store.Delete(Key{ChatID: chatID, UserID: userID})
	if !ok {
		return false
	}
	m.release(ch)
	m.deletePrompt(ctx, chatID, ch.PromptID)

	monitoring.IncrementChallengeOutcome("left")
	m.logger.Info("challenge dropped, member left", "chat_id", chatID, "user_id", userID)
	return true
}

// Pending сообщает, ожидает ли участник проверки
func (m *Manager) Pending(chatID, userID int64) bool {
	_, ok := m.store.Load(Key{ChatID: chatID, UserID: userID})
	return ok
}

// PendingCount возвращает количество незавершенных проверок
func (m *Manager) PendingCount() int {
	return m.store.Len()
}

func (m *Manager) expire(key Key, id string) {
	ch, ok := m.store.DeleteIf(key, sameChallenge(id))
	if !ok {
		m.logger.Debug("stale challenge timer ignored", "chat_id", key.ChatID, "user_id", key.UserID)
		return
	}
	monitoring.AddChallengesPending(-1)
	monitoring.IncrementChallengeOutcome("expired")
	m.logger.Info("challenge expired", "chat_id", key.ChatID, "user_id", key.UserID, "challenge_id", id)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m.kick(ctx, ch, "timeout")
}

// release останавливает таймер удаленной из хранилища проверки
func (m *Manager) release(ch *Challenge) {
	if ch.task != nil {
		ch.task.Stop()
	}
	monitoring.AddChallengesPending(-1)
}

func (m *Manager) kick(ctx context.Context, ch *Challenge, cause string) {
	defer m.deletePrompt(ctx, ch.Key.ChatID, ch.PromptID)

	if err := m.platform.Kick(ctx, ch.Key.ChatID, ch.Member.ID); err != nil {
		m.logger.Error("failed to kick member", "chat_id", ch.Key.ChatID, "user_id", ch.Member.ID, "cause", cause, "error", err)
		return
	}
	if err := m.platform.NotifyKicked(ctx, ch.Key.ChatID, ch.Member); err != nil {
		m.logger.Warn("failed to notify group about kick", "chat_id", ch.Key.ChatID, "error", err)
	}

	text := fmt.Sprintf("User %s (%d) kicked for CAPTCHA failure (%s).", ch.Member.DisplayName(), ch.Member.ID, cause)
	if err := m.audit.Emit(ctx, ch.Key.ChatID, text); err != nil {
		m.logger.Warn("audit emit failed", "chat_id", ch.Key.ChatID, "error", err)
	}
}

func (m *Manager) admit(ctx context.Context, chatID int64, member Member) {
	if m.admitter == nil {
		return
	}
	if err := m.admitter.Admit(ctx, chatID, member); err != nil {
		m.logger.Error("admission failed", "chat_id", chatID, "user_id", member.ID, "error", err)
	}
}

func (m *Manager) deletePrompt(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := m.platform.DeleteMessage(ctx, chatID, messageID); err != nil {
		m.logger.Debug("failed to delete captcha prompt", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// options возвращает перемешанную копию вариантов
func (m *Manager) options() []Option {
	options := make([]Option, len(m.cfg.Options))
	copy(options, m.cfg.Options)
	m.cfg.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return options
}

func sameChallenge(id string) func(*Challenge) bool {
	return func(ch *Challenge) bool {
		return ch.ID == id
	}
}
