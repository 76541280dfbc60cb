package lock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tg-guard/monitoring"
	"tg-guard/schedule"
	"tg-guard/state"
)

// Event переход группы между заблокированным и разблокированным состоянием
type Event struct {
	ChatID int64
	Locked bool
	// Auto true, если блокировка снята по истечении срока
	Auto   bool
	Record Record
}

// Notifier получает события о переходах. Ошибки только логируются
type Notifier interface {
	LockChanged(ctx context.Context, ev Event) error
}

// NotifierFunc адаптер функции к Notifier
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) LockChanged(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type armedTimer struct {
	gen  uint64
	task schedule.Task
}

// Scheduler блокирует группы и снимает временные блокировки по таймеру
type Scheduler struct {
	store    Store
	clock    schedule.Clock
	notifier Notifier
	mu       *state.KeyedMutex[int64]
	timers   *state.Memory[int64, armedTimer]
	gen      atomic.Uint64
	logger   *monitoring.StructuredLogger
}

// NewScheduler создает планировщик блокировок
func NewScheduler(store Store, clock schedule.Clock, notifier Notifier) *Scheduler {
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, Event) error { return nil })
	}
	return &Scheduler{
		store:    store,
		clock:    clock,
		notifier: notifier,
		mu:       state.NewKeyedMutex[int64](),
		timers:   state.NewMemory[int64, armedTimer](),
		logger:   monitoring.GetLogger("lock"),
	}
}

// Lock блокирует группу. d == 0 означает блокировку до ручного снятия
func (s *Scheduler) Lock(ctx context.Context, chatID, actorID int64, d time.Duration) (Record, error) {
	if d < 0 {
		return Record{}, fmt.Errorf("negative lock duration %s", d)
	}

	unlock := s.mu.Lock(chatID)
	rec := Record{
		ChatID:   chatID,
		Locked:   true,
		Reason:   PermanentReason,
		LockedBy: actorID,
	}
	if d > 0 {
		until := s.clock.Now().Add(d)
		rec.Until = &until
		rec.Reason = timedReason(d)
	}

	if err := s.store.SaveLock(ctx, rec); err != nil {
		unlock()
		return Record{}, fmt.Errorf("save lock for chat %d: %w", chatID, err)
	}

	s.cancelTimer(chatID)
	if d > 0 {
		s.arm(chatID, d)
	}
	unlock()

	monitoring.IncrementLockTransitions("locked")
	s.logger.Info("group locked", "chat_id", chatID, "actor_id", actorID, "reason", rec.Reason)
	s.notify(ctx, Event{ChatID: chatID, Locked: true, Record: rec})
	return rec, nil
}

// Unlock снимает блокировку. Повторный вызов ничего не делает и возвращает false
func (s *Scheduler) Unlock(ctx context.Context, chatID int64, auto bool) (bool, error) {
	unlock := s.mu.Lock(chatID)
	rec, err := s.removeLocked(ctx, chatID)
	unlock()
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	s.afterUnlock(ctx, *rec, auto)
	return true, nil
}

// IsLocked проверяет блокировку. Истекшая запись считается снятой
// и снимается сразу, не дожидаясь таймера.
func (s *Scheduler) IsLocked(ctx context.Context, chatID int64) bool {
	rec, err := s.Status(ctx, chatID)
	if err != nil {
		s.logger.Error("failed to read lock state", "chat_id", chatID, "error", err)
		return false
	}
	return rec != nil
}

// Status возвращает действующую блокировку или nil
func (s *Scheduler) Status(ctx context.Context, chatID int64) (*Record, error) {
	rec, err := s.store.GetLock(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock for chat %d: %w", chatID, err)
	}
	if !rec.Locked {
		return nil, nil
	}
	if rec.Expired(s.clock.Now()) {
		s.unlockIfExpired(ctx, chatID)
		return nil, nil
	}
	return rec, nil
}

// Restore восстанавливает таймеры для сохраненных блокировок после перезапуска
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	records, err := s.store.ListLocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list locks: %w", err)
	}

	armed := 0
	for _, rec := range records {
		if rec.Permanent() {
			continue
		}
		if rec.Expired(s.clock.Now()) {
			s.unlockIfExpired(ctx, rec.ChatID)
			continue
		}

		unlock := s.mu.Lock(rec.ChatID)
		s.cancelTimer(rec.ChatID)
		s.arm(rec.ChatID, rec.Remaining(s.clock.Now()))
		unlock()
		armed++
	}

	s.logger.Info("lock timers restored", "locks", len(records), "armed", armed)
	return armed, nil
}

// ArmedTimers возвращает количество активных таймеров
func (s *Scheduler) ArmedTimers() int {
	return s.timers.Len()
}

// arm вызывается под мьютексом группы
func (s *Scheduler) arm(chatID int64, d time.Duration) {
	gen := s.gen.Add(1)
	task := s.clock.AfterFunc(d, func() {
		s.fire(chatID, gen)
	})
	s.timers.Update(chatID, func(armedTimer, bool) (armedTimer, bool) {
		return armedTimer{gen: gen, task: task}, true
	})
}

// cancelTimer вызывается под мьютексом группы
func (s *Scheduler) cancelTimer(chatID int64) {
	if t, ok := s.timers.Delete(chatID); ok {
		t.task.Stop()
	}
}

func (s *Scheduler) fire(chatID int64, gen uint64) {
	ctx := context.Background()

	unlock := s.mu.Lock(chatID)
	if _, ok := s.timers.DeleteIf(chatID, func(t armedTimer) bool { return t.gen == gen }); !ok {
		unlock()
		s.logger.Debug("stale lock timer ignored", "chat_id", chatID)
		return
	}

	current, err := s.store.GetLock(ctx, chatID)
	if err != nil || current.Permanent() {
		unlock()
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Error("failed to read lock on timer", "chat_id", chatID, "error", err)
		}
		return
	}

	rec, err := s.removeLocked(ctx, chatID)
	unlock()
	if err != nil {
		s.logger.Error("auto unlock failed", "chat_id", chatID, "error", err)
		return
	}
	if rec != nil {
		s.afterUnlock(ctx, *rec, true)
	}
}

func (s *Scheduler) unlockIfExpired(ctx context.Context, chatID int64) {
	unlock := s.mu.Lock(chatID)
	current, err := s.store.GetLock(ctx, chatID)
	if err != nil || !current.Expired(s.clock.Now()) {
		unlock()
		return
	}

	rec, err := s.removeLocked(ctx, chatID)
	unlock()
	if err != nil {
		s.logger.Error("lazy unlock failed", "chat_id", chatID, "error", err)
		return
	}
	if rec != nil {
		s.afterUnlock(ctx, *rec, true)
	}
}

// removeLocked удаляет запись и таймер. Возвращает nil, если блокировки не было
func (s *Scheduler) removeLocked(ctx context.Context, chatID int64) (*Record, error) {
	s.cancelTimer(chatID)

	rec, err := s.store.GetLock(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock for chat %d: %w", chatID, err)
	}
	if err := s.store.DeleteLock(ctx, chatID); err != nil {
		return nil, fmt.Errorf("delete lock for chat %d: %w", chatID, err)
	}
	if !rec.Locked {
		return nil, nil
	}
	return rec, nil
}

func (s *Scheduler) afterUnlock(ctx context.Context, rec Record, auto bool) {
	if auto {
		monitoring.IncrementLockTransitions("auto_unlocked")
	} else {
		monitoring.IncrementLockTransitions("unlocked")
	}
	s.logger.Info("group unlocked", "chat_id", rec.ChatID, "auto", auto)
	s.notify(ctx, Event{ChatID: rec.ChatID, Locked: false, Auto: auto, Record: rec})
}

func (s *Scheduler) notify(ctx context.Context, ev Event) {
	if err := s.notifier.LockChanged(ctx, ev); err != nil {
		s.logger.Warn("lock notification failed", "chat_id", ev.ChatID, "locked", ev.Locked, "error", err)
	}
}
