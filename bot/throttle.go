package bot

import (
	"context"
	"sync"
	"time"

	"tg-guard/cache"
	"tg-guard/monitoring"
	"tg-guard/schedule"
)

// chatSlotTTL сколько хранить слот чата, в который давно не писали
const chatSlotTTL = time.Hour

// Throttle распределяет слоты отправки так, чтобы не упираться в лимиты Telegram:
// общий интервал между любыми сообщениями и отдельный интервал внутри чата.
// В отличие от отказа по лимиту, вызывающий ждет своей очереди.
type Throttle struct {
	clock    schedule.Clock
	global   time.Duration
	perChat  time.Duration
	mu       sync.Mutex
	nextSlot time.Time
	chats    *cache.Cache[int64, time.Time]
}

// NewThrottle создает ограничитель. Нулевой интервал отключает соответствующий уровень
func NewThrottle(clock schedule.Clock, global, perChat time.Duration) *Throttle {
	return &Throttle{
		clock:   clock,
		global:  global,
		perChat: perChat,
		chats:   cache.New[int64, time.Time]("send_throttle", chatSlotTTL).WithClock(clock.Now),
	}
}

// Reserve занимает ближайший свободный слот и возвращает, сколько до него ждать.
// chatID == 0 учитывается только общим интервалом
func (t *Throttle) Reserve(chatID int64) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	slot := now
	if t.nextSlot.After(slot) {
		slot = t.nextSlot
	}
	if chatID != 0 && t.perChat > 0 {
		if next, ok := t.chats.Get(chatID); ok && next.After(slot) {
			slot = next
		}
		t.chats.Set(chatID, slot.Add(t.perChat))
	}
	t.nextSlot = slot.Add(t.global)
	return slot.Sub(now)
}

// Wait блокируется до слота отправки или до отмены ctx.
// Отмененное ожидание слот не возвращает: следующие отправки сдвигаются
func (t *Throttle) Wait(ctx context.Context, chatID int64) error {
	delay := t.Reserve(chatID)
	monitoring.ObserveSendThrottleDelay(delay)
	if delay <= 0 {
		return ctx.Err()
	}

	ready := make(chan struct{})
	task := t.clock.AfterFunc(delay, func() { close(ready) })
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		task.Stop()
		return ctx.Err()
	}
}

// Tracked количество чатов с запомненным слотом
func (t *Throttle) Tracked() int {
	return t.chats.Size()
}

// RunCleanup убирает слоты неактивных чатов до отмены ctx
func (t *Throttle) RunCleanup(ctx context.Context, interval time.Duration) {
	t.chats.RunCleanup(ctx, interval)
}
