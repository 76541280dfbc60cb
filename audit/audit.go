// Package audit доставляет журнал действий модерации в лог-чат и другие приемники.
package audit

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sourcegraph/conc/pool"

	"tg-guard/monitoring"
)

// Sink приемник записей аудита
type Sink interface {
	Emit(ctx context.Context, chatID int64, text string) error
}

// SinkFunc адаптер функции к Sink
type SinkFunc func(ctx context.Context, chatID int64, text string) error

func (f SinkFunc) Emit(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

// Nop приемник, который ничего не делает
type Nop struct{}

func (Nop) Emit(context.Context, int64, string) error { return nil }

// Line форматирует запись так, как она попадает в лог-чат
func Line(chatID int64, text string) string {
	return fmt.Sprintf("[%d] %s", chatID, text)
}

// Sender часть клиента Telegram, нужная для отправки в лог-чат
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink пишет записи в лог-чат. Без лог-чата записи уходят в лог процесса
type TelegramSink struct {
	sender    Sender
	logChatID int64
	logger    *monitoring.StructuredLogger
}

// NewTelegramSink создает приемник для лог-чата logChatID (0 - только лог процесса)
func NewTelegramSink(sender Sender, logChatID int64) *TelegramSink {
	return &TelegramSink{
		sender:    sender,
		logChatID: logChatID,
		logger:    monitoring.GetLogger("audit"),
	}
}

func (s *TelegramSink) Emit(_ context.Context, chatID int64, text string) error {
	line := Line(chatID, text)
	if s.logChatID == 0 {
		s.logger.Info("audit", "chat_id", chatID, "text", text)
		return nil
	}

	msg := tgbotapi.NewMessage(s.logChatID, "<pre>"+html.EscapeString(line)+"</pre>")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := s.sender.Send(msg); err != nil {
		return fmt.Errorf("send audit to log chat: %w", err)
	}
	return nil
}

// Multi рассылает запись во все приемники
type Multi []Sink

func (m Multi) Emit(ctx context.Context, chatID int64, text string) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, chatID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// defaultAsyncWorkers одновременных доставок, если не задано иное
const defaultAsyncWorkers = 4

// Async доставляет записи в фоне не более чем workers доставками одновременно.
// Когда все заняты, Emit ждет свободного воркера. Ошибки логируются и не возвращаются вызывающему
type Async struct {
	sink    Sink
	name    string
	timeout time.Duration
	pool    *pool.Pool
	mu      sync.RWMutex
	closed  bool
	logger  *monitoring.StructuredLogger
}

// NewAsync оборачивает sink фоновой доставкой с таймаутом на запись
func NewAsync(name string, sink Sink, workers int, timeout time.Duration) *Async {
	if workers <= 0 {
		workers = defaultAsyncWorkers
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{
		sink:    sink,
		name:    name,
		timeout: timeout,
		pool:    pool.New().WithMaxGoroutines(workers),
		logger:  monitoring.GetLogger("audit"),
	}
}

// Emit ставит запись в очередь. После Close доставляет синхронно
func (a *Async) Emit(_ context.Context, chatID int64, text string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.deliver(chatID, text)
		return nil
	}
	a.pool.Go(func() { a.deliver(chatID, text) })
	return nil
}

func (a *Async) deliver(chatID int64, text string) {
	// Контекст запроса может завершиться раньше доставки
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.sink.Emit(ctx, chatID, text); err != nil {
		monitoring.IncrementAuditFailures(a.name)
		a.logger.Warn("audit delivery failed", "sink", a.name, "chat_id", chatID, "error", err)
	}
}

// Close дожидается доставки всех записей. Повторный вызов ничего не делает
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.pool.Wait()
}
