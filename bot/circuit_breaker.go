package bot

import (
	"sync"
	"sync/atomic"
	"time"

	"tg-guard/monitoring"
)

// CircuitBreakerState представляет состояние circuit breaker
type CircuitBreakerState int32

const (
	StateClosed   CircuitBreakerState = iota // Нормальная работа
	StateOpen                                // Открыт - блокирует запросы
	StateHalfOpen                            // Полуоткрыт - тестирует восстановление
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker защищает Telegram API от лавины запросов во время сбоя
type CircuitBreaker struct {
	name string

	// Настройки
	failureThreshold int           // Порог срабатывания (количество последовательных ошибок)
	recoveryTimeout  time.Duration // Время ожидания перед переходом в Half-Open
	resetTimeout     time.Duration // Время ожидания в Half-Open состоянии

	// isFailure решает, считать ли ошибку сбоем сервиса
	isFailure func(error) bool
	now       func() time.Time

	// Состояние
	state       int32 // CircuitBreakerState
	failures    int32 // Текущее количество ошибок
	lastFailure time.Time
	lastAttempt time.Time

	// Синхронизация
	mu sync.RWMutex
}

// NewCircuitBreaker создает новый circuit breaker
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		resetTimeout:     resetTimeout,
		isFailure:        func(err error) bool { return err != nil },
		now:              time.Now,
		state:            int32(StateClosed),
	}
}

// WithFailureFilter задает, какие ошибки размыкают цепь.
// Остальные ошибки возвращаются вызывающему, но считаются ответом сервиса
func (cb *CircuitBreaker) WithFailureFilter(fn func(error) bool) *CircuitBreaker {
	cb.isFailure = fn
	return cb
}

// WithClock подменяет источник времени
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Call выполняет функцию через circuit breaker
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canExecute() {
		monitoring.IncrementCircuitBreakerRejected(cb.name)
		return ErrCircuitBreakerOpen
	}

	monitoring.IncrementCircuitBreakerCalls(cb.name)
	err := fn()

	if err != nil && cb.isFailure(err) {
		cb.recordFailure()
		monitoring.IncrementCircuitBreakerFailures(cb.name)
		return err
	}

	cb.recordSuccess()
	return err
}

// canExecute проверяет, можно ли выполнить запрос
func (cb *CircuitBreaker) canExecute() bool {
	state := CircuitBreakerState(atomic.LoadInt32(&cb.state))

	switch state {
	case StateClosed:
		return true
	case StateOpen:
		cb.mu.RLock()
		lastFailure := cb.lastFailure
		cb.mu.RUnlock()

		if cb.now().Sub(lastFailure) >= cb.recoveryTimeout {
			cb.setState(StateHalfOpen)
			monitoring.GetLogger("telegram").LogCircuitBreakerEvent(cb.name, "probe", StateHalfOpen.String())
			return true
		}
		return false
	case StateHalfOpen:
		cb.mu.RLock()
		lastAttempt := cb.lastAttempt
		cb.mu.RUnlock()

		return cb.now().Sub(lastAttempt) >= cb.resetTimeout
	default:
		return false
	}
}

// recordFailure фиксирует ошибку
func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()
	failures := atomic.AddInt32(&cb.failures, 1)

	if failures >= int32(cb.failureThreshold) && cb.GetState() != StateOpen {
		cb.setState(StateOpen)
		monitoring.GetLogger("telegram").LogCircuitBreakerEvent(cb.name, "tripped", StateOpen.String())
	}
}

// recordSuccess фиксирует успешное выполнение
func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastAttempt = cb.now()

	switch cb.GetState() {
	case StateHalfOpen:
		// Успешное выполнение в Half-Open состоянии - закрываем circuit
		atomic.StoreInt32(&cb.failures, 0)
		cb.setState(StateClosed)
		monitoring.GetLogger("telegram").LogCircuitBreakerEvent(cb.name, "recovered", StateClosed.String())
	case StateClosed:
		// Порог считается по последовательным ошибкам
		atomic.StoreInt32(&cb.failures, 0)
	}
}

// setState устанавливает новое состояние
func (cb *CircuitBreaker) setState(state CircuitBreakerState) {
	atomic.StoreInt32(&cb.state, int32(state))
}

// GetState возвращает текущее состояние
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// GetFailures возвращает количество текущих ошибок
func (cb *CircuitBreaker) GetFailures() int32 {
	return atomic.LoadInt32(&cb.failures)
}

// ErrCircuitBreakerOpen ошибка, когда circuit breaker открыт
var ErrCircuitBreakerOpen = NewCircuitBreakerError("circuit breaker is open")

// CircuitBreakerError ошибка circuit breaker
type CircuitBreakerError struct {
	Message string
}

func NewCircuitBreakerError(message string) *CircuitBreakerError {
	return &CircuitBreakerError{Message: message}
}

func (e *CircuitBreakerError) Error() string {
	return e.Message
}

// NewTelegramCircuitBreaker circuit breaker для Telegram Bot API.
// Ошибки запроса (4xx кроме 429) цепь не размыкают
func NewTelegramCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreaker("telegram_api", 10, 2*time.Minute, 15*time.Second).
		WithFailureFilter(isServiceError)
}
