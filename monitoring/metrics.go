package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики модерации
var messagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tgguard_messages_processed_total",
	Help: "Number of group messages passed through the moderation pipeline",
})

var messagesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tgguard_messages_deleted_total",
	Help: "Number of group messages consumed by the moderation pipeline, by reason",
}, []string{"reason"})

var spamVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tgguard_spam_verdicts_total",
	Help: "Rate limiter verdicts, by limiter",
}, []string{"limiter", "verdict"})

var spamWindows = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "tgguard_spam_windows",
	Help: "Number of activity windows currently tracked, by limiter",
}, []string{"limiter"})

// Метрики верификации и блокировок
var challengeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tgguard_challenge_outcomes_total",
	Help: "Verification challenge transitions, by outcome",
}, []string{"outcome"})

var challengesPending = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tgguard_challenges_pending",
	Help: "Number of verification challenges awaiting an answer",
})

var lockTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tgguard_lock_transitions_total",
	Help: "Group lock state transitions",
}, []string{"event"})

// Метрики Telegram API
var telegramCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tgguard_telegram_calls_total",
	Help: "Telegram Bot API calls, by method and status",
}, []string{"method", "status"})

var telegramCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "tgguard_telegram_call_duration_sec",
	Help: "Duration of Telegram Bot API calls",
}, []string{"method"})

var telegramCommands = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tgguard_telegram_commands_total",
	Help: "Bot commands received, by command",
}, []string{"command"})

var circuitBreakerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tgguard_circuit_breaker_events_total",
	Help: "Circuit breaker calls, failures and rejections",
}, []string{"breaker", "event"})

// Метрики кэша и аудита
var cacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tgguard_cache_operations_total",
	Help: "Cache operations, by cache and result",
}, []string{"cache", "op"})

var cacheSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "tgguard_cache_size",
	Help: "Number of live entries per cache",
}, []string{"cache"})

var auditFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tgguard_audit_failures_total",
	Help: "Audit deliveries that failed, by sink",
}, []string{"sink"})

var sendThrottleDelay = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "tgguard_send_throttle_delay_sec",
	Help:    "Time outgoing messages waited for a send slot",
	Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
})

// IncrementMessagesProcessed увеличивает счетчик обработанных сообщений
func IncrementMessagesProcessed() {
	messagesProcessed.Inc()
}

// IncrementMessagesDeleted увеличивает счетчик удаленных сообщений
func IncrementMessagesDeleted(reason string) {
	messagesDeleted.WithLabelValues(reason).Inc()
}

// ObserveSpamVerdict фиксирует решение антиспама
func ObserveSpamVerdict(limiter string, withinLimit bool) {
	if withinLimit {
		spamVerdicts.WithLabelValues(limiter, "allowed").Inc()
		return
	}
	spamVerdicts.WithLabelValues(limiter, "spam").Inc()
}

// SetSpamWindows обновляет число отслеживаемых окон активности
func SetSpamWindows(limiter string, n int) {
	spamWindows.WithLabelValues(limiter).Set(float64(n))
}

// IncrementChallengeOutcome увеличивает счетчик исходов проверки
func IncrementChallengeOutcome(outcome string) {
	challengeOutcomes.WithLabelValues(outcome).Inc()
}

// AddChallengesPending изменяет число ожидающих проверок
func AddChallengesPending(delta int) {
	challengesPending.Add(float64(delta))
}

// IncrementLockTransitions увеличивает счетчик переходов блокировки
func IncrementLockTransitions(event string) {
	lockTransitions.WithLabelValues(event).Inc()
}

// ObserveTelegramCall фиксирует вызов Telegram API
func ObserveTelegramCall(method string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	telegramCalls.WithLabelValues(method, status).Inc()
	telegramCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// IncrementTelegramCommands увеличивает счетчик команд Telegram
func IncrementTelegramCommands(command string) {
	telegramCommands.WithLabelValues(command).Inc()
}

// IncrementCircuitBreakerCalls увеличивает счетчик вызовов через circuit breaker
func IncrementCircuitBreakerCalls(name string) {
	circuitBreakerEvents.WithLabelValues(name, "call").Inc()
}

// IncrementCircuitBreakerFailures увеличивает счетчик ошибок circuit breaker
func IncrementCircuitBreakerFailures(name string) {
	circuitBreakerEvents.WithLabelValues(name, "failure").Inc()
}

// IncrementCircuitBreakerRejected увеличивает счетчик отклоненных вызовов
func IncrementCircuitBreakerRejected(name string) {
	circuitBreakerEvents.WithLabelValues(name, "rejected").Inc()
}

// IncrementCacheHits увеличивает счетчик попаданий в кэш
func IncrementCacheHits(name string) {
	cacheOperations.WithLabelValues(name, "hit").Inc()
}

// IncrementCacheMisses увеличивает счетчик промахов кэша
func IncrementCacheMisses(name string) {
	cacheOperations.WithLabelValues(name, "miss").Inc()
}

// IncrementCacheEvictions увеличивает счетчик вытеснений из кэша
func IncrementCacheEvictions(name string) {
	cacheOperations.WithLabelValues(name, "eviction").Inc()
}

// IncrementCacheOperations увеличивает счетчик записей в кэш
func IncrementCacheOperations(name string) {
	cacheOperations.WithLabelValues(name, "set").Inc()
}

// UpdateCacheSize обновляет размер кэша
func UpdateCacheSize(name string, size int64) {
	cacheSize.WithLabelValues(name).Set(float64(size))
}

// IncrementAuditFailures увеличивает счетчик неудачных доставок аудита
func IncrementAuditFailures(sink string) {
	auditFailures.WithLabelValues(sink).Inc()
}

// ObserveSendThrottleDelay фиксирует ожидание слота отправки
func ObserveSendThrottleDelay(d time.Duration) {
	sendThrottleDelay.Observe(d.Seconds())
}
