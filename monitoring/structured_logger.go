package monitoring

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StructuredLogger предоставляет структурированное логирование с zap
type StructuredLogger struct {
	logger *zap.SugaredLogger
}

var (
	baseOnce   sync.Once
	baseLogger *zap.Logger
)

// buildBaseLogger собирает корневой zap логгер из переменных окружения
func buildBaseLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(ParseLevel(os.Getenv("LOG_LEVEL")))

	// JSON для production, консольный вывод для разработки
	if os.Getenv("ENV") == "production" {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// ParseLevel переводит строковое значение LOG_LEVEL в уровень zap
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "DEBUG", "debug":
		return zapcore.DebugLevel
	case "WARN", "warn", "WARNING", "warning":
		return zapcore.WarnLevel
	case "ERROR", "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewStructuredLogger создает логгер компонента поверх общего zap логгера
func NewStructuredLogger(component string) *StructuredLogger {
	baseOnce.Do(func() {
		baseLogger = buildBaseLogger()
	})
	return &StructuredLogger{logger: baseLogger.Sugar().With("component", component)}
}

// NewNopLogger возвращает логгер, который ничего не пишет
func NewNopLogger() *StructuredLogger {
	return &StructuredLogger{logger: zap.NewNop().Sugar()}
}

// FromZap оборачивает готовый zap логгер (используется в тестах с zaptest/observer)
func FromZap(logger *zap.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger.Sugar()}
}

// Debug логирует сообщение уровня DEBUG
func (l *StructuredLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

// Info логирует сообщение уровня INFO
func (l *StructuredLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

// Warn логирует сообщение уровня WARN
func (l *StructuredLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}

// Error логирует сообщение уровня ERROR
func (l *StructuredLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

// Fatal логирует сообщение уровня FATAL и завершает программу
func (l *StructuredLogger) Fatal(msg string, keysAndValues ...interface{}) {
	l.logger.Fatalw(msg, keysAndValues...)
}

// With добавляет постоянные поля к логгеру
func (l *StructuredLogger) With(keysAndValues ...interface{}) *StructuredLogger {
	return &StructuredLogger{
		logger: l.logger.With(keysAndValues...),
	}
}

// Sync синхронизирует буферы логов
func (l *StructuredLogger) Sync() error {
	return l.logger.Sync()
}

// GetLogger возвращает логгер для указанного компонента
func GetLogger(component string) *StructuredLogger {
	return NewStructuredLogger(component)
}

// LogOperation логирует операцию с ее результатом
func (l *StructuredLogger) LogOperation(operation string, success bool, duration int64, extraFields ...interface{}) {
	fields := []interface{}{
		"operation", operation,
		"success", success,
		"duration_ms", duration,
	}
	fields = append(fields, extraFields...)

	if success {
		l.Info("operation completed", fields...)
	} else {
		l.Error("operation failed", fields...)
	}
}

// LogHTTPRequest логирует HTTP запрос служебного API
func (l *StructuredLogger) LogHTTPRequest(method, url string, status int, duration int64, size int64) {
	l.Info("http request",
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", duration,
		"response_size", size,
	)
}

// LogTelegramCall логирует вызов Telegram Bot API
func (l *StructuredLogger) LogTelegramCall(method string, chatID int64, err error) {
	if err != nil {
		l.Warn("telegram call failed",
			"method", method,
			"chat_id", chatID,
			"error", err.Error(),
		)
		return
	}
	l.Debug("telegram call completed",
		"method", method,
		"chat_id", chatID,
	)
}

// LogCircuitBreakerEvent логирует события circuit breaker
func (l *StructuredLogger) LogCircuitBreakerEvent(name, event string, state string) {
	l.Info("circuit breaker event",
		"circuit_breaker", name,
		"event", event,
		"state", state,
	)
}
