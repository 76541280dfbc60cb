// Package api служебный HTTP сервер: проверка здоровья, метрики и состояние модерации
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tg-guard/lock"
	"tg-guard/middleware"
	"tg-guard/monitoring"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIResponse представляет стандартный ответ API
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// LockResponse состояние блокировки группы
type LockResponse struct {
	ChatID           int64      `json:"chat_id"`
	Locked           bool       `json:"locked"`
	Permanent        bool       `json:"permanent,omitempty"`
	Until            *time.Time `json:"until,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	LockedBy         int64      `json:"locked_by,omitempty"`
}

// StatsResponse счетчики состояния в памяти процесса
type StatsResponse struct {
	PendingChallenges int    `json:"pending_challenges"`
	ArmedLockTimers   int    `json:"armed_lock_timers"`
	SpamWindows       int    `json:"spam_windows"`
	TelegramBreaker   string `json:"telegram_breaker"`
	TelegramFailures  int    `json:"telegram_failures"`
}

// Pinger зависимость, доступность которой проверяет /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc адаптер функции к Pinger
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// LockSource источник состояния блокировок
type LockSource interface {
	Status(ctx context.Context, chatID int64) (*lock.Record, error)
}

// StatsSource собирает счетчики для /api/stats
type StatsSource func() StatsResponse

// sendJSON отправляет JSON ответ
func sendJSON(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response) // Ignore error after headers sent
}

// parseChatID читает обязательный параметр chat_id
func parseChatID(r *http.Request) (int64, string) {
	raw := r.URL.Query().Get("chat_id")
	if raw == "" {
		return 0, "chat_id parameter is required"
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, "Invalid chat_id format"
	}
	return chatID, ""
}

// HealthHandler проверяет все зависимости и отвечает 503, если хотя бы одна недоступна
func HealthHandler(checks map[string]Pinger) http.HandlerFunc {
	return middleware.Chain(func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check.Ping(r.Context()); err != nil {
				monitoring.GetLogger("api").Warn("Health check failed", "dependency", name, "error", err)
				results[name] = err.Error()
				healthy = false
				continue
			}
			results[name] = "ok"
		}

		if !healthy {
			sendJSON(w, http.StatusServiceUnavailable, APIResponse{
				Success: false,
				Data:    results,
				Error:   "dependency check failed",
			})
			return
		}
		sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: results})
	}, middleware.Recovery, middleware.Timeout(5*time.Second))
}

// LockStatusHandler возвращает состояние блокировки группы
func LockStatusHandler(locks LockSource, now func() time.Time, timeout time.Duration) http.HandlerFunc {
	return middleware.Chain(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendJSON(w, http.StatusMethodNotAllowed, APIResponse{
				Success: false,
				Error:   "Method not allowed",
			})
			return
		}

		chatID, problem := parseChatID(r)
		if problem != "" {
			sendJSON(w, http.StatusBadRequest, APIResponse{
				Success: false,
				Error:   problem,
			})
			return
		}

		rec, err := locks.Status(r.Context(), chatID)
		if err != nil {
			monitoring.GetLogger("api").Error("Failed to get lock status", "error", err, "chat_id", chatID)
			sendJSON(w, http.StatusInternalServerError, APIResponse{
				Success: false,
				Error:   "Failed to retrieve lock status",
			})
			return
		}

		resp := LockResponse{ChatID: chatID}
		if rec != nil && rec.Locked {
			resp.Locked = true
			resp.Permanent = rec.Permanent()
			resp.Until = rec.Until
			resp.RemainingSeconds = int64(rec.Remaining(now()) / time.Second)
			resp.Reason = rec.Reason
			resp.LockedBy = rec.LockedBy
		}
		sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
	}, middleware.Logging, middleware.Recovery, middleware.Timeout(timeout))
}

// StatsHandler возвращает счетчики состояния модерации
func StatsHandler(stats StatsSource) http.HandlerFunc {
	return middleware.Chain(func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: stats()})
	}, middleware.Logging, middleware.Recovery)
}

// MetricsHandler отдает метрики Prometheus
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
