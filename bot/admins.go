package bot

import (
	"context"
	"time"

	"tg-guard/cache"
	"tg-guard/moderation"
	"tg-guard/monitoring"
)

// DefaultAdminCacheTTL сколько помнить статус администратора
const DefaultAdminCacheTTL = 5 * time.Minute

// ChatAdminChecker запрос статуса администратора у Telegram
type ChatAdminChecker interface {
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

type adminKey struct {
	chatID int64
	userID int64
}

// AdminResolver определяет администраторов группы с кэшированием ответов Telegram.
// Суперадмины считаются администраторами в любой группе
type AdminResolver struct {
	checker ChatAdminChecker
	cache   *cache.Cache[adminKey, bool]
	super   map[int64]struct{}
	logger  *monitoring.StructuredLogger
}

var _ moderation.AdminChecker = (*AdminResolver)(nil)

// NewAdminResolver создает резолвер. ttl <= 0 - DefaultAdminCacheTTL
func NewAdminResolver(checker ChatAdminChecker, ttl time.Duration, superAdmins []int64) *AdminResolver {
	if ttl <= 0 {
		ttl = DefaultAdminCacheTTL
	}
	super := make(map[int64]struct{}, len(superAdmins))
	for _, id := range superAdmins {
		super[id] = struct{}{}
	}
	return &AdminResolver{
		checker: checker,
		cache:   cache.New[adminKey, bool]("admins", ttl),
		super:   super,
		logger:  monitoring.GetLogger("admins"),
	}
}

// IsSuperAdmin сообщает, входит ли пользователь в SUPER_ADMIN_IDS
func (r *AdminResolver) IsSuperAdmin(userID int64) bool {
	_, ok := r.super[userID]
	return ok
}

// IsAdmin проверяет права. Ошибка Telegram означает "не администратор" и не кэшируется
func (r *AdminResolver) IsAdmin(ctx context.Context, chatID, userID int64) bool {
	if r.IsSuperAdmin(userID) {
		return true
	}

	key := adminKey{chatID: chatID, userID: userID}
	if admin, ok := r.cache.Get(key); ok {
		return admin
	}

	admin, err := r.checker.IsChatAdmin(ctx, chatID, userID)
	if err != nil {
		r.logger.Warn("failed to check admin status", "chat_id", chatID, "user_id", userID, "error", err)
		return false
	}
	r.cache.Set(key, admin)
	return admin
}

// Forget сбрасывает кэш для участника, например после смены прав
func (r *AdminResolver) Forget(chatID, userID int64) {
	r.cache.Delete(adminKey{chatID: chatID, userID: userID})
}

// RunCleanup периодически удаляет устаревшие записи кэша
func (r *AdminResolver) RunCleanup(ctx context.Context, interval time.Duration) {
	r.cache.RunCleanup(ctx, interval)
}
