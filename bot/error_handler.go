package bot

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var retryAfterPattern = regexp.MustCompile(`retry after (\d+)`)

// apiError достает ошибку Bot API из цепочки
func apiError(err error) (*tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return &val, true
	}
	return nil, false
}

// isServiceError отделяет сбои Telegram от ошибок запроса.
// Сетевые ошибки и 5xx/429 считаются сбоем, остальные ответы API - нет
func isServiceError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if apiErr, ok := apiError(err); ok {
		return apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests
	}
	return true
}

// describeTelegramError переводит ошибку Telegram API в текст для администратора группы
func describeTelegramError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return "Telegram is not responding right now. Please try again in a few minutes."
	}

	errStr := err.Error()
	if apiErr, ok := apiError(err); ok {
		errStr = apiErr.Message
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return "Too many requests to Telegram. Please wait a moment and try again."
		case http.StatusUnauthorized:
			return "Bot authorization failed. Contact the bot owner."
		}
	}
	lower := strings.ToLower(errStr)

	switch {
	case isRateLimitError(err):
		return "Too many requests to Telegram. Please wait a moment and try again."

	case strings.Contains(lower, "not enough rights"), strings.Contains(lower, "need administrator rights"):
		return "I don't have enough rights for that. Make sure I am an administrator with the needed permissions."

	case strings.Contains(lower, "user is an administrator"), strings.Contains(lower, "can't remove chat owner"):
		return "That user is an administrator of this chat."

	case strings.Contains(lower, "user not found"), strings.Contains(lower, "participant_id_invalid"):
		return "User not found in this chat."

	case strings.Contains(lower, "message to delete not found"), strings.Contains(lower, "message can't be deleted"):
		return "That message can no longer be deleted."

	case strings.Contains(lower, "can't parse entities"):
		return "The message could not be formatted. Check the HTML in your text."

	case strings.Contains(lower, "message is too long"):
		return "The message is too long for Telegram."

	case strings.Contains(lower, "bad request"):
		return "Telegram rejected the request. Check the arguments and try again."

	case strings.Contains(lower, "bot was kicked"), strings.Contains(lower, "chat not found"):
		return "Chat not found. Make sure the bot is still a member of the group."

	case strings.Contains(lower, "forbidden"):
		return "Access denied by Telegram."

	case strings.Contains(lower, "internal server error"), strings.Contains(lower, "bad gateway"):
		return "Telegram is having a temporary problem. Please try again later."

	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline"):
		return "The request to Telegram timed out. Please try again."

	case strings.Contains(lower, "network"), strings.Contains(lower, "connection"):
		return "Connection problem while talking to Telegram. Please try again."

	default:
		return "Something went wrong. Please try again later."
	}
}

// isRateLimitError проверяет, является ли ошибка ошибкой rate limiting
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := apiError(err); ok && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(err.Error(), "Too Many Requests")
}

// extractRetryAfter возвращает рекомендованную паузу в секундах
func extractRetryAfter(err error) int {
	if err == nil {
		return 0
	}
	if apiErr, ok := apiError(err); ok && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	m := retryAfterPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	seconds, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return seconds
}
