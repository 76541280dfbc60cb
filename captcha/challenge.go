// Package captcha проверяет новых участников группы одноразовым вопросом
// с кнопками. Не прошедших проверку за отведенное время исключают из группы.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tg-guard/schedule"
)

// CallbackPrefix префикс callback_data кнопок проверки
const CallbackPrefix = "captcha_solve_"

var (
	// ErrAlreadyPending у участника уже есть незавершенная проверка
	ErrAlreadyPending = errors.New("challenge already pending")
	// ErrBadCallback callback_data не относится к проверке или поврежден
	ErrBadCallback = errors.New("malformed captcha callback")
)

// Key проверка привязана к паре группа-участник
type Key struct {
	ChatID int64
	UserID int64
}

// Member новый участник группы
type Member struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
}

// DisplayName имя участника для уведомлений
func (m Member) DisplayName() string {
	name := strings.TrimSpace(m.FirstName + " " + m.LastName)
	if name == "" && m.Username != "" {
		return "@" + m.Username
	}
	if name == "" {
		return strconv.FormatInt(m.ID, 10)
	}
	return name
}

// Option вариант ответа на кнопке
type Option struct {
	Label string
	Value string
}

// DefaultOptions набор вариантов однокнопочной проверки
var DefaultOptions = []Option{
	{Label: "I am not a bot", Value: "human"},
	{Label: "Click here", Value: "click"},
	{Label: "Verify", Value: "verify"},
}

// Prompt сообщение с проверкой для отправки в группу
type Prompt struct {
	ChatID   int64
	Member   Member
	Question string
	Options  []Option
	Timeout  time.Duration
}

// CallbackData возвращает callback_data для варианта ответа
func (p Prompt) CallbackData(opt Option) string {
	return CallbackData(p.Member.ID, opt.Value)
}

// CallbackData кодирует ответ участника userID
func CallbackData(userID int64, value string) string {
	return fmt.Sprintf("%s%d_%s", CallbackPrefix, userID, value)
}

// ParseCallback разбирает callback_data кнопки проверки
func ParseCallback(data string) (userID int64, value string, err error) {
	rest, ok := strings.CutPrefix(data, CallbackPrefix)
	if !ok {
		return 0, "", ErrBadCallback
	}
	id, value, ok := strings.Cut(rest, "_")
	if !ok || value == "" {
		return 0, "", ErrBadCallback
	}
	userID, err = strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrBadCallback, err)
	}
	return userID, value, nil
}

// Challenge незавершенная проверка
type Challenge struct {
	ID        string
	Key       Key
	Member    Member
	Expected  string
	PromptID  int
	CreatedAt time.Time
	task      schedule.Task
}

// Outcome результат ответа на проверку
type Outcome int

const (
	// OutcomeNotActive проверки нет: уже решена, истекла или не начиналась
	OutcomeNotActive Outcome = iota
	// OutcomeNotYours кнопку нажал не тот участник
	OutcomeNotYours
	// OutcomeSolved верный ответ, участник допущен
	OutcomeSolved
	// OutcomeFailed неверный ответ, участник исключен
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotYours:
		return "not_yours"
	case OutcomeSolved:
		return "solved"
	case OutcomeFailed:
		return "failed"
	default:
		return "not_active"
	}
}

// Answer текст всплывающего ответа на нажатие кнопки
func (o Outcome) Answer() (text string, alert bool) {
	switch o {
	case OutcomeSolved:
		return "CAPTCHA solved successfully!", false
	case OutcomeFailed:
		return "Incorrect CAPTCHA solution or expired. You will be kicked.", true
	case OutcomeNotYours:
		return "This CAPTCHA is not for you.", true
	default:
		return "This CAPTCHA is no longer active.", true
	}
}

// BeginStatus результат начала проверки
type BeginStatus int

const (
	// BeginAdmitted участник допущен без проверки
	BeginAdmitted BeginStatus = iota
	// BeginStarted проверка отправлена
	BeginStarted
	// BeginPending проверка уже идет
	BeginPending
	// BeginFailed сообщение с проверкой не отправлено
	BeginFailed
)

// Platform действия в Telegram, нужные проверке
type Platform interface {
	SendPrompt(ctx context.Context, p Prompt) (messageID int, err error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// Kick исключает участника с возможностью вернуться
	Kick(ctx context.Context, chatID, userID int64) error
	// NotifyKicked сообщает группе об исключении
	NotifyKicked(ctx context.Context, chatID int64, member Member) error
}

// Admitter вызывается один раз после успешной проверки
type Admitter interface {
	Admit(ctx context.Context, chatID int64, member Member) error
}

// AdmitterFunc адаптер функции к Admitter
type AdmitterFunc func(ctx context.Context, chatID int64, member Member) error

func (f AdmitterFunc) Admit(ctx context.Context, chatID int64, member Member) error {
	return f(ctx, chatID, member)
}
