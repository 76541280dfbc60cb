package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"

	"tg-guard/captcha"
	"tg-guard/content"
	"tg-guard/monitoring"
	"tg-guard/welcome"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// botAPI часть tgbotapi.BotAPI, которой пользуется клиент
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Client обертка над Bot API: circuit breaker, метрики и логирование каждого вызова.
// Реализует captcha.Platform, welcome.Sender, moderation.Deleter и audit.Sender
type Client struct {
	api      botAPI
	breaker  *CircuitBreaker
	throttle *Throttle
	logger   *monitoring.StructuredLogger
}

// NewClient создает клиент. breaker == nil - стандартный breaker для Telegram
func NewClient(api botAPI, breaker *CircuitBreaker) *Client {
	if breaker == nil {
		breaker = NewTelegramCircuitBreaker()
	}
	return &Client{
		api:     api,
		breaker: breaker,
		logger:  monitoring.GetLogger("telegram"),
	}
}

// WithThrottle включает ожидание слота перед каждой отправкой сообщения.
// Служебные запросы (удаление, бан, права) не ограничиваются
func (c *Client) WithThrottle(t *Throttle) *Client {
	c.throttle = t
	return c
}

// BreakerStatus состояние circuit breaker Telegram API и число ошибок подряд
func (c *Client) BreakerStatus() (string, int) {
	return c.breaker.GetState().String(), int(c.breaker.GetFailures())
}

var (
	_ captcha.Platform = (*Client)(nil)
	_ welcome.Sender   = (*Client)(nil)
)

func (c *Client) call(ctx context.Context, method string, chatID int64, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := c.breaker.Call(fn)
	monitoring.ObserveTelegramCall(method, err, time.Since(start))
	c.logger.LogTelegramCall(method, chatID, err)
	if isRateLimitError(err) {
		c.logger.Warn("telegram rate limit hit", "method", method, "chat_id", chatID, "retry_after", extractRetryAfter(err))
	}
	return err
}

// Send отправляет произвольное сообщение. Нужен лог-чату аудита
func (c *Client) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.send(context.Background(), "send", 0, msg)
}

func (c *Client) send(ctx context.Context, method string, chatID int64, msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	var sent tgbotapi.Message
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, chatID); err != nil {
			return sent, err
		}
	}
	err := c.call(ctx, method, chatID, func() error {
		var err error
		sent, err = c.api.Send(msg)
		return err
	})
	return sent, err
}

func (c *Client) request(ctx context.Context, method string, chatID int64, req tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	var resp *tgbotapi.APIResponse
	err := c.call(ctx, method, chatID, func() error {
		var err error
		resp, err = c.api.Request(req)
		return err
	})
	return resp, err
}

// SendText отправляет HTML-текст с кнопками
func (c *Client) SendText(ctx context.Context, chatID int64, text string, layout content.Layout) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if len(layout) > 0 {
		msg.ReplyMarkup = layout.Markup()
	}
	sent, err := c.send(ctx, "sendMessage", chatID, msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendMedia отправляет вложение по file_id с HTML-подписью
func (c *Client) SendMedia(ctx context.Context, chatID int64, kind welcome.MediaKind, fileID, caption string, layout content.Layout) (int, error) {
	file := tgbotapi.FileID(fileID)
	var markup interface{}
	if len(layout) > 0 {
		markup = layout.Markup()
	}

	var msg tgbotapi.Chattable
	switch kind {
	case welcome.MediaAnimation:
		m := tgbotapi.NewAnimation(chatID, file)
		m.Caption, m.ParseMode, m.ReplyMarkup = caption, tgbotapi.ModeHTML, markup
		msg = m
	case welcome.MediaVideo:
		m := tgbotapi.NewVideo(chatID, file)
		m.Caption, m.ParseMode, m.ReplyMarkup = caption, tgbotapi.ModeHTML, markup
		msg = m
	case welcome.MediaDocument:
		m := tgbotapi.NewDocument(chatID, file)
		m.Caption, m.ParseMode, m.ReplyMarkup = caption, tgbotapi.ModeHTML, markup
		msg = m
	default:
		m := tgbotapi.NewPhoto(chatID, file)
		m.Caption, m.ParseMode, m.ReplyMarkup = caption, tgbotapi.ModeHTML, markup
		msg = m
	}

	sent, err := c.send(ctx, "send_"+kind.String(), chatID, msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// Reply отвечает на сообщение HTML-текстом
func (c *Client) Reply(ctx context.Context, chatID int64, replyTo int, text string, markup interface{}) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = replyTo
	msg.AllowSendingWithoutReply = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	sent, err := c.send(ctx, "sendMessage", chatID, msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// DeleteMessage удаляет сообщение
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := c.request(ctx, "deleteMessage", chatID, tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

// ChatTitle возвращает название группы
func (c *Client) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	var chat tgbotapi.Chat
	err := c.call(ctx, "getChat", chatID, func() error {
		var err error
		chat, err = c.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
		return err
	})
	return chat.Title, err
}

// ChatMember возвращает участника группы
func (c *Client) ChatMember(ctx context.Context, chatID, userID int64) (tgbotapi.ChatMember, error) {
	var member tgbotapi.ChatMember
	err := c.call(ctx, "getChatMember", chatID, func() error {
		var err error
		member, err = c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
		})
		return err
	})
	return member, err
}

// IsChatAdmin сообщает, является ли пользователь создателем или администратором группы
func (c *Client) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := c.ChatMember(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return member.IsCreator() || member.IsAdministrator(), nil
}

// Ban блокирует участника навсегда
func (c *Client) Ban(ctx context.Context, chatID, userID int64) error {
	_, err := c.request(ctx, "banChatMember", chatID, tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	})
	return err
}

// Unban снимает блокировку. onlyIfBanned не трогает текущих участников
func (c *Client) Unban(ctx context.Context, chatID, userID int64, onlyIfBanned bool) error {
	_, err := c.request(ctx, "unbanChatMember", chatID, tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		OnlyIfBanned:     onlyIfBanned,
	})
	return err
}

// Kick исключает участника, оставляя возможность вернуться
func (c *Client) Kick(ctx context.Context, chatID, userID int64) error {
	if err := c.Ban(ctx, chatID, userID); err != nil {
		return fmt.Errorf("ban: %w", err)
	}
	if err := c.Unban(ctx, chatID, userID, true); err != nil {
		return fmt.Errorf("unban after kick: %w", err)
	}
	return nil
}

// Restrict меняет права участника. Нулевой until - навсегда
func (c *Client) Restrict(ctx context.Context, chatID, userID int64, perms tgbotapi.ChatPermissions, until time.Time) error {
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		Permissions:      &perms,
	}
	if !until.IsZero() {
		cfg.UntilDate = until.Unix()
	}
	_, err := c.request(ctx, "restrictChatMember", chatID, cfg)
	return err
}

// CreateInviteLink создает ссылку-приглашение с ограничением по числу входов и сроку
func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, memberLimit int, expire time.Time) (string, error) {
	resp, err := c.request(ctx, "createChatInviteLink", chatID, tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: chatID},
		ExpireDate:  int(expire.Unix()),
		MemberLimit: memberLimit,
	})
	if err != nil {
		return "", err
	}
	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("decode invite link: %w", err)
	}
	return link.InviteLink, nil
}

// AnswerCallback отвечает на нажатие inline-кнопки
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	_, err := c.request(ctx, "answerCallbackQuery", 0, cfg)
	return err
}

// SendPrompt отправляет вопрос проверки с кнопками
func (c *Client) SendPrompt(ctx context.Context, p captcha.Prompt) (int, error) {
	msg := tgbotapi.NewMessage(p.ChatID, p.Question)
	msg.ReplyMarkup = createCaptchaKeyboard(p)
	sent, err := c.send(ctx, "sendMessage", p.ChatID, msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// NotifyKicked сообщает группе, что участник не прошел проверку
func (c *Client) NotifyKicked(ctx context.Context, chatID int64, member captcha.Member) error {
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("%s was kicked for failing CAPTCHA.", member.DisplayName()))
	_, err := c.send(ctx, "sendMessage", chatID, msg)
	return err
}
