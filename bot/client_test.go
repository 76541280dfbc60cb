package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-guard/captcha"
	"tg-guard/content"
	"tg-guard/welcome"
)

func TestClientSendTextWithLayout(t *testing.T) {
	api := newFakeAPI()
	c := NewClient(api, nil)

	layout := content.Layout{{{Text: "Rules", URL: "https://example.com/rules"}}}
	id, err := c.SendText(context.Background(), testChat, "<b>hi</b>", layout)
	require.NoError(t, err)
	assert.NotZero(t, id)

	msg, ok := api.lastMessage()
	require.True(t, ok)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.True(t, msg.DisableWebPagePreview)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "Rules", markup.InlineKeyboard[0][0].Text)
}

func TestClientSendMediaKinds(t *testing.T) {
	api := newFakeAPI()
	c := NewClient(api, nil)
	ctx := context.Background()

	for _, kind := range []welcome.MediaKind{welcome.MediaPhoto, welcome.MediaAnimation, welcome.MediaVideo, welcome.MediaDocument} {
		_, err := c.SendMedia(ctx, testChat, kind, "file", "caption", nil)
		require.NoError(t, err)
	}

	require.Len(t, api.sent, 4)
	assert.IsType(t, tgbotapi.PhotoConfig{}, api.sent[0])
	assert.IsType(t, tgbotapi.AnimationConfig{}, api.sent[1])
	assert.IsType(t, tgbotapi.VideoConfig{}, api.sent[2])
	assert.IsType(t, tgbotapi.DocumentConfig{}, api.sent[3])
	assert.Equal(t, []string{"caption", "caption", "caption", "caption"}, api.texts())
}

func TestClientKickBansThenUnbans(t *testing.T) {
	api := newFakeAPI()
	c := NewClient(api, nil)

	require.NoError(t, c.Kick(context.Background(), testChat, 5))

	require.Len(t, api.requests, 2)
	ban, ok := api.requests[0].(tgbotapi.BanChatMemberConfig)
	require.True(t, ok)
	assert.Equal(t, int64(5), ban.UserID)
	unban, ok := api.requests[1].(tgbotapi.UnbanChatMemberConfig)
	require.True(t, ok)
	assert.True(t, unban.OnlyIfBanned)
}

func TestClientKickStopsWhenBanFails(t *testing.T) {
	api := newFakeAPI()
	api.requestErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: not enough rights"}
	c := NewClient(api, nil)

	err := c.Kick(context.Background(), testChat, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ban:")
}

func TestClientCreateInviteLink(t *testing.T) {
	api := newFakeAPI()
	api.inviteLink = "https://t.me/+abc"
	c := NewClient(api, nil)

	link, err := c.CreateInviteLink(context.Background(), testChat, 1, time.Unix(1700000300, 0))
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abc", link)
}

func TestClientIsChatAdmin(t *testing.T) {
	api := newFakeAPI()
	api.setMember(tgbotapi.User{ID: 1}, "creator")
	api.setMember(tgbotapi.User{ID: 2}, "administrator")
	api.setMember(tgbotapi.User{ID: 3}, "member")
	c := NewClient(api, nil)
	ctx := context.Background()

	for id, want := range map[int64]bool{1: true, 2: true, 3: false} {
		got, err := c.IsChatAdmin(ctx, testChat, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "user %d", id)
	}

	_, err := c.IsChatAdmin(ctx, testChat, 4)
	assert.Error(t, err)
}

func TestClientAnswerCallback(t *testing.T) {
	api := newFakeAPI()
	c := NewClient(api, nil)

	require.NoError(t, c.AnswerCallback(context.Background(), "q1", "nope", true))

	answers := requestsOf[tgbotapi.CallbackConfig](api)
	require.Len(t, answers, 1)
	assert.Equal(t, "q1", answers[0].CallbackQueryID)
	assert.True(t, answers[0].ShowAlert)
}

func TestClientSendPrompt(t *testing.T) {
	api := newFakeAPI()
	c := NewClient(api, nil)

	p := captcha.Prompt{
		ChatID:   testChat,
		Member:   captcha.Member{ID: 3, FirstName: "Carol"},
		Question: "Tap Verify",
		Options:  captcha.DefaultOptions,
	}
	_, err := c.SendPrompt(context.Background(), p)
	require.NoError(t, err)

	msg, ok := api.lastMessage()
	require.True(t, ok)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, len(captcha.DefaultOptions))
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "captcha_solve_3_human", *markup.InlineKeyboard[0][0].CallbackData)
}

func TestClientCanceledContextSkipsCall(t *testing.T) {
	api := newFakeAPI()
	c := NewClient(api, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SendText(ctx, testChat, "hi", nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, api.sentCount())
}

func TestClientBreakerIgnoresRequestErrors(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}
	breaker := NewCircuitBreaker("test", 2, time.Minute, time.Second).WithFailureFilter(isServiceError)
	c := NewClient(api, breaker)

	for i := 0; i < 5; i++ {
		_, err := c.SendText(context.Background(), testChat, "hi", nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitBreakerOpen)
	}
	assert.Equal(t, StateClosed, breaker.GetState())
	state, failures := c.BreakerStatus()
	assert.Equal(t, "closed", state)
	assert.Zero(t, failures)
}

func TestClientBreakerOpensOnServiceErrors(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errors.New("connection reset by peer")
	breaker := NewCircuitBreaker("test", 2, time.Minute, time.Second).WithFailureFilter(isServiceError)
	c := NewClient(api, breaker)
	ctx := context.Background()

	_, _ = c.SendText(ctx, testChat, "hi", nil)
	_, _ = c.SendText(ctx, testChat, "hi", nil)

	_, err := c.SendText(ctx, testChat, "hi", nil)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Contains(t, describeTelegramError(err), "not responding")

	state, failures := c.BreakerStatus()
	assert.Equal(t, "open", state)
	assert.Equal(t, 2, failures)
}
