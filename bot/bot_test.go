package bot

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-guard/antispam"
	"tg-guard/captcha"
	"tg-guard/lock"
	"tg-guard/moderation"
	"tg-guard/replies"
	"tg-guard/schedule"
	"tg-guard/welcome"
)

const testChat int64 = -100123

var (
	adminUser  = tgbotapi.User{ID: 1, FirstName: "Alice"}
	memberUser = tgbotapi.User{ID: 2, FirstName: "Bob"}
	newcomer   = tgbotapi.User{ID: 3, FirstName: "Carol", UserName: "carol"}
	botUser    = tgbotapi.User{ID: 99, FirstName: "Guard", UserName: "guard_bot", IsBot: true}
)

var messageSeq atomic.Int64

type harness struct {
	api      *fakeAPI
	bot      *Bot
	clock    *schedule.Manual
	locks    *lock.Scheduler
	captcha  *captcha.Manager
	settings *fakeSettingsStore
	roles    *fakeRoleStore
	audit    *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	api := newFakeAPI()
	api.setMember(adminUser, "administrator")
	api.setMember(memberUser, "member")
	api.setMember(newcomer, "member")
	api.setMember(botUser, "administrator")

	clock := schedule.NewManual(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	client := NewClient(api, nil)
	sink := &recordingSink{}
	settingsStore := newFakeSettingsStore()
	settings := NewSettingsProvider(settingsStore, time.Minute)
	roles := newFakeRoleStore()
	admins := NewAdminResolver(client, time.Minute, nil)

	locks := lock.NewScheduler(lock.NewMemoryStore(), clock, NewLockNotifier(client, sink))
	greeter := welcome.NewService(settings, roles, client, clock, time.Minute)
	manager := captcha.NewManager(captcha.Config{
		Timeout: time.Minute,
		Intn:    func(int) int { return 0 },
		Shuffle: func(int, func(i, j int)) {},
	}, client, greeter, sink, clock)
	limiter := antispam.NewLimiter(antispam.Config{Threshold: 5, Window: 5 * time.Second})

	pipeline := moderation.NewPipeline(moderation.Deps{
		Locks:      locks,
		Challenges: manager,
		Spam:       limiter,
		Admins:     admins,
		Settings:   settings,
		Deleter:    client,
		Audit:      sink,
		Clock:      clock,
	})

	b := New(Deps{
		Client:   client,
		Self:     botUser,
		Pipeline: pipeline,
		Captcha:  manager,
		Locks:    locks,
		Welcome:  greeter,
		Replies:  replies.NewService(replies.NewMemoryStore()),
		Settings: settings,
		Admins:   admins,
		Roles:    roles,
		Audit:    sink,
		Clock:    clock,
	})

	return &harness{
		api:      api,
		bot:      b,
		clock:    clock,
		locks:    locks,
		captcha:  manager,
		settings: settingsStore,
		roles:    roles,
		audit:    sink,
	}
}

func chatMessage(chat *tgbotapi.Chat, from tgbotapi.User, text string) *tgbotapi.Message {
	sender := from
	m := &tgbotapi.Message{
		MessageID: int(messageSeq.Add(1)),
		From:      &sender,
		Chat:      chat,
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		n := strings.IndexFunc(text, unicode.IsSpace)
		if n < 0 {
			n = len(text)
		}
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: n}}
	}
	return m
}

func groupMessage(from tgbotapi.User, text string) *tgbotapi.Message {
	return chatMessage(&tgbotapi.Chat{ID: testChat, Type: "supergroup", Title: "Test Group"}, from, text)
}

func (h *harness) send(m *tgbotapi.Message) {
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: m})
}

func (h *harness) press(from tgbotapi.User, data string) {
	sender := from
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      fmt.Sprintf("cb-%d", messageSeq.Add(1)),
		From:    &sender,
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: testChat, Type: "supergroup"}},
		Data:    data,
	}})
}

func (h *harness) callbackAnswers() []string {
	var out []string
	for _, c := range requestsOf[tgbotapi.CallbackConfig](h.api) {
		out = append(out, c.Text)
	}
	return out
}

func TestPrivateStart(t *testing.T) {
	h := newHarness(t)

	h.send(chatMessage(&tgbotapi.Chat{ID: 2, Type: "private"}, memberUser, "/start"))

	msg, ok := h.api.lastMessage()
	require.True(t, ok)
	assert.Contains(t, msg.Text, "ShhhToshi")
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotNil(t, markup.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://t.me/guard_bot?startgroup=true", *markup.InlineKeyboard[0][0].URL)
}

func TestPrivateIgnoresOtherCommands(t *testing.T) {
	h := newHarness(t)

	h.send(chatMessage(&tgbotapi.Chat{ID: 1, Type: "private"}, adminUser, "/ban 2"))
	h.send(chatMessage(&tgbotapi.Chat{ID: 1, Type: "private"}, adminUser, "hello"))

	assert.Zero(t, h.api.sentCount())
	assert.Empty(t, requestsOf[tgbotapi.BanChatMemberConfig](h.api))
}

func TestHelpInGroup(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(memberUser, "/help"))

	assert.True(t, h.api.hasText("Available Commands"))
}

func TestBanByReply(t *testing.T) {
	h := newHarness(t)

	m := groupMessage(adminUser, "/ban flooding")
	m.ReplyToMessage = groupMessage(memberUser, "spam spam")
	h.send(m)

	bans := requestsOf[tgbotapi.BanChatMemberConfig](h.api)
	require.Len(t, bans, 1)
	assert.Equal(t, memberUser.ID, bans[0].UserID)
	assert.True(t, h.api.hasText("Bob has been banned. Reason: flooding"))
	assert.True(t, h.audit.has("User Bob (2) banned by Alice (1). Reason: flooding"))
}

func TestBanByIDWithDefaultReason(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/ban 2"))

	require.Len(t, requestsOf[tgbotapi.BanChatMemberConfig](h.api), 1)
	assert.True(t, h.api.hasText("Reason: No reason specified"))
}

func TestBanRefusesAdminsAndSelf(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/ban 99"))
	h.send(groupMessage(adminUser, "/ban 1"))

	assert.Empty(t, requestsOf[tgbotapi.BanChatMemberConfig](h.api))
	assert.True(t, h.api.hasText("I cannot ban myself."))
	assert.True(t, h.api.hasText("I cannot ban an admin."))
}

func TestBanWithoutTarget(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/ban"))
	h.send(groupMessage(adminUser, "/ban 777"))

	assert.Empty(t, requestsOf[tgbotapi.BanChatMemberConfig](h.api))
	assert.True(t, h.api.hasText("provide a valid user ID to ban"))
}

func TestAdminCommandFromMemberIsIgnored(t *testing.T) {
	h := newHarness(t)

	m := groupMessage(memberUser, "/ban")
	m.ReplyToMessage = groupMessage(adminUser, "hi")
	h.send(m)

	assert.Zero(t, h.api.sentCount())
	assert.Empty(t, requestsOf[tgbotapi.BanChatMemberConfig](h.api))
}

func TestCommandForAnotherBotIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/help@other_bot"))
	assert.Zero(t, h.api.sentCount())

	h.send(groupMessage(adminUser, "/help@guard_bot"))
	assert.True(t, h.api.hasText("Available Commands"))
}

func TestUnbanSendsInviteLink(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/unban 2"))

	unbans := requestsOf[tgbotapi.UnbanChatMemberConfig](h.api)
	require.Len(t, unbans, 1)
	assert.True(t, unbans[0].OnlyIfBanned)

	links := requestsOf[tgbotapi.CreateChatInviteLinkConfig](h.api)
	require.Len(t, links, 1)
	assert.Equal(t, 1, links[0].MemberLimit)
	assert.Equal(t, int(h.clock.Now().Add(5*time.Minute).Unix()), links[0].ExpireDate)

	assert.True(t, h.api.hasText("Bob has been unbanned."))
	assert.True(t, h.api.hasText("https://t.me/+invite"))
}

func TestMuteAndUnmute(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/mute 2 30"))

	restricts := requestsOf[tgbotapi.RestrictChatMemberConfig](h.api)
	require.Len(t, restricts, 1)
	assert.False(t, restricts[0].Permissions.CanSendMessages)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute).Unix(), restricts[0].UntilDate)
	assert.True(t, h.api.hasText("Bob has been muted for 30 minutes."))

	h.send(groupMessage(adminUser, "/unmute 2"))

	restricts = requestsOf[tgbotapi.RestrictChatMemberConfig](h.api)
	require.Len(t, restricts, 2)
	assert.True(t, restricts[1].Permissions.CanSendMessages)
	assert.True(t, h.api.hasText("Bob has been unmuted."))
}

func TestMuteRejectsDurationOverYear(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/mute 2 527041"))
	h.send(groupMessage(adminUser, "/mute 2 307445735"))

	assert.Empty(t, requestsOf[tgbotapi.RestrictChatMemberConfig](h.api))
	assert.True(t, h.api.hasText("Mute duration must be a whole number of minutes, at most 527040"))

	h.send(groupMessage(adminUser, "/mute 2 527040"))

	restricts := requestsOf[tgbotapi.RestrictChatMemberConfig](h.api)
	require.Len(t, restricts, 1)
	assert.Equal(t, h.clock.Now().Add(366*24*time.Hour).Unix(), restricts[0].UntilDate)
}

func TestMutePermanentlyByReply(t *testing.T) {
	h := newHarness(t)

	m := groupMessage(adminUser, "/mute")
	m.ReplyToMessage = groupMessage(memberUser, "noise")
	h.send(m)

	restricts := requestsOf[tgbotapi.RestrictChatMemberConfig](h.api)
	require.Len(t, restricts, 1)
	assert.Zero(t, restricts[0].UntilDate)
	assert.True(t, h.api.hasText("Bob has been muted permanently."))
}

func TestWarnRequiresReply(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/warn"))
	assert.True(t, h.api.hasText("Please reply to a user's message to warn them."))

	m := groupMessage(adminUser, "/warn")
	m.ReplyToMessage = groupMessage(memberUser, "rude")
	h.send(m)
	assert.True(t, h.api.hasText("Warning issued to Bob."))
	assert.True(t, h.audit.has("Warning issued to Bob (2) by Alice (1)."))
}

func TestLockLifecycle(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/lock 10"))
	assert.True(t, h.api.hasText("Group locked. Locked for 10 minutes."))
	assert.True(t, h.audit.has("Group locked by admin 1."))

	blocked := groupMessage(memberUser, "hello")
	h.send(blocked)
	assert.Contains(t, h.api.deletedMessages(), blocked.MessageID)

	adminMsg := groupMessage(adminUser, "still here")
	h.send(adminMsg)
	assert.NotContains(t, h.api.deletedMessages(), adminMsg.MessageID)

	h.send(groupMessage(adminUser, "/status"))
	assert.True(t, h.api.hasText("It will unlock in approximately 10 minutes."))

	h.clock.Advance(10 * time.Minute)
	assert.True(t, h.api.hasText("Group automatically unlocked."))
	assert.True(t, h.audit.has("Group unlocked by auto-unlock."))

	after := groupMessage(memberUser, "hello again")
	h.send(after)
	assert.NotContains(t, h.api.deletedMessages(), after.MessageID)

	h.send(groupMessage(adminUser, "/status"))
	assert.True(t, h.api.hasText("Group is currently unlocked."))
}

func TestPermanentLockAndManualUnlock(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/lock"))
	h.send(groupMessage(adminUser, "/status"))
	assert.True(t, h.api.hasText("permanently locked (until manually /unlock)"))

	h.send(groupMessage(adminUser, "/unlock"))
	assert.True(t, h.api.hasText("Group unlocked."))
	assert.False(t, h.locks.IsLocked(context.Background(), testChat))

	h.send(groupMessage(adminUser, "/unlock"))
	assert.True(t, h.api.hasText("Group is not currently locked."))
}

func TestLockRejectsBadDuration(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/lock soon"))

	assert.True(t, h.api.hasText("Usage: /lock [minutes]"))
	assert.False(t, h.locks.IsLocked(context.Background(), testChat))
}

func TestLockRejectsDurationBeyondRange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, arg := range []string{"307445735", "200000000", "99999999999999999999"} {
		h.send(groupMessage(adminUser, "/lock "+arg))
		assert.False(t, h.locks.IsLocked(ctx, testChat), "/lock %s", arg)
	}
	assert.True(t, h.api.hasText("Usage: /lock [minutes]"))
	assert.False(t, h.api.hasText("Failed to lock the group."))
	assert.Zero(t, h.locks.ArmedTimers())
}

func TestLockAcceptsLongestDuration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.send(groupMessage(adminUser, fmt.Sprintf("/lock %d", maxLockMinutes)))

	rec, err := h.locks.Status(ctx, testChat)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Until)
	assert.Equal(t, time.Duration(maxLockMinutes)*time.Minute, rec.Until.Sub(h.clock.Now()))

	h.clock.Advance(time.Hour)
	assert.True(t, h.locks.IsLocked(ctx, testChat))
}

func TestParseMinutes(t *testing.T) {
	tests := []struct {
		in    string
		limit int64
		want  int64
		ok    bool
	}{
		{"0", 10, 0, true},
		{"10", 10, 10, true},
		{"11", 10, 0, false},
		{"-1", 10, 0, false},
		{"1.5", 10, 0, false},
		{"99999999999999999999", maxLockMinutes, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseMinutes(tt.in, tt.limit)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func joinMessage(users ...tgbotapi.User) *tgbotapi.Message {
	m := groupMessage(users[0], "")
	m.NewChatMembers = users
	return m
}

func TestCaptchaSolved(t *testing.T) {
	h := newHarness(t)

	h.send(joinMessage(newcomer))
	require.True(t, h.captcha.Pending(testChat, newcomer.ID))

	prompt, ok := h.api.lastMessage()
	require.True(t, ok)
	assert.Contains(t, prompt.Text, `Please tap "I am not a bot"`)

	pendingMsg := groupMessage(newcomer, "hi all")
	h.send(pendingMsg)
	assert.Contains(t, h.api.deletedMessages(), pendingMsg.MessageID)

	data := captcha.CallbackData(newcomer.ID, "human")
	h.press(memberUser, data)
	assert.Contains(t, h.callbackAnswers(), "This CAPTCHA is not for you.")
	assert.True(t, h.captcha.Pending(testChat, newcomer.ID))

	h.press(newcomer, data)
	assert.Contains(t, h.callbackAnswers(), "CAPTCHA solved successfully!")
	assert.False(t, h.captcha.Pending(testChat, newcomer.ID))
	assert.True(t, h.api.hasText("to the group!"))

	h.press(newcomer, data)
	assert.Contains(t, h.callbackAnswers(), "This CAPTCHA is no longer active.")
}

func TestCaptchaTimeoutKicks(t *testing.T) {
	h := newHarness(t)

	h.send(joinMessage(newcomer))
	require.True(t, h.captcha.Pending(testChat, newcomer.ID))

	h.clock.Advance(time.Minute)

	assert.False(t, h.captcha.Pending(testChat, newcomer.ID))
	bans := requestsOf[tgbotapi.BanChatMemberConfig](h.api)
	require.Len(t, bans, 1)
	assert.Equal(t, newcomer.ID, bans[0].UserID)
	assert.True(t, h.api.hasText("Carol was kicked for failing CAPTCHA."))
	assert.True(t, h.audit.has("kicked for CAPTCHA failure (timeout)"))
}

func TestCaptchaDisabledWelcomesImmediately(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/togglecaptcha"))
	assert.True(t, h.api.hasText("CAPTCHA verification disabled."))

	h.send(joinMessage(newcomer))
	assert.False(t, h.captcha.Pending(testChat, newcomer.ID))
	assert.True(t, h.api.hasText("to the group!"))
}

func TestBotJoiningIsNotChallenged(t *testing.T) {
	h := newHarness(t)

	h.send(joinMessage(botUser))

	assert.False(t, h.captcha.Pending(testChat, botUser.ID))
	assert.Zero(t, h.api.sentCount())
}

func TestMemberLeavingDropsChallenge(t *testing.T) {
	h := newHarness(t)

	h.send(joinMessage(newcomer))
	require.True(t, h.captcha.Pending(testChat, newcomer.ID))

	left := groupMessage(newcomer, "")
	left.LeftChatMember = &newcomer
	h.send(left)

	assert.False(t, h.captcha.Pending(testChat, newcomer.ID))
}

func TestMalformedCaptchaCallback(t *testing.T) {
	h := newHarness(t)

	h.press(newcomer, captcha.CallbackPrefix+"garbage")

	assert.Equal(t, []string{"This CAPTCHA is no longer active."}, h.callbackAnswers())
}

func TestCustomCommands(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/addcmd rules Be nice to each other"))
	assert.True(t, h.api.hasText("Custom command <code>/rules</code> added successfully."))

	h.send(groupMessage(memberUser, "/rules"))
	msg, ok := h.api.lastMessage()
	require.True(t, ok)
	assert.Equal(t, "Be nice to each other", msg.Text)

	h.send(groupMessage(adminUser, "/editcmd rules Be kind"))
	assert.True(t, h.api.hasText("Custom command <code>/rules</code> updated successfully."))

	h.send(groupMessage(memberUser, "/rules@guard_bot"))
	msg, _ = h.api.lastMessage()
	assert.Equal(t, "Be kind", msg.Text)

	h.send(groupMessage(adminUser, "/delcmd rules"))
	assert.True(t, h.api.hasText("Custom command <code>/rules</code> deleted successfully."))

	h.api.reset()
	h.send(groupMessage(memberUser, "/rules"))
	assert.Zero(t, h.api.sentCount())
}

func TestCustomCommandWithButtons(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/addcmd site Our site\n```json\n[[{\"text\":\"Open\",\"url\":\"https://example.com\"}]]\n```"))
	h.send(groupMessage(memberUser, "/site"))

	msg, ok := h.api.lastMessage()
	require.True(t, ok)
	assert.Equal(t, "Our site", msg.Text)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "Open", markup.InlineKeyboard[0][0].Text)
}

func TestCustomCommandValidation(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/addcmd ban nope"))
	assert.True(t, h.api.hasText("is a built-in command"))

	h.send(groupMessage(adminUser, "/addcmd"))
	assert.True(t, h.api.hasText("Usage: /addcmd [name] [response]"))

	h.send(groupMessage(adminUser, "/editcmd missing text"))
	assert.True(t, h.api.hasText("Custom command <code>/missing</code> not found."))

	h.send(groupMessage(adminUser, "/delcmd missing"))
	assert.True(t, h.api.hasText("Custom command <code>/missing</code> not found."))
}

func TestKeywordTriggers(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/addkw hello Hi there!"))
	assert.True(t, h.api.hasText("Keyword trigger for <code>hello</code> added successfully."))

	h.send(groupMessage(memberUser, "well HELLO everyone"))
	msg, ok := h.api.lastMessage()
	require.True(t, ok)
	assert.Equal(t, "Hi there!", msg.Text)

	h.send(groupMessage(adminUser, "/listkw"))
	assert.True(t, h.api.hasText("Active Keyword Triggers:"))

	h.send(groupMessage(adminUser, "/delkw hello"))
	assert.True(t, h.api.hasText("Keyword trigger for <code>hello</code> deleted successfully."))

	h.send(groupMessage(adminUser, "/listkw"))
	assert.True(t, h.api.hasText("No keyword triggers set for this group."))
}

func TestLinkFilterToggle(t *testing.T) {
	h := newHarness(t)

	link := groupMessage(memberUser, "see https://example.com")
	h.send(link)
	assert.Contains(t, h.api.deletedMessages(), link.MessageID)
	assert.True(t, h.audit.has("Link detected and deleted from Bob (2)"))

	h.send(groupMessage(adminUser, "/togglelinks"))
	assert.True(t, h.api.hasText("Link blocking disabled."))

	allowed := groupMessage(memberUser, "see https://example.org")
	h.send(allowed)
	assert.NotContains(t, h.api.deletedMessages(), allowed.MessageID)
}

func TestBannedWords(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/addbanned Crypto"))
	assert.True(t, h.api.hasText("Added <code>crypto</code> to banned words."))

	h.send(groupMessage(adminUser, "/addbanned crypto"))
	assert.True(t, h.api.hasText("<code>crypto</code> is already banned."))

	bad := groupMessage(memberUser, "buy CRYPTO now")
	h.send(bad)
	assert.Contains(t, h.api.deletedMessages(), bad.MessageID)

	h.send(groupMessage(adminUser, "/delbanned crypto"))
	assert.True(t, h.api.hasText("Removed <code>crypto</code> from banned words."))

	clean := groupMessage(memberUser, "buy crypto later")
	h.send(clean)
	assert.NotContains(t, h.api.deletedMessages(), clean.MessageID)
}

func TestForwardedFilter(t *testing.T) {
	h := newHarness(t)

	fwd := groupMessage(memberUser, "look at this")
	fwd.ForwardDate = 1700000000
	h.send(fwd)
	assert.NotContains(t, h.api.deletedMessages(), fwd.MessageID)

	h.send(groupMessage(adminUser, "/toggleforwarded"))
	assert.True(t, h.api.hasText("Forwarded message blocking enabled."))

	fwd2 := groupMessage(memberUser, "and this")
	fwd2.ForwardFromChat = &tgbotapi.Chat{ID: 555, Type: "channel"}
	h.send(fwd2)
	assert.Contains(t, h.api.deletedMessages(), fwd2.MessageID)
}

func TestSpamIsDeleted(t *testing.T) {
	h := newHarness(t)

	var last *tgbotapi.Message
	for i := 0; i < 6; i++ {
		last = groupMessage(memberUser, fmt.Sprintf("msg %d", i))
		h.send(last)
	}

	assert.Equal(t, []int{last.MessageID}, h.api.deletedMessages())
	assert.True(t, h.audit.has("Spam detected from Bob (2). Message deleted."))
}

func TestSettingsReport(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/settings"))

	msg, ok := h.api.lastMessage()
	require.True(t, ok)
	assert.Contains(t, msg.Text, "Current Group Settings:")
	assert.Contains(t, msg.Text, "- CAPTCHA enabled: Enabled")
	assert.Contains(t, msg.Text, "- Auto-delete forwarded messages: Disabled")
	assert.Contains(t, msg.Text, "- Welcome message: Default")
}

func TestWelcomeSetupAndTest(t *testing.T) {
	h := newHarness(t)

	m := groupMessage(adminUser, "/setwelcome Hi {first}, welcome to {chatname}!")
	m.ReplyToMessage = groupMessage(adminUser, "")
	m.ReplyToMessage.Photo = []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "AgACAgIAAxkBAAIB"}}
	h.send(m)

	assert.True(t, h.api.hasText("Welcome message updated successfully.\nMedia banner also set."))
	g, err := h.settings.GetSettings(context.Background(), testChat)
	require.NoError(t, err)
	assert.Equal(t, "Hi {first}, welcome to {chatname}!", g.WelcomeText)
	assert.Equal(t, "AgACAgIAAxkBAAIB", g.WelcomeMedia)

	h.send(groupMessage(adminUser, "/testwelcome"))
	assert.True(t, h.api.hasText("Hi Alice, welcome to Test Group!"))
}

func TestRoles(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/setrole 2 Moderator"))
	assert.True(t, h.api.hasText("Set role for Bob to <code>Moderator</code>."))
	role, _ := h.roles.Role(context.Background(), testChat, memberUser.ID)
	assert.Equal(t, "Moderator", role)

	h.send(groupMessage(adminUser, "/removerole 2"))
	assert.True(t, h.api.hasText("Role removed for Bob."))

	h.send(groupMessage(adminUser, "/removerole 2"))
	assert.True(t, h.api.hasText("User Bob does not have a role set."))
}

func TestAdminMenu(t *testing.T) {
	h := newHarness(t)

	h.send(groupMessage(adminUser, "/admin"))
	msg, ok := h.api.lastMessage()
	require.True(t, ok)
	assert.Equal(t, "Admin menu feature is under development.", msg.Text)
	_, ok = msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.True(t, ok)

	h.press(memberUser, callbackAdminLock)
	assert.True(t, h.api.hasText("You are not an admin to use this functionality."))

	h.press(adminUser, callbackAdminLock)
	assert.True(t, h.api.hasText("Group Lock menu (Placeholder)."))
	assert.Len(t, h.callbackAnswers(), 2)
}

func TestRunProcessesUpdatesUntilClosed(t *testing.T) {
	h := newHarness(t)

	updates := make(chan tgbotapi.Update, 3)
	for _, user := range []tgbotapi.User{adminUser, memberUser, newcomer} {
		updates <- tgbotapi.Update{Message: chatMessage(&tgbotapi.Chat{ID: user.ID, Type: "private"}, user, "/help")}
	}
	close(updates)

	done := make(chan struct{})
	go func() {
		h.bot.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the channel was closed")
	}
	assert.Equal(t, 3, h.api.sentCount())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan tgbotapi.Update)

	done := make(chan struct{})
	go func() {
		h.bot.Run(ctx, updates)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestLockStatusText(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(90 * time.Second)

	assert.Equal(t, "Group is currently unlocked.", lockStatusText(nil, now))
	assert.Contains(t, lockStatusText(&lock.Record{Locked: true}, now), "permanently locked")
	assert.Contains(t, lockStatusText(&lock.Record{Locked: true, Until: &until}, now), "approximately 2 minutes")
}

func TestToModeration(t *testing.T) {
	m := groupMessage(memberUser, "")
	m.Caption = "photo with link"
	m.CaptionEntities = []tgbotapi.MessageEntity{{Type: "url", Offset: 0, Length: 5}}
	m.ForwardSenderName = "Hidden"

	got := toModeration(m)
	assert.Equal(t, "photo with link", got.Text)
	assert.True(t, got.HasLink)
	assert.True(t, got.Forwarded)
	assert.Equal(t, "Bob", got.SenderName)
}
