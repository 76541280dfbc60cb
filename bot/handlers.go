package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-guard/content"
	"tg-guard/db"
	"tg-guard/lock"
	"tg-guard/monitoring"
	"tg-guard/replies"
)

// inviteLinkTTL срок действия ссылки после /unban
const inviteLinkTTL = 5 * time.Minute

const (
	// maxLockMinutes самый длинный срок, который помещается в time.Duration
	maxLockMinutes = math.MaxInt64 / int64(time.Minute)
	// maxMuteMinutes 366 дней: более долгие ограничения Telegram считает бессрочными
	maxMuteMinutes = 366 * 24 * 60
)

const targetHint = "Please reply to a user's message or provide a valid user ID"

const helpText = `<b>Available Commands:</b>

<b>Moderation (admins):</b>
/ban [user] [reason] - Ban a user.
/unban [user] - Unban a user and get a one-time invite link.
/mute [user] [minutes] - Mute a user, permanently if no duration is given.
/unmute [user] - Unmute a user.
/warn - Reply to a message to warn its author.

<b>Custom commands (admins):</b>
/addcmd [name] [response] - Add a custom command. Supports HTML and inline buttons (JSON block).
/editcmd [name] [response] - Edit a custom command.
/delcmd [name] - Delete a custom command.

<b>Welcome (admins):</b>
/setwelcome [message] - Set the welcome message. Placeholders: {mention}, {first}, {username}, {id}, {chatname}. Reply to a photo, video or GIF to set a banner.
/testwelcome - Preview the welcome message.

<b>Keyword triggers (admins):</b>
/addkw [keyword] [response] - Reply automatically when a message contains the keyword.
/delkw [keyword] - Delete a keyword trigger.
/listkw - List keyword triggers.

<b>Roles (admins):</b>
/setrole [user] [role] - Set a role tag shown in the welcome message.
/removerole [user] - Remove a role.

<b>Settings (admins):</b>
/settings - Show group settings.
/togglecaptcha, /togglelinks, /togglebannedwords, /toggleforwarded - Switch filters on or off.
/addbanned [word], /delbanned [word] - Manage banned words.
/admin - Admin menu.
/stats - Group statistics.

<b>Group lock (admins):</b>
/lock [minutes] - Lock the group, permanently if no duration is given.
/unlock - Unlock the group.
/status - Show the lock status.

New members must pass a one-tap CAPTCHA within the time limit or they are removed.
For commands that target a user, reply to their message or pass their numeric ID.`

// builtinCommands команды бота. Их нельзя переопределить через /addcmd
var builtinCommands = map[string]bool{
	"start": false, "help": false,
	"ban": true, "unban": true, "mute": true, "unmute": true, "warn": true,
	"addcmd": true, "editcmd": true, "delcmd": true,
	"setwelcome": true, "testwelcome": true,
	"addkw": true, "delkw": true, "listkw": true,
	"setrole": true, "removerole": true,
	"togglecaptcha": true, "togglelinks": true, "togglebannedwords": true, "toggleforwarded": true,
	"addbanned": true, "delbanned": true, "settings": true,
	"admin": true, "stats": true,
	"lock": true, "unlock": true, "status": true,
}

// handleCommand выполняет встроенную команду. false - команда не встроенная
// и передается пользовательским ответам
func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message, isAdmin bool) bool {
	if at := m.CommandWithAt(); strings.Contains(at, "@") {
		// Команда другому боту
		if !strings.EqualFold(at[strings.Index(at, "@")+1:], b.self.UserName) {
			return true
		}
	}

	name := strings.ToLower(m.Command())
	adminOnly, builtin := builtinCommands[name]
	if !builtin {
		return false
	}
	monitoring.IncrementTelegramCommands(name)
	if adminOnly && !isAdmin {
		b.logger.Debug("admin command from non-admin ignored", "chat_id", m.Chat.ID, "user_id", m.From.ID, "command", name)
		return true
	}

	args := strings.TrimSpace(m.CommandArguments())
	switch name {
	case "start":
		b.handleStart(ctx, m)
	case "help":
		b.handleHelp(ctx, m)
	case "ban":
		b.handleBan(ctx, m)
	case "unban":
		b.handleUnban(ctx, m)
	case "mute":
		b.handleMute(ctx, m)
	case "unmute":
		b.handleUnmute(ctx, m)
	case "warn":
		b.handleWarn(ctx, m)
	case "addcmd":
		b.handleAddCommand(ctx, m, args)
	case "editcmd":
		b.handleEditCommand(ctx, m, args)
	case "delcmd":
		b.handleDeleteCommand(ctx, m, args)
	case "setwelcome":
		b.handleSetWelcome(ctx, m, m.CommandArguments())
	case "testwelcome":
		b.handleTestWelcome(ctx, m)
	case "addkw":
		b.handleAddKeyword(ctx, m, args)
	case "delkw":
		b.handleDeleteKeyword(ctx, m, args)
	case "listkw":
		b.handleListKeywords(ctx, m)
	case "setrole":
		b.handleSetRole(ctx, m)
	case "removerole":
		b.handleRemoveRole(ctx, m)
	case "togglecaptcha":
		b.handleToggle(ctx, m, db.SettingCaptcha, "CAPTCHA verification")
	case "togglelinks":
		b.handleToggle(ctx, m, db.SettingLinks, "Link blocking")
	case "togglebannedwords":
		b.handleToggle(ctx, m, db.SettingBannedWords, "Banned words filter")
	case "toggleforwarded":
		b.handleToggle(ctx, m, db.SettingForwarded, "Forwarded message blocking")
	case "addbanned":
		b.handleAddBanned(ctx, m, args)
	case "delbanned":
		b.handleDeleteBanned(ctx, m, args)
	case "settings":
		b.handleSettings(ctx, m)
	case "admin":
		b.reply(ctx, m, "Admin menu feature is under development.", createAdminMenuKeyboard())
	case "stats":
		b.handleStats(ctx, m)
	case "lock":
		b.handleLock(ctx, m, args)
	case "unlock":
		b.handleUnlock(ctx, m)
	case "status":
		b.handleStatus(ctx, m)
	}
	return true
}

// reply отвечает в чат. text - HTML
func (b *Bot) reply(ctx context.Context, m *tgbotapi.Message, text string, markup interface{}) {
	if _, err := b.client.Reply(ctx, m.Chat.ID, m.MessageID, text, markup); err != nil {
		b.logger.Warn("failed to send reply", "chat_id", m.Chat.ID, "error", err)
	}
}

func (b *Bot) replyText(ctx context.Context, m *tgbotapi.Message, format string, args ...interface{}) {
	b.reply(ctx, m, fmt.Sprintf(format, args...), nil)
}

func (b *Bot) emitAudit(ctx context.Context, chatID int64, text string) {
	if err := b.audit.Emit(ctx, chatID, text); err != nil {
		b.logger.Warn("audit emit failed", "chat_id", chatID, "error", err)
	}
}

func esc(s string) string {
	return html.EscapeString(s)
}

// splitFirst отделяет первое слово от остатка, сохраняя переводы строк в остатке
func splitFirst(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// resolveTarget определяет участника из ответа на сообщение или числового ID
// в первом аргументе. Возвращает оставшиеся аргументы
func (b *Bot) resolveTarget(ctx context.Context, m *tgbotapi.Message) (*tgbotapi.User, string, bool) {
	args := strings.TrimSpace(m.CommandArguments())
	if m.ReplyToMessage != nil && m.ReplyToMessage.From != nil {
		return m.ReplyToMessage.From, args, true
	}

	first, rest := splitFirst(args)
	if first == "" {
		return nil, "", false
	}
	userID, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return nil, "", false
	}
	member, err := b.client.ChatMember(ctx, m.Chat.ID, userID)
	if err != nil || member.User == nil {
		b.logger.Debug("target user not found", "chat_id", m.Chat.ID, "user_id", userID, "error", err)
		return nil, "", false
	}
	return member.User, rest, true
}

// checkTarget запрещает действия против бота и администраторов
func (b *Bot) checkTarget(ctx context.Context, m *tgbotapi.Message, target *tgbotapi.User, verb string) bool {
	if target.ID == b.self.ID {
		b.replyText(ctx, m, "I cannot %s myself.", verb)
		return false
	}
	if b.admins.IsAdmin(ctx, m.Chat.ID, target.ID) {
		b.replyText(ctx, m, "I cannot %s an admin.", verb)
		return false
	}
	return true
}

func (b *Bot) handleStart(ctx context.Context, m *tgbotapi.Message) {
	b.reply(ctx, m,
		"Hello! I am the official ShhhToshi bot. I can help you moderate your group, manage custom commands, set up welcome messages, and much much more.",
		createAddToGroupKeyboard(b.self.UserName))
}

func (b *Bot) handleHelp(ctx context.Context, m *tgbotapi.Message) {
	b.reply(ctx, m, helpText, nil)
}

func (b *Bot) handleBan(ctx context.Context, m *tgbotapi.Message) {
	target, reason, ok := b.resolveTarget(ctx, m)
	if !ok {
		b.replyText(ctx, m, "%s to ban.", targetHint)
		return
	}
	if !b.checkTarget(ctx, m, target, "ban") {
		return
	}
	if reason == "" {
		reason = "No reason specified"
	}

	name := displayName(target)
	if err := b.client.Ban(ctx, m.Chat.ID, target.ID); err != nil {
		b.logger.Error("failed to ban user", "chat_id", m.Chat.ID, "user_id", target.ID, "error", err)
		b.replyText(ctx, m, "Failed to ban %s. %s", esc(name), esc(describeTelegramError(err)))
		return
	}
	b.admins.Forget(m.Chat.ID, target.ID)

	b.replyText(ctx, m, "%s has been banned. Reason: %s", esc(name), esc(reason))
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("User %s (%d) banned by %s (%d). Reason: %s",
		name, target.ID, displayName(m.From), m.From.ID, reason))
}

func (b *Bot) handleUnban(ctx context.Context, m *tgbotapi.Message) {
	target, _, ok := b.resolveTarget(ctx, m)
	if !ok {
		b.replyText(ctx, m, "%s to unban.", targetHint)
		return
	}

	name := displayName(target)
	if err := b.client.Unban(ctx, m.Chat.ID, target.ID, true); err != nil {
		b.logger.Error("failed to unban user", "chat_id", m.Chat.ID, "user_id", target.ID, "error", err)
		b.replyText(ctx, m, "Failed to unban %s. %s", esc(name), esc(describeTelegramError(err)))
		return
	}

	text := fmt.Sprintf("%s has been unbanned. They can now join the group again.", esc(name))
	link, err := b.client.CreateInviteLink(ctx, m.Chat.ID, 1, b.clock.Now().Add(inviteLinkTTL))
	if err != nil {
		b.logger.Warn("failed to create invite link after unban", "chat_id", m.Chat.ID, "error", err)
		text += "\n\nNote: I could not generate an invite link. They will need to rejoin via another group invite link."
	} else {
		text += fmt.Sprintf("\n\nTo rejoin, they can use this invite link (valid for %d minutes): %s",
			int(inviteLinkTTL/time.Minute), esc(link))
	}

	b.reply(ctx, m, text, nil)
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("User %s (%d) unbanned by %s (%d).",
		name, target.ID, displayName(m.From), m.From.ID))
}

func (b *Bot) handleMute(ctx context.Context, m *tgbotapi.Message) {
	target, rest, ok := b.resolveTarget(ctx, m)
	if !ok {
		b.replyText(ctx, m, "%s to mute, along with duration in minutes (e.g., /mute 123456789 60).", targetHint)
		return
	}
	if !b.checkTarget(ctx, m, target, "mute") {
		return
	}

	var minutes int64
	if first, _ := splitFirst(rest); first != "" {
		n, ok := parseMinutes(first, maxMuteMinutes)
		if !ok {
			b.replyText(ctx, m, "Mute duration must be a whole number of minutes, at most %d (366 days). Omit it to mute permanently.", maxMuteMinutes)
			return
		}
		minutes = n
	}

	var until time.Time
	duration := "permanently"
	if minutes > 0 {
		until = b.clock.Now().Add(time.Duration(minutes) * time.Minute)
		duration = fmt.Sprintf("for %d minutes", minutes)
	}

	name := displayName(target)
	if err := b.client.Restrict(ctx, m.Chat.ID, target.ID, tgbotapi.ChatPermissions{}, until); err != nil {
		b.logger.Error("failed to mute user", "chat_id", m.Chat.ID, "user_id", target.ID, "error", err)
		b.replyText(ctx, m, "Failed to mute %s. %s", esc(name), esc(describeTelegramError(err)))
		return
	}

	b.replyText(ctx, m, "%s has been muted %s.", esc(name), duration)
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("User %s (%d) muted by %s (%d) %s.",
		name, target.ID, displayName(m.From), m.From.ID, duration))
}

// unmutedPermissions права обычного участника после /unmute
var unmutedPermissions = tgbotapi.ChatPermissions{
	CanSendMessages:       true,
	CanSendMediaMessages:  true,
	CanSendPolls:          true,
	CanSendOtherMessages:  true,
	CanAddWebPagePreviews: true,
}

func (b *Bot) handleUnmute(ctx context.Context, m *tgbotapi.Message) {
	target, _, ok := b.resolveTarget(ctx, m)
	if !ok {
		b.replyText(ctx, m, "%s to unmute.", targetHint)
		return
	}

	name := displayName(target)
	if err := b.client.Restrict(ctx, m.Chat.ID, target.ID, unmutedPermissions, time.Time{}); err != nil {
		b.logger.Error("failed to unmute user", "chat_id", m.Chat.ID, "user_id", target.ID, "error", err)
		b.replyText(ctx, m, "Failed to unmute %s. %s", esc(name), esc(describeTelegramError(err)))
		return
	}

	b.replyText(ctx, m, "%s has been unmuted.", esc(name))
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("User %s (%d) unmuted by %s (%d).",
		name, target.ID, displayName(m.From), m.From.ID))
}

func (b *Bot) handleWarn(ctx context.Context, m *tgbotapi.Message) {
	if m.ReplyToMessage == nil || m.ReplyToMessage.From == nil {
		b.replyText(ctx, m, "Please reply to a user's message to warn them.")
		return
	}
	target := m.ReplyToMessage.From
	if !b.checkTarget(ctx, m, target, "warn") {
		return
	}

	name := displayName(target)
	b.replyText(ctx, m, "Warning issued to %s.", esc(name))
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Warning issued to %s (%d) by %s (%d).",
		name, target.ID, displayName(m.From), m.From.ID))
}

// layoutNote предупреждение о блоке кнопок, который не удалось разобрать
func layoutNote(layoutErr error) string {
	if layoutErr == nil {
		return ""
	}
	return fmt.Sprintf("\nNote: the inline buttons block was ignored: %s", esc(layoutErr.Error()))
}

func (b *Bot) handleAddCommand(ctx context.Context, m *tgbotapi.Message, args string) {
	name, response := splitFirst(args)
	if name == "" || response == "" {
		b.replyText(ctx, m, "Usage: /addcmd [name] [response]")
		return
	}
	if _, ok := builtinCommands[replies.NormalizeName(name)]; ok {
		b.replyText(ctx, m, "<code>/%s</code> is a built-in command and cannot be overridden.", esc(replies.NormalizeName(name)))
		return
	}

	created, layoutErr, err := b.replies.SaveCommand(ctx, m.Chat.ID, name, response)
	if err != nil {
		b.replyCommandError(ctx, m, name, err)
		return
	}
	name = replies.NormalizeName(name)
	action := "updated"
	if created {
		action = "added"
	}
	b.replyText(ctx, m, "Custom command <code>/%s</code> %s successfully.%s", esc(name), action, layoutNote(layoutErr))
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Custom command /%s %s.", name, action))
}

func (b *Bot) handleEditCommand(ctx context.Context, m *tgbotapi.Message, args string) {
	name, response := splitFirst(args)
	if name == "" || response == "" {
		b.replyText(ctx, m, "Usage: /editcmd [name] [new_response]")
		return
	}

	layoutErr, err := b.replies.EditCommand(ctx, m.Chat.ID, name, response)
	if err != nil {
		b.replyCommandError(ctx, m, name, err)
		return
	}
	name = replies.NormalizeName(name)
	b.replyText(ctx, m, "Custom command <code>/%s</code> updated successfully.%s", esc(name), layoutNote(layoutErr))
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Custom command /%s updated.", name))
}

func (b *Bot) replyCommandError(ctx context.Context, m *tgbotapi.Message, name string, err error) {
	switch {
	case errors.Is(err, replies.ErrInvalidName):
		b.replyText(ctx, m, "Command names may only contain latin letters, digits and underscores (up to 32).")
	case errors.Is(err, replies.ErrNotFound):
		b.replyText(ctx, m, "Custom command <code>/%s</code> not found.", esc(replies.NormalizeName(name)))
	case errors.Is(err, replies.ErrEmptyResponse):
		b.replyText(ctx, m, "The response cannot be empty.")
	default:
		b.logger.Error("failed to save custom command", "chat_id", m.Chat.ID, "name", name, "error", err)
		b.replyText(ctx, m, "Failed to add/edit custom command.")
	}
}

func (b *Bot) handleDeleteCommand(ctx context.Context, m *tgbotapi.Message, args string) {
	name, _ := splitFirst(args)
	if name == "" {
		b.replyText(ctx, m, "Usage: /delcmd [name]")
		return
	}
	deleted, err := b.replies.DeleteCommand(ctx, m.Chat.ID, name)
	name = replies.NormalizeName(name)
	switch {
	case err != nil:
		b.logger.Error("failed to delete custom command", "chat_id", m.Chat.ID, "name", name, "error", err)
		b.replyText(ctx, m, "Failed to delete custom command.")
	case !deleted:
		b.replyText(ctx, m, "Custom command <code>/%s</code> not found.", esc(name))
	default:
		b.replyText(ctx, m, "Custom command <code>/%s</code> deleted successfully.", esc(name))
		b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Custom command /%s deleted.", name))
	}
}

func (b *Bot) handleAddKeyword(ctx context.Context, m *tgbotapi.Message, args string) {
	keyword, response := splitFirst(args)
	if keyword == "" || response == "" {
		b.replyText(ctx, m, "Usage: /addkw [keyword] [response]")
		return
	}

	created, layoutErr, err := b.replies.SaveKeyword(ctx, m.Chat.ID, keyword, response)
	if err != nil {
		b.logger.Error("failed to save keyword trigger", "chat_id", m.Chat.ID, "keyword", keyword, "error", err)
		b.replyText(ctx, m, "Failed to add/edit keyword trigger.")
		return
	}
	keyword = strings.ToLower(keyword)
	action := "updated"
	if created {
		action = "added"
	}
	b.replyText(ctx, m, "Keyword trigger for <code>%s</code> %s successfully.%s", esc(keyword), action, layoutNote(layoutErr))
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Keyword trigger for %q %s.", keyword, action))
}

func (b *Bot) handleDeleteKeyword(ctx context.Context, m *tgbotapi.Message, args string) {
	keyword, _ := splitFirst(args)
	if keyword == "" {
		b.replyText(ctx, m, "Usage: /delkw [keyword]")
		return
	}
	keyword = strings.ToLower(keyword)
	deleted, err := b.replies.DeleteKeyword(ctx, m.Chat.ID, keyword)
	switch {
	case err != nil:
		b.logger.Error("failed to delete keyword trigger", "chat_id", m.Chat.ID, "keyword", keyword, "error", err)
		b.replyText(ctx, m, "Failed to delete keyword trigger.")
	case !deleted:
		b.replyText(ctx, m, "Keyword trigger for <code>%s</code> not found.", esc(keyword))
	default:
		b.replyText(ctx, m, "Keyword trigger for <code>%s</code> deleted successfully.", esc(keyword))
		b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Keyword trigger for %q deleted.", keyword))
	}
}

func (b *Bot) handleListKeywords(ctx context.Context, m *tgbotapi.Message) {
	keywords, err := b.replies.Keywords(ctx, m.Chat.ID)
	if err != nil {
		b.logger.Error("failed to list keyword triggers", "chat_id", m.Chat.ID, "error", err)
		b.replyText(ctx, m, "Failed to list keyword triggers.")
		return
	}
	if len(keywords) == 0 {
		b.replyText(ctx, m, "No keyword triggers set for this group.")
		return
	}

	var sb strings.Builder
	sb.WriteString("<b>Active Keyword Triggers:</b>\n\n")
	for i, kw := range keywords {
		fmt.Fprintf(&sb, "%d. Keyword: <code>%s</code>\n   Response: <code>%s</code>\n\n",
			i+1, esc(kw.Keyword), esc(truncate(kw.Response, 50)))
	}
	for _, part := range splitMessage(strings.TrimSpace(sb.String()), MaxMessageLength) {
		b.reply(ctx, m, part, nil)
	}
}

// welcomeMedia file_id баннера из сообщения, на которое ответили
func welcomeMedia(m *tgbotapi.Message) string {
	if m == nil {
		return ""
	}
	switch {
	case len(m.Photo) > 0:
		return m.Photo[len(m.Photo)-1].FileID
	case m.Video != nil:
		return m.Video.FileID
	case m.Animation != nil:
		return m.Animation.FileID
	case m.Document != nil && (strings.HasPrefix(m.Document.MimeType, "image/") || strings.HasPrefix(m.Document.MimeType, "video/")):
		return m.Document.FileID
	}
	return ""
}

func (b *Bot) handleSetWelcome(ctx context.Context, m *tgbotapi.Message, text string) {
	text = strings.TrimSpace(text)
	media := welcomeMedia(m.ReplyToMessage)

	if err := b.settings.SetWelcome(ctx, m.Chat.ID, text, media); err != nil {
		b.logger.Error("failed to save welcome message", "chat_id", m.Chat.ID, "error", err)
		b.replyText(ctx, m, "Failed to set welcome message.")
		return
	}

	reply := "Welcome message updated successfully."
	if media != "" {
		reply += "\nMedia banner also set."
	}
	if _, err := content.ParseStrict(text); err != nil {
		reply += layoutNote(err)
	}
	b.reply(ctx, m, reply, nil)

	mediaNote := media
	if mediaNote == "" {
		mediaNote = "None"
	}
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Welcome message set by %s: %q (Media: %s)",
		displayName(m.From), truncate(text, 100), mediaNote))
}

func (b *Bot) handleTestWelcome(ctx context.Context, m *tgbotapi.Message) {
	if _, err := b.welcome.Test(ctx, m.Chat.ID, toMember(*m.From)); err != nil {
		b.logger.Error("failed to send test welcome", "chat_id", m.Chat.ID, "error", err)
		b.replyText(ctx, m, "Failed to test welcome message. %s", esc(describeTelegramError(err)))
	}
}

func (b *Bot) handleSetRole(ctx context.Context, m *tgbotapi.Message) {
	target, role, ok := b.resolveTarget(ctx, m)
	if !ok || role == "" {
		b.replyText(ctx, m, "Usage: /setrole [user] [role]. Reply to a user or use their ID to set their role.")
		return
	}

	name := displayName(target)
	if err := b.roles.SetRole(ctx, m.Chat.ID, target.ID, role); err != nil {
		b.logger.Error("failed to set role", "chat_id", m.Chat.ID, "user_id", target.ID, "error", err)
		b.replyText(ctx, m, "Failed to set role.")
		return
	}
	b.replyText(ctx, m, "Set role for %s to <code>%s</code>.", esc(name), esc(role))
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Set role for %s (%d) to %q by %s (%d).",
		name, target.ID, role, displayName(m.From), m.From.ID))
}

func (b *Bot) handleRemoveRole(ctx context.Context, m *tgbotapi.Message) {
	target, _, ok := b.resolveTarget(ctx, m)
	if !ok {
		b.replyText(ctx, m, "Usage: /removerole [user]. Reply to a user or use their ID.")
		return
	}

	name := displayName(target)
	removed, err := b.roles.RemoveRole(ctx, m.Chat.ID, target.ID)
	switch {
	case err != nil:
		b.logger.Error("failed to remove role", "chat_id", m.Chat.ID, "user_id", target.ID, "error", err)
		b.replyText(ctx, m, "Failed to remove role.")
	case !removed:
		b.replyText(ctx, m, "User %s does not have a role set.", esc(name))
	default:
		b.replyText(ctx, m, "Role removed for %s.", esc(name))
		b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Role removed for user (%d) by %s (%d).",
			target.ID, displayName(m.From), m.From.ID))
	}
}

func (b *Bot) handleToggle(ctx context.Context, m *tgbotapi.Message, setting db.Setting, title string) {
	enabled, err := b.settings.Toggle(ctx, m.Chat.ID, setting)
	if err != nil {
		b.logger.Error("failed to toggle setting", "chat_id", m.Chat.ID, "setting", setting, "error", err)
		b.replyText(ctx, m, "Failed to update settings.")
		return
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	b.replyText(ctx, m, "%s %s.", title, state)
	b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("%s %s by %s (%d).", title, state, displayName(m.From), m.From.ID))
}

func (b *Bot) handleAddBanned(ctx context.Context, m *tgbotapi.Message, args string) {
	word := db.NormalizeBannedWord(args)
	if word == "" {
		b.replyText(ctx, m, "Usage: /addbanned [word]")
		return
	}
	added, err := b.settings.AddBannedWord(ctx, m.Chat.ID, word)
	switch {
	case err != nil:
		b.logger.Error("failed to add banned word", "chat_id", m.Chat.ID, "error", err)
		b.replyText(ctx, m, "Failed to update banned words.")
	case !added:
		b.replyText(ctx, m, "<code>%s</code> is already banned.", esc(word))
	default:
		b.replyText(ctx, m, "Added <code>%s</code> to banned words.", esc(word))
		b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Banned word %q added by %s (%d).", word, displayName(m.From), m.From.ID))
	}
}

func (b *Bot) handleDeleteBanned(ctx context.Context, m *tgbotapi.Message, args string) {
	word := db.NormalizeBannedWord(args)
	if word == "" {
		b.replyText(ctx, m, "Usage: /delbanned [word]")
		return
	}
	removed, err := b.settings.RemoveBannedWord(ctx, m.Chat.ID, word)
	switch {
	case err != nil:
		b.logger.Error("failed to remove banned word", "chat_id", m.Chat.ID, "error", err)
		b.replyText(ctx, m, "Failed to update banned words.")
	case !removed:
		b.replyText(ctx, m, "<code>%s</code> is not in the banned words list.", esc(word))
	default:
		b.replyText(ctx, m, "Removed <code>%s</code> from banned words.", esc(word))
		b.emitAudit(ctx, m.Chat.ID, fmt.Sprintf("Banned word %q removed by %s (%d).", word, displayName(m.From), m.From.ID))
	}
}

func onOff(v bool) string {
	if v {
		return "Enabled"
	}
	return "Disabled"
}

func (b *Bot) handleSettings(ctx context.Context, m *tgbotapi.Message) {
	s, err := b.settings.Group(ctx, m.Chat.ID)
	if err != nil {
		b.logger.Error("failed to load settings", "chat_id", m.Chat.ID, "error", err)
		b.replyText(ctx, m, "Failed to load group settings.")
		return
	}

	welcomeText := "Default"
	if strings.TrimSpace(s.WelcomeText) != "" {
		welcomeText = "Custom"
	}
	media := "Not Set"
	if s.WelcomeMedia != "" {
		media = "Set"
	}

	var sb strings.Builder
	sb.WriteString("Current Group Settings:\n")
	fmt.Fprintf(&sb, "- CAPTCHA enabled: %s\n", onOff(s.CaptchaEnabled))
	fmt.Fprintf(&sb, "- Auto-delete links: %s\n", onOff(s.BlockLinks))
	fmt.Fprintf(&sb, "- Auto-delete banned words: %s (%d words)\n", onOff(s.BannedWordsEnabled), len(s.BannedWords))
	fmt.Fprintf(&sb, "- Auto-delete forwarded messages: %s\n", onOff(s.BlockForwarded))
	fmt.Fprintf(&sb, "- Welcome message: %s\n", welcomeText)
	fmt.Fprintf(&sb, "- Welcome message media: %s", media)
	b.reply(ctx, m, sb.String(), nil)
}

func (b *Bot) handleStats(ctx context.Context, m *tgbotapi.Message) {
	b.replyText(ctx, m, "User statistics feature is under development.\nPending verifications across groups: %d",
		b.captcha.PendingCount())
}

// parseMinutes принимает целое число минут от 0 до limit включительно
func parseMinutes(s string, limit int64) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 || n > limit {
		return 0, false
	}
	return n, true
}

func (b *Bot) handleLock(ctx context.Context, m *tgbotapi.Message, args string) {
	var minutes int64
	if first, _ := splitFirst(args); first != "" {
		n, ok := parseMinutes(first, maxLockMinutes)
		if !ok {
			b.replyText(ctx, m, "Usage: /lock [minutes]. Without minutes the group stays locked until /unlock.")
			return
		}
		minutes = n
	}

	// Уведомление о блокировке отправляет LockNotifier
	if _, err := b.locks.Lock(ctx, m.Chat.ID, m.From.ID, time.Duration(minutes)*time.Minute); err != nil {
		b.logger.Error("failed to lock group", "chat_id", m.Chat.ID, "error", err)
		b.replyText(ctx, m, "Failed to lock the group.")
	}
}

func (b *Bot) handleUnlock(ctx context.Context, m *tgbotapi.Message) {
	wasLocked, err := b.locks.Unlock(ctx, m.Chat.ID, false)
	switch {
	case err != nil:
		b.logger.Error("failed to unlock group", "chat_id", m.Chat.ID, "error", err)
		b.replyText(ctx, m, "Failed to unlock the group.")
	case !wasLocked:
		b.replyText(ctx, m, "Group is not currently locked.")
	}
}

func (b *Bot) handleStatus(ctx context.Context, m *tgbotapi.Message) {
	rec, err := b.locks.Status(ctx, m.Chat.ID)
	if err != nil {
		b.logger.Error("failed to read lock status", "chat_id", m.Chat.ID, "error", err)
		b.replyText(ctx, m, "Failed to retrieve lock status.")
		return
	}
	b.reply(ctx, m, lockStatusText(rec, b.clock.Now()), nil)
}

// lockStatusText описание блокировки для /status. rec == nil - группа открыта
func lockStatusText(rec *lock.Record, now time.Time) string {
	if rec == nil {
		return "Group is currently unlocked."
	}
	if rec.Permanent() {
		return "Group is currently locked. It is permanently locked (until manually /unlock)."
	}
	minutes := int(math.Ceil(rec.Remaining(now).Minutes()))
	return fmt.Sprintf("Group is currently locked. It will unlock in approximately %d minutes.", minutes)
}
