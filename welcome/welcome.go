// Package welcome отправляет приветствие участнику, прошедшему проверку.
package welcome

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"tg-guard/captcha"
	"tg-guard/content"
	"tg-guard/monitoring"
	"tg-guard/schedule"
	"tg-guard/state"
)

// DefaultTemplate приветствие для группы без настроенного шаблона
const DefaultTemplate = "Welcome {mention} to the group!"

// DefaultTTL через сколько удаляется приветствие
const DefaultTTL = 60 * time.Second

// MediaKind тип баннера приветствия
type MediaKind int

const (
	MediaPhoto MediaKind = iota
	MediaAnimation
	MediaVideo
	MediaDocument
)

func (k MediaKind) String() string {
	switch k {
	case MediaAnimation:
		return "animation"
	case MediaVideo:
		return "video"
	case MediaDocument:
		return "document"
	default:
		return "photo"
	}
}

// DetectMedia угадывает тип вложения по file_id
func DetectMedia(fileID string) MediaKind {
	switch {
	case strings.HasPrefix(fileID, "CgAC") || strings.HasSuffix(fileID, "_gif"):
		return MediaAnimation
	case strings.HasPrefix(fileID, "BAAC") || strings.HasSuffix(fileID, "_video"):
		return MediaVideo
	default:
		return MediaPhoto
	}
}

// Template шаблон приветствия группы
type Template struct {
	// Text исходный текст с плейсхолдерами и, возможно, блоком кнопок
	Text        string
	MediaFileID string
}

// TemplateSource шаблоны приветствий по группам
type TemplateSource interface {
	WelcomeTemplate(ctx context.Context, chatID int64) (Template, error)
}

// RoleSource роли участников
type RoleSource interface {
	Role(ctx context.Context, chatID, userID int64) (string, error)
}

// Sender отправка приветствия в Telegram
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, layout content.Layout) (int, error)
	SendMedia(ctx context.Context, chatID int64, kind MediaKind, fileID, caption string, layout content.Layout) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	ChatTitle(ctx context.Context, chatID int64) (string, error)
}

// Service приветствия. Реализует captcha.Admitter
type Service struct {
	templates TemplateSource
	roles     RoleSource
	sender    Sender
	clock     schedule.Clock
	ttl       time.Duration
	last      *state.Memory[int64, int]
	logger    *monitoring.StructuredLogger
}

// NewService создает сервис приветствий
func NewService(templates TemplateSource, roles RoleSource, sender Sender, clock schedule.Clock, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		templates: templates,
		roles:     roles,
		sender:    sender,
		clock:     clock,
		ttl:       ttl,
		last:      state.NewMemory[int64, int](),
		logger:    monitoring.GetLogger("welcome"),
	}
}

var _ captcha.Admitter = (*Service)(nil)

// Admit приветствует участника. Предыдущее приветствие группы удаляется,
// новое удаляется автоматически через ttl.
func (s *Service) Admit(ctx context.Context, chatID int64, member captcha.Member) error {
	parsed, tmpl, err := s.render(ctx, chatID, member)
	if err != nil {
		return err
	}

	if prev, ok := s.last.Delete(chatID); ok {
		s.deleteQuietly(ctx, chatID, prev)
	}

	messageID, err := s.send(ctx, chatID, tmpl.MediaFileID, parsed)
	if err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}

	s.last.Update(chatID, func(int, bool) (int, bool) { return messageID, true })
	s.clock.AfterFunc(s.ttl, func() {
		s.last.DeleteIf(chatID, func(id int) bool { return id == messageID })
		s.deleteQuietly(context.Background(), chatID, messageID)
	})

	s.logger.Info("member welcomed", "chat_id", chatID, "user_id", member.ID, "message_id", messageID)
	return nil
}

// Test отправляет приветствие без автоудаления, для /testwelcome
func (s *Service) Test(ctx context.Context, chatID int64, member captcha.Member) (int, error) {
	parsed, tmpl, err := s.render(ctx, chatID, member)
	if err != nil {
		return 0, err
	}
	return s.send(ctx, chatID, tmpl.MediaFileID, parsed)
}

func (s *Service) render(ctx context.Context, chatID int64, member captcha.Member) (content.Parsed, Template, error) {
	tmpl, err := s.templates.WelcomeTemplate(ctx, chatID)
	if err != nil {
		return content.Parsed{}, Template{}, fmt.Errorf("load welcome template: %w", err)
	}
	if strings.TrimSpace(tmpl.Text) == "" {
		tmpl.Text = DefaultTemplate
	}

	role, err := s.roles.Role(ctx, chatID, member.ID)
	if err != nil {
		s.logger.Warn("failed to load member role", "chat_id", chatID, "user_id", member.ID, "error", err)
		role = ""
	}

	title, err := s.sender.ChatTitle(ctx, chatID)
	if err != nil {
		s.logger.Debug("failed to load chat title", "chat_id", chatID, "error", err)
	}

	return Render(tmpl.Text, member, role, title), tmpl, nil
}

// send отправляет баннер с подписью, при ошибке документ, затем только текст
func (s *Service) send(ctx context.Context, chatID int64, mediaFileID string, parsed content.Parsed) (int, error) {
	if mediaFileID == "" {
		return s.sender.SendText(ctx, chatID, parsed.Text, parsed.Layout)
	}

	kind := DetectMedia(mediaFileID)
	id, err := s.sender.SendMedia(ctx, chatID, kind, mediaFileID, parsed.Text, parsed.Layout)
	if err == nil {
		return id, nil
	}
	s.logger.Warn("welcome media failed, trying document", "chat_id", chatID, "kind", kind.String(), "error", err)

	id, err = s.sender.SendMedia(ctx, chatID, MediaDocument, mediaFileID, parsed.Text, parsed.Layout)
	if err == nil {
		return id, nil
	}
	s.logger.Warn("welcome document failed, sending text only", "chat_id", chatID, "error", err)

	return s.sender.SendText(ctx, chatID, parsed.Text, parsed.Layout)
}

func (s *Service) deleteQuietly(ctx context.Context, chatID int64, messageID int) {
	if err := s.sender.DeleteMessage(ctx, chatID, messageID); err != nil {
		s.logger.Debug("failed to delete welcome", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// Render подставляет данные участника в шаблон и отделяет кнопки
func Render(template string, member captcha.Member, role, chatTitle string) content.Parsed {
	parsed := content.Parse(template)

	name := member.FirstName
	if name == "" {
		name = member.DisplayName()
	}
	roleTag := ""
	if role != "" {
		roleTag = " [" + role + "]"
	}
	mention := fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>%s`, member.ID, html.EscapeString(name), html.EscapeString(roleTag))

	username := name
	if member.Username != "" {
		username = "@" + member.Username
	}

	parsed.Text = strings.NewReplacer(
		"{mention}", mention,
		"{first}", html.EscapeString(name),
		"{username}", html.EscapeString(username),
		"{id}", strconv.FormatInt(member.ID, 10),
		"{chatname}", html.EscapeString(chatTitle),
	).Replace(parsed.Text)
	return parsed
}
