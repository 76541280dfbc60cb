package bot

import (
	"context"
	"slices"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-guard/db"
)

// fakeAPI записывает вызовы Bot API
type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	members  map[int64]tgbotapi.ChatMember
	nextID   int

	sendErr    error
	requestErr error
	memberErr  error
	inviteLink string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		members:    make(map[int64]tgbotapi.ChatMember),
		nextID:     1000,
		inviteLink: "https://t.me/+invite",
	}
}

func (f *fakeAPI) setMember(u tgbotapi.User, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := u
	f.members[u.ID] = tgbotapi.ChatMember{User: &user, Status: status}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	f.requests = append(f.requests, c)
	if _, ok := c.(tgbotapi.CreateChatInviteLinkConfig); ok {
		return &tgbotapi.APIResponse{Ok: true, Result: []byte(`{"invite_link":"` + f.inviteLink + `"}`)}, nil
	}
	return &tgbotapi.APIResponse{Ok: true, Result: []byte("true")}, nil
}

func (f *fakeAPI) GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	return tgbotapi.Chat{ID: config.ChatID, Title: "Test Group", Type: "supergroup"}, nil
}

func (f *fakeAPI) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberErr != nil {
		return tgbotapi.ChatMember{}, f.memberErr
	}
	member, ok := f.members[config.UserID]
	if !ok {
		return tgbotapi.ChatMember{}, &tgbotapi.Error{Code: 400, Message: "Bad Request: user not found"}
	}
	return member, nil
}

// texts тексты отправленных сообщений и подписи вложений
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.PhotoConfig:
			out = append(out, m.Caption)
		case tgbotapi.AnimationConfig:
			out = append(out, m.Caption)
		case tgbotapi.VideoConfig:
			out = append(out, m.Caption)
		case tgbotapi.DocumentConfig:
			out = append(out, m.Caption)
		}
	}
	return out
}

// lastMessage последнее отправленное текстовое сообщение
func (f *fakeAPI) lastMessage() (tgbotapi.MessageConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if m, ok := f.sent[i].(tgbotapi.MessageConfig); ok {
			return m, true
		}
	}
	return tgbotapi.MessageConfig{}, false
}

func (f *fakeAPI) hasText(substr string) bool {
	return slices.ContainsFunc(f.texts(), func(s string) bool {
		return strings.Contains(s, substr)
	})
}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeAPI) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.requests = nil
}

// requestsOf запросы заданного типа
func requestsOf[T tgbotapi.Chattable](f *fakeAPI) []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []T
	for _, c := range f.requests {
		if v, ok := c.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// deletedMessages id удаленных сообщений
func (f *fakeAPI) deletedMessages() []int {
	var ids []int
	for _, d := range requestsOf[tgbotapi.DeleteMessageConfig](f) {
		ids = append(ids, d.MessageID)
	}
	return ids
}

// fakeSettingsStore настройки групп в памяти
type fakeSettingsStore struct {
	mu    sync.Mutex
	data  map[int64]db.GroupSettings
	reads int
	err   error
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{data: make(map[int64]db.GroupSettings)}
}

func (s *fakeSettingsStore) getLocked(chatID int64) db.GroupSettings {
	if g, ok := s.data[chatID]; ok {
		return g
	}
	return db.DefaultGroupSettings(chatID)
}

func (s *fakeSettingsStore) GetSettings(_ context.Context, chatID int64) (db.GroupSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return db.GroupSettings{}, s.err
	}
	return s.getLocked(chatID), nil
}

func (s *fakeSettingsStore) Toggle(_ context.Context, chatID int64, setting db.Setting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.getLocked(chatID)
	v := !g.Enabled(setting)
	switch setting {
	case db.SettingCaptcha:
		g.CaptchaEnabled = v
	case db.SettingLinks:
		g.BlockLinks = v
	case db.SettingBannedWords:
		g.BannedWordsEnabled = v
	case db.SettingForwarded:
		g.BlockForwarded = v
	}
	s.data[chatID] = g
	return v, nil
}

func (s *fakeSettingsStore) AddBannedWord(_ context.Context, chatID int64, word string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.getLocked(chatID)
	word = db.NormalizeBannedWord(word)
	if slices.Contains(g.BannedWords, word) {
		return false, nil
	}
	g.BannedWords = append(slices.Clone(g.BannedWords), word)
	s.data[chatID] = g
	return true, nil
}

func (s *fakeSettingsStore) RemoveBannedWord(_ context.Context, chatID int64, word string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.getLocked(chatID)
	word = db.NormalizeBannedWord(word)
	i := slices.Index(g.BannedWords, word)
	if i < 0 {
		return false, nil
	}
	g.BannedWords = slices.Delete(slices.Clone(g.BannedWords), i, i+1)
	s.data[chatID] = g
	return true, nil
}

func (s *fakeSettingsStore) SetWelcome(_ context.Context, chatID int64, text, mediaFileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.getLocked(chatID)
	g.WelcomeText, g.WelcomeMedia = text, mediaFileID
	s.data[chatID] = g
	return nil
}

type roleKey struct {
	chatID int64
	userID int64
}

// fakeRoleStore роли в памяти
type fakeRoleStore struct {
	mu    sync.Mutex
	roles map[roleKey]string
}

func newFakeRoleStore() *fakeRoleStore {
	return &fakeRoleStore{roles: make(map[roleKey]string)}
}

func (s *fakeRoleStore) Role(_ context.Context, chatID, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[roleKey{chatID, userID}], nil
}

func (s *fakeRoleStore) SetRole(_ context.Context, chatID, userID int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[roleKey{chatID, userID}] = role
	return nil
}

func (s *fakeRoleStore) RemoveRole(_ context.Context, chatID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := roleKey{chatID, userID}
	_, ok := s.roles[k]
	delete(s.roles, k)
	return ok, nil
}

// recordingSink запоминает записи аудита
type recordingSink struct {
	mu      sync.Mutex
	entries []string
}

func (s *recordingSink) Emit(_ context.Context, _ int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, text)
	return nil
}

func (s *recordingSink) has(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.entries, func(e string) bool {
		return strings.Contains(e, substr)
	})
}
