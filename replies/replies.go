// Package replies хранит пользовательские команды и ответы на ключевые слова.
// Ответы хранятся как есть и разбираются при каждой отправке.
package replies

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"tg-guard/content"
	"tg-guard/monitoring"
	"tg-guard/state"
)

var (
	// ErrNotFound команда или ключевое слово не найдены
	ErrNotFound = errors.New("reply not found")
	// ErrInvalidName имя команды содержит недопустимые символы
	ErrInvalidName = errors.New("command name must be 1-32 latin letters, digits or underscores")
	// ErrEmptyResponse пустой ответ
	ErrEmptyResponse = errors.New("response is empty")
)

var commandName = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// Command пользовательская команда группы
type Command struct {
	ChatID   int64
	Name     string
	Response string
}

// Keyword ответ на ключевое слово
type Keyword struct {
	ChatID   int64
	Keyword  string
	Response string
}

// Store хранилище команд и ключевых слов
type Store interface {
	GetCommand(ctx context.Context, chatID int64, name string) (*Command, error)
	// SaveCommand создает или заменяет команду. created=true для новой
	SaveCommand(ctx context.Context, cmd Command) (created bool, err error)
	DeleteCommand(ctx context.Context, chatID int64, name string) (bool, error)
	ListKeywords(ctx context.Context, chatID int64) ([]Keyword, error)
	SaveKeyword(ctx context.Context, kw Keyword) (created bool, err error)
	DeleteKeyword(ctx context.Context, chatID int64, keyword string) (bool, error)
}

// Service команды и ключевые слова
type Service struct {
	store  Store
	logger *monitoring.StructuredLogger
}

// NewService создает сервис ответов
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: monitoring.GetLogger("replies"),
	}
}

// NormalizeName приводит имя команды к виду хранения: без /, без @bot, в нижнем регистре
func NormalizeName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name)
}

// SaveCommand создает или обновляет команду. Ошибка разбора кнопок
// возвращается в layoutErr и не мешает сохранению.
func (s *Service) SaveCommand(ctx context.Context, chatID int64, name, response string) (created bool, layoutErr error, err error) {
	name = NormalizeName(name)
	if !commandName.MatchString(name) {
		return false, nil, ErrInvalidName
	}
	if strings.TrimSpace(response) == "" {
		return false, nil, ErrEmptyResponse
	}
	_, layoutErr = content.ParseStrict(response)

	created, err = s.store.SaveCommand(ctx, Command{ChatID: chatID, Name: name, Response: response})
	if err != nil {
		return false, layoutErr, fmt.Errorf("save command /%s: %w", name, err)
	}
	s.logger.Info("custom command saved", "chat_id", chatID, "name", name, "created", created)
	return created, layoutErr, nil
}

// EditCommand заменяет ответ существующей команды
func (s *Service) EditCommand(ctx context.Context, chatID int64, name, response string) (layoutErr error, err error) {
	name = NormalizeName(name)
	if _, err := s.store.GetCommand(ctx, chatID, name); err != nil {
		return nil, err
	}
	_, layoutErr, err = s.SaveCommand(ctx, chatID, name, response)
	return layoutErr, err
}

// DeleteCommand удаляет команду
func (s *Service) DeleteCommand(ctx context.Context, chatID int64, name string) (bool, error) {
	return s.store.DeleteCommand(ctx, chatID, NormalizeName(name))
}

// SaveKeyword создает или обновляет ответ на ключевое слово
func (s *Service) SaveKeyword(ctx context.Context, chatID int64, keyword, response string) (created bool, layoutErr error, err error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false, nil, fmt.Errorf("keyword is empty")
	}
	if strings.TrimSpace(response) == "" {
		return false, nil, ErrEmptyResponse
	}
	_, layoutErr = content.ParseStrict(response)

	created, err = s.store.SaveKeyword(ctx, Keyword{ChatID: chatID, Keyword: keyword, Response: response})
	if err != nil {
		return false, layoutErr, fmt.Errorf("save keyword %q: %w", keyword, err)
	}
	s.logger.Info("keyword trigger saved", "chat_id", chatID, "keyword", keyword, "created", created)
	return created, layoutErr, nil
}

// DeleteKeyword удаляет ответ на ключевое слово
func (s *Service) DeleteKeyword(ctx context.Context, chatID int64, keyword string) (bool, error) {
	return s.store.DeleteKeyword(ctx, chatID, strings.ToLower(strings.TrimSpace(keyword)))
}

// Keywords возвращает ключевые слова группы
func (s *Service) Keywords(ctx context.Context, chatID int64) ([]Keyword, error) {
	return s.store.ListKeywords(ctx, chatID)
}

// Match ищет ответ на сообщение: команда для текста с /, иначе первое
// ключевое слово, входящее в текст без учета регистра.
func (s *Service) Match(ctx context.Context, chatID int64, text string) (content.Parsed, bool) {
	if text == "" {
		return content.Parsed{}, false
	}

	if strings.HasPrefix(text, "/") {
		name := NormalizeName(strings.Fields(text)[0])
		cmd, err := s.store.GetCommand(ctx, chatID, name)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Error("failed to load command", "chat_id", chatID, "name", name, "error", err)
			}
			return content.Parsed{}, false
		}
		return content.Parse(cmd.Response), true
	}

	keywords, err := s.store.ListKeywords(ctx, chatID)
	if err != nil {
		s.logger.Error("failed to load keywords", "chat_id", chatID, "error", err)
		return content.Parsed{}, false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw.Keyword) {
			return content.Parse(kw.Response), true
		}
	}
	return content.Parsed{}, false
}

type commandKey struct {
	chatID int64
	name   string
}

// MemoryStore Store в памяти процесса
type MemoryStore struct {
	commands *state.Memory[commandKey, Command]
	keywords *state.Memory[commandKey, Keyword]
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		commands: state.NewMemory[commandKey, Command](),
		keywords: state.NewMemory[commandKey, Keyword](),
	}
}

func (m *MemoryStore) GetCommand(_ context.Context, chatID int64, name string) (*Command, error) {
	cmd, ok := m.commands.Load(commandKey{chatID, name})
	if !ok {
		return nil, ErrNotFound
	}
	return &cmd, nil
}

func (m *MemoryStore) SaveCommand(_ context.Context, cmd Command) (bool, error) {
	created := false
	m.commands.Update(commandKey{cmd.ChatID, cmd.Name}, func(_ Command, ok bool) (Command, bool) {
		created = !ok
		return cmd, true
	})
	return created, nil
}

func (m *MemoryStore) DeleteCommand(_ context.Context, chatID int64, name string) (bool, error) {
	_, ok := m.commands.Delete(commandKey{chatID, name})
	return ok, nil
}

func (m *MemoryStore) ListKeywords(_ context.Context, chatID int64) ([]Keyword, error) {
	var keywords []Keyword
	m.keywords.Range(func(k commandKey, kw Keyword) bool {
		if k.chatID == chatID {
			keywords = append(keywords, kw)
		}
		return true
	})
	sort.Slice(keywords, func(i, j int) bool { return keywords[i].Keyword < keywords[j].Keyword })
	return keywords, nil
}

func (m *MemoryStore) SaveKeyword(_ context.Context, kw Keyword) (bool, error) {
	created := false
	m.keywords.Update(commandKey{kw.ChatID, kw.Keyword}, func(_ Keyword, ok bool) (Keyword, bool) {
		created = !ok
		return kw, true
	})
	return created, nil
}

func (m *MemoryStore) DeleteKeyword(_ context.Context, chatID int64, keyword string) (bool, error) {
	_, ok := m.keywords.Delete(commandKey{chatID, keyword})
	return ok, nil
}
