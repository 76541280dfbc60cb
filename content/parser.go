// Package content отделяет текст сообщения от описания inline-кнопок,
// заданного в конце шаблона блоком ```json.
package content

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"

	"tg-guard/monitoring"
)

// maxCallbackData ограничение Telegram на размер callback_data
const maxCallbackData = 64

var (
	json   = jsoniter.ConfigCompatibleWithStandardLibrary
	logger = monitoring.GetLogger("content")

	// Завершающий блок: ```json, перевод строки, тело, перевод строки, закрывающие ```
	trailingBlock = regexp.MustCompile("(?is)\\s*```json\\s*\\r?\\n(.+?)\\r?\\n\\s*```\\s*$")
)

var (
	ErrEmptyLayout  = errors.New("layout has no rows")
	ErrEmptyRow     = errors.New("layout row has no buttons")
	ErrEmptyText    = errors.New("button text is empty")
	ErrNoAction     = errors.New("button needs exactly one of callback_data or url")
	ErrCallbackSize = fmt.Errorf("callback_data exceeds %d bytes", maxCallbackData)
)

// Button кнопка inline-клавиатуры
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Layout ряды кнопок в порядке отображения
type Layout [][]Button

// Parsed текст для отправки и необязательная раскладка кнопок
type Parsed struct {
	Text   string
	Layout Layout
}

// HasLayout сообщает, удалось ли извлечь кнопки
func (p Parsed) HasLayout() bool {
	return len(p.Layout) > 0
}

// Parse отделяет завершающий блок кнопок от текста.
// Некорректный блок вырезается из текста, но кнопки не прикрепляются.
func Parse(raw string) Parsed {
	parsed, err := ParseStrict(raw)
	if err != nil {
		logger.Warn("button layout ignored", "error", err.Error())
	}
	return parsed
}

// ParseStrict работает как Parse, но возвращает ошибку разбора блока кнопок.
// Текст в Parsed всегда уже очищен от блока.
func ParseStrict(raw string) (Parsed, error) {
	loc := trailingBlock.FindStringSubmatchIndex(raw)
	if loc == nil {
		return Parsed{Text: raw}, nil
	}

	text := strings.TrimSpace(raw[:loc[0]])
	body := raw[loc[2]:loc[3]]

	layout, err := decodeLayout(body)
	if err != nil {
		return Parsed{Text: text}, fmt.Errorf("decode button layout: %w", err)
	}

	logger.Debug("button layout parsed", "rows", len(layout))
	return Parsed{Text: text, Layout: layout}, nil
}

func decodeLayout(body string) (Layout, error) {
	var layout Layout
	if err := json.UnmarshalFromString(body, &layout); err != nil {
		return nil, err
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return layout, nil
}

// Validate проверяет, что раскладку можно отправить в Telegram
func (l Layout) Validate() error {
	if len(l) == 0 {
		return ErrEmptyLayout
	}
	for i, row := range l {
		if len(row) == 0 {
			return fmt.Errorf("row %d: %w", i, ErrEmptyRow)
		}
		for j, b := range row {
			if strings.TrimSpace(b.Text) == "" {
				return fmt.Errorf("row %d button %d: %w", i, j, ErrEmptyText)
			}
			if (b.CallbackData == "") == (b.URL == "") {
				return fmt.Errorf("row %d button %d: %w", i, j, ErrNoAction)
			}
			if len(b.CallbackData) > maxCallbackData {
				return fmt.Errorf("row %d button %d: %w", i, j, ErrCallbackSize)
			}
		}
	}
	return nil
}

// Markup переводит раскладку в inline-клавиатуру Telegram
func (l Layout) Markup() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(l))
	for _, row := range l {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
