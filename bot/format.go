package bot

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength лимит Telegram на длину текста сообщения
const MaxMessageLength = 4096

// truncate обрезает строку до n рун с многоточием.
// Если в последней четверти есть пробел, режет по нему, чтобы не рвать слово
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	trimmed := string(r[:n])
	if lastSpace := strings.LastIndex(trimmed, " "); lastSpace > 0 && utf8.RuneCountInString(trimmed[:lastSpace]) > n*3/4 {
		trimmed = trimmed[:lastSpace]
	}
	return trimmed + "..."
}

// splitMessage делит текст на части не длиннее limit рун.
// Режет по пустым строкам, затем по переводам строки, и только потом посреди строки
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	currentLen := 0
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			parts = append(parts, s)
		}
		current.Reset()
		currentLen = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if currentLen+lineLen > limit {
			flush()
		}
		for lineLen > limit {
			r := []rune(line)
			parts = append(parts, string(r[:limit]))
			line = string(r[limit:])
			lineLen -= limit
		}
		// пустая строка между блоками хороший повод начать новую часть
		if line == "\n" && currentLen > limit/2 {
			flush()
			continue
		}
		current.WriteString(line)
		currentLen += lineLen
	}
	flush()
	return parts
}
