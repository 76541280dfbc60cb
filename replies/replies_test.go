package replies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID = int64(-100500)

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"/Rules":           "rules",
		"rules@GuardBot":   "rules",
		" /faq@guard_bot ": "faq",
		"plain":            "plain",
	}
	for input, expected := range tests {
		assert.Equal(t, expected, NormalizeName(input), input)
	}
}

func TestCommandLifecycle(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	created, layoutErr, err := svc.SaveCommand(ctx, chatID, "/Rules", "Be nice\n```json\n[[{\"text\":\"Read\",\"url\":\"https://t.me/r\"}]]\n```")
	require.NoError(t, err)
	assert.NoError(t, layoutErr)
	assert.True(t, created)

	parsed, ok := svc.Match(ctx, chatID, "/rules@GuardBot please")
	require.True(t, ok)
	assert.Equal(t, "Be nice", parsed.Text)
	assert.True(t, parsed.HasLayout())

	layoutErr, err = svc.EditCommand(ctx, chatID, "rules", "Be kind\n```json\n{broken\n```")
	require.NoError(t, err)
	assert.Error(t, layoutErr, "оператор узнает, что кнопки не разобраны")

	parsed, ok = svc.Match(ctx, chatID, "/rules")
	require.True(t, ok)
	assert.Equal(t, "Be kind", parsed.Text)
	assert.False(t, parsed.HasLayout())

	deleted, err := svc.DeleteCommand(ctx, chatID, "rules")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok = svc.Match(ctx, chatID, "/rules")
	assert.False(t, ok)
}

func TestEditMissingCommand(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.EditCommand(context.Background(), chatID, "nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveCommandValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, _, err := svc.SaveCommand(ctx, chatID, "bad name!", "x")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, _, err = svc.SaveCommand(ctx, chatID, "ok", "   ")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestKeywordMatching(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, _, err := svc.SaveKeyword(ctx, chatID, "Price", "See pinned message")
	require.NoError(t, err)
	_, _, err = svc.SaveKeyword(ctx, chatID, "airdrop", "No airdrops here")
	require.NoError(t, err)

	parsed, ok := svc.Match(ctx, chatID, "what is the PRICE today?")
	require.True(t, ok)
	assert.Equal(t, "See pinned message", parsed.Text)

	_, ok = svc.Match(ctx, chatID, "good morning")
	assert.False(t, ok)

	_, ok = svc.Match(ctx, chatID-1, "price")
	assert.False(t, ok, "ключевые слова привязаны к группе")

	keywords, err := svc.Keywords(ctx, chatID)
	require.NoError(t, err)
	assert.Len(t, keywords, 2)

	deleted, err := svc.DeleteKeyword(ctx, chatID, "PRICE")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestUnknownCommandIsNotMatched(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, ok := svc.Match(context.Background(), chatID, "/unknown")
	assert.False(t, ok)
}
