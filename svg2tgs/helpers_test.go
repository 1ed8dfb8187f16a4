package svg2tgs

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hashed, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hashed)
	assert.Contains(t, hashed, "$argon2id$")

	valid, err := VerifyPassword(hashed, "hunter2")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = VerifyPassword(hashed, "wrong")
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = VerifyPassword("not-a-hash", "hunter2")
	require.Error(t, err)
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	a, err := HashPassword("same-password")
	require.NoError(t, err)
	b, err := HashPassword("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "", truncate("", 5))
	// multi-byte runes aren't split
	assert.Equal(t, "héllo", truncate("héllo wörld", 5))
}

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	_, ok := ContextLogger(ctx)
	assert.False(t, ok)

	logger := slog.Default().With("test", t.Name())
	ctx = WithLogger(ctx, logger)
	got, ok := ContextLogger(ctx)
	assert.True(t, ok)
	assert.Same(t, logger, got)
}

func TestStructToSlogValueRedaction(t *testing.T) {
	cfg := TelegramConfig{
		Token:       "secret-token",
		AdminIDs:    []int64{1},
		PollTimeout: DefaultPollTimeout,
	}
	v := structToSlogValue(cfg)
	require.Equal(t, slog.KindGroup, v.Kind())

	var tokenValue string
	for _, attr := range v.Group() {
		if attr.Key == "token" {
			tokenValue = attr.Value.String()
		}
	}
	assert.Equal(t, "[redacted]", tokenValue)
	assert.NotContains(t, v.String(), "secret-token")
}
