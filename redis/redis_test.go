package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-guard/config"
)

func testConfig(t *testing.T) *config.RedisConfig {
	t.Helper()
	mr := miniredis.RunT(t)
	return &config.RedisConfig{Enabled: true, Addr: mr.Addr(), AuditChannel: "tg-guard:audit"}
}

func TestNewPublisherFailsWithoutServer(t *testing.T) {
	_, err := NewPublisher(&config.RedisConfig{Addr: "127.0.0.1:1", AuditChannel: "x"})
	assert.Error(t, err)
}

func TestPublishAndSubscribe(t *testing.T) {
	cfg := testConfig(t)

	pub, err := NewPublisher(cfg)
	require.NoError(t, err)
	defer pub.Close()
	pub.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	sub, err := NewSubscriber(cfg)
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan AuditEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(ctx, func(e AuditEvent) error {
			events <- e
			return nil
		})
	}()

	// Ждем, пока подписка зарегистрируется на сервере
	require.Eventually(t, func() bool {
		n, err := pub.client.PubSubNumSub(context.Background(), cfg.AuditChannel).Result()
		return err == nil && n[cfg.AuditChannel] > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Emit(context.Background(), -100, "[-100] Group locked"))

	select {
	case e := <-events:
		assert.Equal(t, int64(-100), e.ChatID)
		assert.Equal(t, "[-100] Group locked", e.Text)
		assert.NotEmpty(t, e.ID)
		assert.True(t, e.At.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	case <-time.After(2 * time.Second):
		t.Fatal("audit event was not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestPublisherPing(t *testing.T) {
	pub, err := NewPublisher(testConfig(t))
	require.NoError(t, err)
	defer pub.Close()

	assert.NoError(t, pub.Ping(context.Background()))
}
