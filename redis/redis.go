// Package redis публикует события аудита в Redis pub/sub для внешних потребителей
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"tg-guard/config"
	"tg-guard/monitoring"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AuditEvent событие аудита в канале Redis
type AuditEvent struct {
	ID     string    `json:"id"`
	ChatID int64     `json:"chat_id"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Publisher отправляет события аудита в канал. Реализует audit.Sink
type Publisher struct {
	client  *redis.Client
	channel string
	now     func() time.Time
	logger  *monitoring.StructuredLogger
}

// Subscriber читает события аудита из канала
type Subscriber struct {
	client  *redis.Client
	channel string
	logger  *monitoring.StructuredLogger
}

func newClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewPublisher подключается к Redis и проверяет соединение
func NewPublisher(cfg *config.RedisConfig) (*Publisher, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	logger := monitoring.GetLogger("redis")
	logger.Info("Redis publisher connected", "addr", cfg.Addr, "channel", cfg.AuditChannel)

	return &Publisher{
		client:  client,
		channel: cfg.AuditChannel,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// Emit публикует событие аудита
func (p *Publisher) Emit(ctx context.Context, chatID int64, text string) error {
	data, err := json.Marshal(AuditEvent{
		ID:     uuid.NewString(),
		ChatID: chatID,
		Text:   text,
		At:     p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Ping проверяет соединение
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// NewSubscriber подключается к Redis и проверяет соединение
func NewSubscriber(cfg *config.RedisConfig) (*Subscriber, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	logger := monitoring.GetLogger("redis")
	logger.Info("Redis subscriber connected", "addr", cfg.Addr, "channel", cfg.AuditChannel)

	return &Subscriber{client: client, channel: cfg.AuditChannel, logger: logger}, nil
}

// Subscribe вызывает handler для каждого события до отмены ctx.
// Сообщения, которые не удалось разобрать, пропускаются
func (s *Subscriber) Subscribe(ctx context.Context, handler func(AuditEvent) error) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event AuditEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("failed to decode audit event", "error", err)
				continue
			}
			if err := handler(event); err != nil {
				s.logger.Error("audit event handler failed", "event_id", event.ID, "error", err)
			}
		}
	}
}

func (s *Subscriber) Close() error {
	return s.client.Close()
}
