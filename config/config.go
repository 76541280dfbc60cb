package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"tg-guard/antispam"
)

type DBConfig struct {
	DBHost    string
	DBPort    int
	DBUser    string
	DBPass    string
	DBName    string
	DBSSLMode string
}

type TgBotConfig struct {
	ApiKey        string
	Timeout       int
	Workers       int
	LogChatID     int64
	SuperAdminIDs []int64
	Debug         bool
	// Минимальные интервалы между отправками: общий и в пределах одного чата
	GlobalSendInterval time.Duration
	ChatSendInterval   time.Duration
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	AuditChannel string
}

type ModerationConfig struct {
	SpamThreshold    int
	SpamWindow       time.Duration
	SpamScope        antispam.Scope
	CaptchaTimeout   time.Duration
	WelcomeTTL       time.Duration
	AdminCacheTTL    time.Duration
	SettingsCacheTTL time.Duration
}

type HTTPConfig struct {
	Enabled        bool
	Addr           string
	RequestTimeout time.Duration
}

// newViper читает .env (если есть) и переменные окружения
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	v.SetDefault("POSTGRES_HOST", "db")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "password")
	v.SetDefault("POSTGRES_DB", "tg_guard")
	v.SetDefault("POSTGRES_SSLMODE", "disable")

	v.SetDefault("TELEGRAM_API_KEY", "")
	v.SetDefault("TIMEOUT", 60)
	v.SetDefault("BOT_WORKERS", 8)
	v.SetDefault("LOG_GROUP_ID", 0)
	v.SetDefault("SUPER_ADMIN_IDS", "")
	v.SetDefault("BOT_DEBUG", false)
	v.SetDefault("SEND_GLOBAL_INTERVAL", "35ms")
	v.SetDefault("SEND_CHAT_INTERVAL", "1s")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_ADDR", "redis:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_AUDIT_CHANNEL", "tg-guard:audit")

	v.SetDefault("SPAM_THRESHOLD", 5)
	v.SetDefault("SPAM_WINDOW", "5s")
	v.SetDefault("SPAM_SCOPE", string(antispam.ScopeUser))
	v.SetDefault("CAPTCHA_TIMEOUT", "60s")
	v.SetDefault("WELCOME_TTL", "60s")
	v.SetDefault("ADMIN_CACHE_TTL", "5m")
	v.SetDefault("SETTINGS_CACHE_TTL", "1m")

	v.SetDefault("HTTP_ENABLED", true)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("HTTP_REQUEST_TIMEOUT", "10s")
	return v
}

func LoadDBConfig() (*DBConfig, error) {
	v := newViper()
	port, err := cast.ToIntE(v.Get("POSTGRES_PORT"))
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("некорректный порт БД %q", v.GetString("POSTGRES_PORT"))
	}
	return &DBConfig{
		DBHost:    v.GetString("POSTGRES_HOST"),
		DBPort:    port,
		DBUser:    v.GetString("POSTGRES_USER"),
		DBPass:    v.GetString("POSTGRES_PASSWORD"),
		DBName:    v.GetString("POSTGRES_DB"),
		DBSSLMode: v.GetString("POSTGRES_SSLMODE"),
	}, nil
}

func LoadTgBotConfig() (*TgBotConfig, error) {
	v := newViper()
	apiKey := v.GetString("TELEGRAM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("не задан TELEGRAM_API_KEY")
	}
	timeout, err := positiveInt(v, "TIMEOUT")
	if err != nil {
		return nil, err
	}
	workers, err := positiveInt(v, "BOT_WORKERS")
	if err != nil {
		return nil, err
	}
	logChatID, err := cast.ToInt64E(v.Get("LOG_GROUP_ID"))
	if err != nil {
		return nil, fmt.Errorf("некорректный LOG_GROUP_ID: %w", err)
	}
	superAdmins, err := parseIDs(v.GetString("SUPER_ADMIN_IDS"))
	if err != nil {
		return nil, err
	}
	debug, err := cast.ToBoolE(v.Get("BOT_DEBUG"))
	if err != nil {
		return nil, fmt.Errorf("некорректный BOT_DEBUG: %w", err)
	}
	globalInterval, err := interval(v, "SEND_GLOBAL_INTERVAL")
	if err != nil {
		return nil, err
	}
	chatInterval, err := interval(v, "SEND_CHAT_INTERVAL")
	if err != nil {
		return nil, err
	}
	return &TgBotConfig{
		ApiKey:        apiKey,
		Timeout:       timeout,
		Workers:       workers,
		LogChatID:     logChatID,
		SuperAdminIDs: superAdmins,
		Debug:         debug,

		GlobalSendInterval: globalInterval,
		ChatSendInterval:   chatInterval,
	}, nil
}

func LoadRedisConfig() (*RedisConfig, error) {
	v := newViper()
	enabled, err := cast.ToBoolE(v.Get("REDIS_ENABLED"))
	if err != nil {
		return nil, fmt.Errorf("некорректный REDIS_ENABLED: %w", err)
	}
	db, err := cast.ToIntE(v.Get("REDIS_DB"))
	if err != nil || db < 0 {
		return nil, fmt.Errorf("некорректный номер БД Redis %q", v.GetString("REDIS_DB"))
	}
	return &RedisConfig{
		Enabled:      enabled,
		Addr:         v.GetString("REDIS_ADDR"),
		Password:     v.GetString("REDIS_PASSWORD"),
		DB:           db,
		AuditChannel: v.GetString("REDIS_AUDIT_CHANNEL"),
	}, nil
}

func LoadModerationConfig() (*ModerationConfig, error) {
	v := newViper()
	threshold, err := positiveInt(v, "SPAM_THRESHOLD")
	if err != nil {
		return nil, err
	}
	scope, err := antispam.ParseScope(v.GetString("SPAM_SCOPE"))
	if err != nil {
		return nil, fmt.Errorf("некорректный SPAM_SCOPE: %w", err)
	}

	cfg := &ModerationConfig{SpamThreshold: threshold, SpamScope: scope}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SPAM_WINDOW", &cfg.SpamWindow},
		{"CAPTCHA_TIMEOUT", &cfg.CaptchaTimeout},
		{"WELCOME_TTL", &cfg.WelcomeTTL},
		{"ADMIN_CACHE_TTL", &cfg.AdminCacheTTL},
		{"SETTINGS_CACHE_TTL", &cfg.SettingsCacheTTL},
	}
	for _, d := range durations {
		if *d.dst, err = duration(v, d.key); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func LoadHTTPConfig() (*HTTPConfig, error) {
	v := newViper()
	enabled, err := cast.ToBoolE(v.Get("HTTP_ENABLED"))
	if err != nil {
		return nil, fmt.Errorf("некорректный HTTP_ENABLED: %w", err)
	}
	timeout, err := duration(v, "HTTP_REQUEST_TIMEOUT")
	if err != nil {
		return nil, err
	}
	return &HTTPConfig{
		Enabled:        enabled,
		Addr:           v.GetString("HTTP_ADDR"),
		RequestTimeout: timeout,
	}, nil
}

func positiveInt(v *viper.Viper, key string) (int, error) {
	n, err := cast.ToIntE(v.Get(key))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("некорректное значение %s: %q", key, v.GetString(key))
	}
	return n, nil
}

// duration принимает значения вида 5s, 2m, 1h. Меньше секунды считается ошибкой
func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil || d < time.Second {
		return 0, fmt.Errorf("некорректная длительность %s: %q (ожидается, например, 30s или 5m)", key, v.GetString(key))
	}
	return d, nil
}

// interval допускает доли секунды. 0 отключает ограничение
func interval(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("некорректный интервал %s: %q", key, v.GetString(key))
	}
	return d, nil
}

// parseIDs разбирает список идентификаторов через запятую
func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := cast.ToInt64E(part)
		if err != nil {
			return nil, fmt.Errorf("некорректный идентификатор в SUPER_ADMIN_IDS: %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
