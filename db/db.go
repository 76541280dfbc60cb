package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/lib/pq"

	"tg-guard/config"
	"tg-guard/db/migrations"
	"tg-guard/monitoring"
)

const queryTimeout = 5 * time.Second

// Store хранилище бота поверх PostgreSQL.
// Реализует lock.Store, replies.Store, welcome.TemplateSource и welcome.RoleSource
type Store struct {
	db     *sql.DB
	logger *monitoring.StructuredLogger
}

// New оборачивает открытое соединение
func New(db *sql.DB) *Store {
	return &Store{db: db, logger: monitoring.GetLogger("db")}
}

// DB возвращает нижележащее соединение
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность базы
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func Connect(cfg *config.DBConfig) (*sql.DB, error) {
	psqlInfo := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName, cfg.DBSSLMode,
	)
	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	monitoring.GetLogger("db").Info("Database connection established",
		"host", cfg.DBHost, "database", cfg.DBName)
	return db, nil
}

// InitSchema применяет недостающие миграции
func InitSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	monitoring.GetLogger("db").Info("Database schema is up to date", "applied", applied)
	return nil
}

// cleanUTF8String очищает строку от null байтов и некорректных UTF-8 последовательностей.
// PostgreSQL не принимает ни то, ни другое в колонках TEXT
func cleanUTF8String(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
