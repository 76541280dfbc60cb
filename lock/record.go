// Package lock управляет блокировкой группы: вручную до /unlock
// или на время с автоматическим снятием.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tg-guard/state"
)

// ErrNotFound у группы нет записи о блокировке
var ErrNotFound = errors.New("lock not found")

// PermanentReason причина бессрочной блокировки
const PermanentReason = "Permanently locked (until /unlock)"

// Record состояние блокировки группы
type Record struct {
	ChatID   int64
	Locked   bool
	Until    *time.Time
	Reason   string
	LockedBy int64
}

// Permanent сообщает, что блокировка снимается только вручную
func (r Record) Permanent() bool {
	return r.Until == nil
}

// Expired сообщает, что срок блокировки наступил
func (r Record) Expired(now time.Time) bool {
	return r.Until != nil && !now.Before(*r.Until)
}

// Remaining возвращает время до автоматического снятия
func (r Record) Remaining(now time.Time) time.Duration {
	if r.Until == nil || r.Expired(now) {
		return 0
	}
	return r.Until.Sub(now)
}

func timedReason(d time.Duration) string {
	return fmt.Sprintf("Locked for %d minutes", int(d/time.Minute))
}

// Store хранилище записей о блокировках
type Store interface {
	// GetLock возвращает ErrNotFound, если записи нет
	GetLock(ctx context.Context, chatID int64) (*Record, error)
	SaveLock(ctx context.Context, rec Record) error
	DeleteLock(ctx context.Context, chatID int64) error
	ListLocks(ctx context.Context) ([]Record, error)
}

// MemoryStore Store в памяти процесса
type MemoryStore struct {
	records *state.Memory[int64, Record]
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: state.NewMemory[int64, Record]()}
}

func (m *MemoryStore) GetLock(_ context.Context, chatID int64) (*Record, error) {
	rec, ok := m.records.Load(chatID)
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) SaveLock(_ context.Context, rec Record) error {
	m.records.Update(rec.ChatID, func(Record, bool) (Record, bool) {
		return rec, true
	})
	return nil
}

func (m *MemoryStore) DeleteLock(_ context.Context, chatID int64) error {
	m.records.Delete(chatID)
	return nil
}

func (m *MemoryStore) ListLocks(_ context.Context) ([]Record, error) {
	records := make([]Record, 0, m.records.Len())
	m.records.Range(func(_ int64, rec Record) bool {
		records = append(records, rec)
		return true
	})
	sort.Slice(records, func(i, j int) bool { return records[i].ChatID < records[j].ChatID })
	return records, nil
}
