// Package schedule отделяет отложенные задачи от реальных таймеров,
// чтобы блокировки и проверки можно было тестировать на ручных часах.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// Task отменяемая отложенная задача
type Task interface {
	// Stop отменяет задачу. Возвращает false, если задача уже выполнилась или отменена
	Stop() bool
}

// Clock источник времени и планировщик одноразовых задач
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Task
}

// Real часы на основе time.AfterFunc
type Real struct{}

// Now возвращает текущее время
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc запускает fn в отдельной горутине через d
func (Real) AfterFunc(d time.Duration, fn func()) Task {
	return time.AfterFunc(d, fn)
}

// Manual часы с ручным продвижением времени для тестов.
// Задачи выполняются синхронно внутри Advance в порядке срока.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks map[uint64]*manualTask
}

type manualTask struct {
	clock *Manual
	id    uint64
	at    time.Time
	fn    func()
}

// NewManual создает ручные часы, начиная с указанного момента
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:   start,
		tasks: make(map[uint64]*manualTask),
	}
}

// Now возвращает текущее время часов
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc регистрирует задачу, которая выполнится при Advance
func (m *Manual) AfterFunc(d time.Duration, fn func()) Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	task := &manualTask{clock: m, id: m.seq, at: m.now.Add(d), fn: fn}
	m.tasks[task.id] = task
	return task
}

// Pending возвращает количество неотмененных задач
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance сдвигает время на d и выполняет все наступившие задачи
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		delete(m.tasks, next.id)
		m.now = next.at
		m.mu.Unlock()

		// Вне мьютекса: задача может планировать новые задачи
		next.fn()
	}
}

func (m *Manual) nextDueLocked(target time.Time) *manualTask {
	due := make([]*manualTask, 0)
	for _, task := range m.tasks {
		if !task.at.After(target) {
			due = append(due, task)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

// Stop отменяет задачу
func (t *manualTask) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if _, ok := t.clock.tasks[t.id]; !ok {
		return false
	}
	delete(t.clock.tasks, t.id)
	return true
}
