package bot

import (
	"context"
	"errors"
	"fmt"

	"tg-guard/audit"
	"tg-guard/content"
	"tg-guard/lock"
)

// textSender отправка уведомления в группу
type textSender interface {
	SendText(ctx context.Context, chatID int64, text string, layout content.Layout) (int, error)
}

// LockNotifier сообщает группе и журналу аудита о блокировке и снятии блокировки
type LockNotifier struct {
	sender textSender
	audit  audit.Sink
}

var _ lock.Notifier = (*LockNotifier)(nil)

// NewLockNotifier создает уведомитель
func NewLockNotifier(sender textSender, sink audit.Sink) *LockNotifier {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &LockNotifier{sender: sender, audit: sink}
}

func (n *LockNotifier) LockChanged(ctx context.Context, ev lock.Event) error {
	notice, entry := lockMessages(ev)

	_, sendErr := n.sender.SendText(ctx, ev.ChatID, notice, nil)
	if sendErr != nil {
		sendErr = fmt.Errorf("send lock notice: %w", sendErr)
	}
	return errors.Join(sendErr, n.audit.Emit(ctx, ev.ChatID, entry))
}

// lockMessages возвращает уведомление для группы и запись аудита
func lockMessages(ev lock.Event) (notice, entry string) {
	switch {
	case ev.Locked:
		return fmt.Sprintf("Group locked. %s.", ev.Record.Reason),
			fmt.Sprintf("Group locked by admin %d. %s.", ev.Record.LockedBy, ev.Record.Reason)
	case ev.Auto:
		return "Group automatically unlocked.", "Group unlocked by auto-unlock."
	default:
		return "Group unlocked.", "Group unlocked by admin."
	}
}
