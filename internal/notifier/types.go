package notifier

import (
	"context"
	"time"
)

// Config controls the notification pipeline.
type Config struct {
	Enabled     bool
	QueueSize   int
	RatePerSec  int
	RetryMax    int
	RetryBase   time.Duration
	DedupWindow time.Duration
	// NotifySuccess also reports successful sends, not only failures.
	NotifySuccess bool
}

// TelegramConfig addresses the chat that receives notifications.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}
