// Package notify delivers the short-lived messages shown to a shopper after
// a cart action succeeds or fails.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one user-visible message naming the action it reports on.
type Notification struct {
	Level     Level     `json:"level"`
	Action    string    `json:"action"`
	Message   string    `json:"message"`
	ProductID string    `json:"productId,omitempty"`
	At        time.Time `json:"at"`
}

// Success builds a success notification.
func Success(action, message string) Notification {
	return Notification{Level: LevelSuccess, Action: action, Message: message, At: time.Now().UTC()}
}

// Failure builds an error notification.
func Failure(action, message string) Notification {
	return Notification{Level: LevelError, Action: action, Message: message, At: time.Now().UTC()}
}

// ForProduct attaches the product the notification concerns.
func (n Notification) ForProduct(id string) Notification {
	n.ProductID = id
	return n
}

// Notifier delivers notifications. Delivery is best effort and never fails
// the cart operation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Discard drops every notification.
var Discard Notifier = Func(func(context.Context, Notification) {})

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	if n.Level == LevelError {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, n.Message,
		slog.String("notification", string(n.Level)),
		slog.String("action", n.Action),
		slog.String("product_id", n.ProductID),
	)
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, nt := range m {
		nt.Notify(ctx, n)
	}
}

// DefaultInboxSize bounds an Inbox created with a non-positive size.
const DefaultInboxSize = 20

// Inbox queues notifications until a consumer drains them, the toast queue of
// one storefront session. When full the oldest entry is dropped.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
	size  int
}

// NewInbox creates an inbox holding at most size notifications.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{size: size}
}

func (b *Inbox) Notify(_ context.Context, n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == b.size {
		copy(b.items, b.items[1:])
		b.items = b.items[:b.size-1]
	}
	b.items = append(b.items, n)
}

// Drain returns the queued notifications, oldest first, and empties the inbox.
func (b *Inbox) Drain() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Len returns the number of queued notifications.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
