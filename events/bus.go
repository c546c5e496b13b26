package events

import (
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Event types emitted by the reconciliation engine
type Type string

const (
	PaymentConfirmed  Type = "payment.confirmed"
	PaymentFailed     Type = "payment.failed"
	ProvisioningAlert Type = "enrollment.provisioning_alert"
)

// Event describes one domain occurrence for asynchronous consumers
type Event struct {
	Type       Type      `json:"type"`
	OrderID    uint      `json:"order_id"`
	OrderCode  string    `json:"order_code"`
	UserID     string    `json:"user_id"`
	BookID     string    `json:"book_id"`
	Amount     int64     `json:"amount"`
	Provider   string    `json:"provider"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Bus is a buffered in-process event channel. Publishing is fire-and-forget:
// the core's correctness never depends on a consumer keeping up, so a full
// buffer drops the event with a logged warning instead of blocking a
// callback handler.
type Bus struct {
	ch     chan Event
	logger cmtlog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBus creates an event bus with the given buffer size
func NewBus(size int, logger cmtlog.Logger) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{
		ch:     make(chan Event, size),
		logger: logger,
	}
}

// Publish enqueues an event without blocking. Events published after Close
// are dropped, not a panic.
func (b *Bus) Publish(evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Error("Event bus closed, dropping event", "type", evt.Type, "order_code", evt.OrderCode)
		return
	}

	select {
	case b.ch <- evt:
	default:
		b.logger.Error("Event bus full, dropping event", "type", evt.Type, "order_code", evt.OrderCode)
	}
}

// Events returns the consumer side of the bus
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close shuts the bus down; consumers drain remaining events and exit
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
