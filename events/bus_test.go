package events

import (
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/require"
)

func TestPublishAndConsume(t *testing.T) {
	bus := NewBus(4, cmtlog.NewNopLogger())
	defer bus.Close()

	bus.Publish(Event{Type: PaymentConfirmed, OrderCode: "ORD-1"})

	evt := <-bus.Events()
	require.Equal(t, PaymentConfirmed, evt.Type)
	require.Equal(t, "ORD-1", evt.OrderCode)
	require.False(t, evt.OccurredAt.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus(1, cmtlog.NewNopLogger())
	defer bus.Close()

	bus.Publish(Event{Type: PaymentConfirmed, OrderCode: "ORD-1"})
	// Buffer is full; this must not block the caller
	bus.Publish(Event{Type: PaymentConfirmed, OrderCode: "ORD-2"})

	evt := <-bus.Events()
	require.Equal(t, "ORD-1", evt.OrderCode)
	select {
	case extra := <-bus.Events():
		t.Fatalf("expected dropped event, got %v", extra)
	default:
	}
}

func TestPublishAfterCloseDoesNotPanic(t *testing.T) {
	bus := NewBus(1, cmtlog.NewNopLogger())
	bus.Close()

	require.NotPanics(t, func() {
		bus.Publish(Event{Type: PaymentConfirmed, OrderCode: "ORD-1"})
	})

	_, ok := <-bus.Events()
	require.False(t, ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := NewBus(1, cmtlog.NewNopLogger())
	bus.Close()
	bus.Close()

	_, ok := <-bus.Events()
	require.False(t, ok)
}
