package events

import (
	"context"

	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Notifier consumes domain events and triggers the post-payment side
// effects: confirmation/failure mails and analytics. Delivery itself is a
// boundary concern; this worker logs the dispatch so an external mailer or
// collector can be attached without touching the engine.
type Notifier struct {
	bus    *Bus
	logger cmtlog.Logger
}

// NewNotifier creates a notifier attached to the bus
func NewNotifier(bus *Bus, logger cmtlog.Logger) *Notifier {
	return &Notifier{
		bus:    bus,
		logger: logger.With("component", "notifier"),
	}
}

// Run consumes events until the context is cancelled or the bus closes
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-n.bus.Events():
			if !ok {
				return
			}
			n.handle(evt)
		}
	}
}

func (n *Notifier) handle(evt Event) {
	switch evt.Type {
	case PaymentConfirmed:
		n.logger.Info("Sending payment confirmation email",
			"order_code", evt.OrderCode, "user_id", evt.UserID, "amount", evt.Amount)
		n.logger.Info("Recording payment analytics",
			"order_code", evt.OrderCode, "book_id", evt.BookID, "provider", evt.Provider)
	case PaymentFailed:
		n.logger.Info("Sending payment failed email",
			"order_code", evt.OrderCode, "user_id", evt.UserID)
	case ProvisioningAlert:
		// Payment is real even though provisioning failed; this needs an
		// operator, not a rollback.
		n.logger.Error("OPERATIONAL ALERT: enrollment provisioning failed after payment",
			"order_code", evt.OrderCode, "user_id", evt.UserID, "book_id", evt.BookID, "detail", evt.Detail)
	default:
		n.logger.Info("Ignoring unknown event", "type", evt.Type)
	}
}
