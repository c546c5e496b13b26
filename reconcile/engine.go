package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/Oshioxi2003/edu/events"
	"github.com/Oshioxi2003/edu/gateway"
	"github.com/Oshioxi2003/edu/repository"
	"github.com/Oshioxi2003/edu/repository/models"
)

// Engine outcome codes, mapped by handlers onto provider ack shapes. The
// text never reaches the gateway verbatim; rejections stay generic so a
// forger cannot iterate on which check failed.
const (
	CodeConfirmed      = "CONFIRMED"
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthenticity   = "AUTHENTICITY_ERROR"
	CodeReconciliation = "RECONCILIATION_ERROR"
	CodeNotFound       = "ENTITY_NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

// Ledger is the slice of the repository the engine drives. Transitions must
// lock the order row for their read-decide-write sequence and report whether
// the status actually changed.
type Ledger interface {
	GetOrderByCode(code string) (*models.Order, *repository.RepositoryError)
	AppendTransaction(orderID uint, providerTxnID, status string, rawPayload json.RawMessage, signedOk bool) (*models.Transaction, *repository.RepositoryError)
	TransitionOrder(orderID uint, target string, paidAt *time.Time) (*models.Order, bool, *repository.RepositoryError)
	GrantEnrollment(userID, bookID string) (*models.Enrollment, *repository.RepositoryError)
}

// Outcome is the engine's verdict on one callback
type Outcome struct {
	Code      string
	Confirmed bool
	Order     *models.Order
}

// Engine is the single entry point for "a gateway says a payment happened".
// It verifies authenticity, reconciles the callback against the order, drives
// the state machine exactly once, and provisions access on success.
type Engine struct {
	ledger    Ledger
	providers map[string]gateway.Provider
	bus       *events.Bus
	logger    cmtlog.Logger
}

// NewEngine creates a reconciliation engine over the given providers
func NewEngine(ledger Ledger, providers []gateway.Provider, bus *events.Bus, logger cmtlog.Logger) *Engine {
	byName := make(map[string]gateway.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Engine{
		ledger:    ledger,
		providers: byName,
		bus:       bus,
		logger:    logger.With("component", "reconcile"),
	}
}

// Confirm processes one inbound gateway callback. The sequence is fixed:
// verify signature, match the order, append the audit row (always, even for
// forged payloads), then check amount and provider result before the single
// PENDING→PAID transition. Concurrent duplicates serialize on the order row
// lock inside TransitionOrder; only the caller that actually flips the
// status grants the enrollment.
func (e *Engine) Confirm(ctx context.Context, providerName string, payload map[string]string) (*Outcome, error) {
	provider, ok := e.providers[providerName]
	if !ok {
		return &Outcome{Code: CodeValidation}, nil
	}

	signedOk := provider.VerifyCallback(payload)

	result, err := provider.ExtractResult(payload)
	if err != nil {
		if errors.Is(err, gateway.ErrMalformedCallback) {
			e.logger.Info("Rejecting malformed callback", "provider", providerName)
			return &Outcome{Code: CodeValidation}, nil
		}
		return nil, err
	}

	order, repoErr := e.ledger.GetOrderByCode(result.OrderCode)
	if repoErr != nil {
		if repoErr.Code == repository.ErrCodeNotFound {
			e.logger.Info("Callback references unknown order", "provider", providerName, "order_code", result.OrderCode)
			return &Outcome{Code: CodeNotFound}, nil
		}
		return nil, repoErrToErr(repoErr)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	txnStatus := models.TxnStatusFailed
	if signedOk && result.Success {
		txnStatus = models.TxnStatusSuccess
	}
	if _, repoErr = e.ledger.AppendTransaction(order.ID, result.ProviderTxnID, txnStatus, raw, signedOk); repoErr != nil {
		return nil, repoErrToErr(repoErr)
	}

	if !signedOk {
		e.logger.Info("Signature verification failed", "provider", providerName, "order_code", order.OrderCode)
		return e.fail(order, CodeAuthenticity)
	}

	if result.Amount != order.Amount {
		e.logger.Info("Amount mismatch", "provider", providerName,
			"order_code", order.OrderCode, "expected", order.Amount, "got", result.Amount)
		return e.fail(order, CodeReconciliation)
	}

	if !result.Success {
		e.logger.Info("Provider reported failure", "provider", providerName, "order_code", order.OrderCode)
		return e.fail(order, CodeReconciliation)
	}

	now := time.Now()
	updated, changed, repoErr := e.ledger.TransitionOrder(order.ID, models.OrderStatusPaid, &now)
	if repoErr != nil {
		return nil, repoErrToErr(repoErr)
	}

	if !changed {
		// Terminal already. A redelivered callback for a PAID order is a
		// no-op success; anything else stays rejected.
		if updated.IsPaid() {
			return &Outcome{Code: CodeConfirmed, Confirmed: true, Order: updated}, nil
		}
		return &Outcome{Code: CodeReconciliation, Order: updated}, nil
	}

	// The order is durably PAID from here on. A provisioning failure is an
	// operational incident, never a rollback.
	if _, repoErr := e.ledger.GrantEnrollment(updated.UserID, updated.BookID); repoErr != nil {
		e.logger.Error("Enrollment provisioning failed after payment",
			"order_code", updated.OrderCode, "user_id", updated.UserID, "detail", repoErr.Detail)
		e.bus.Publish(events.Event{
			Type:      events.ProvisioningAlert,
			OrderID:   updated.ID,
			OrderCode: updated.OrderCode,
			UserID:    updated.UserID,
			BookID:    updated.BookID,
			Amount:    updated.Amount,
			Provider:  updated.Provider,
			Detail:    repoErr.Message,
		})
	}

	e.bus.Publish(events.Event{
		Type:      events.PaymentConfirmed,
		OrderID:   updated.ID,
		OrderCode: updated.OrderCode,
		UserID:    updated.UserID,
		BookID:    updated.BookID,
		Amount:    updated.Amount,
		Provider:  updated.Provider,
	})
	e.logger.Info("Payment confirmed", "provider", providerName,
		"order_code", updated.OrderCode, "amount", updated.Amount)

	return &Outcome{Code: CodeConfirmed, Confirmed: true, Order: updated}, nil
}

// fail drives the order to FAILED. Orders already terminal are untouched;
// the original terminal state decides nothing further.
func (e *Engine) fail(order *models.Order, code string) (*Outcome, error) {
	updated, changed, repoErr := e.ledger.TransitionOrder(order.ID, models.OrderStatusFailed, nil)
	if repoErr != nil {
		return nil, repoErrToErr(repoErr)
	}
	if changed {
		e.bus.Publish(events.Event{
			Type:      events.PaymentFailed,
			OrderID:   updated.ID,
			OrderCode: updated.OrderCode,
			UserID:    updated.UserID,
			BookID:    updated.BookID,
			Amount:    updated.Amount,
			Provider:  updated.Provider,
		})
	}
	return &Outcome{Code: code, Order: updated}, nil
}

func repoErrToErr(repoErr *repository.RepositoryError) error {
	return errors.New(repoErr.Code + ": " + repoErr.Message)
}
