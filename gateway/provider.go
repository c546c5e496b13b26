package gateway

import "errors"

// ErrMalformedCallback is returned when a callback payload is missing
// required fields or carries values that cannot be parsed. Callers reject
// such payloads before touching the order ledger.
var ErrMalformedCallback = errors.New("malformed gateway callback")

// Result is the provider-independent outcome extracted from a verified
// callback payload.
type Result struct {
	OrderCode     string
	Amount        int64 // VND, normalized from the provider's wire unit
	ProviderTxnID string
	Success       bool
}

// Provider is one payment gateway integration. Each provider owns its
// signing scheme and its success sentinel; the reconciliation engine never
// branches on provider names.
type Provider interface {
	Name() string
	// VerifyCallback checks the callback's HMAC signature against the raw
	// parameters as received.
	VerifyCallback(params map[string]string) bool
	// ExtractResult pulls the order reference, normalized amount and result
	// code out of the payload. Unit conversion happens here, after
	// verification.
	ExtractResult(params map[string]string) (*Result, error)
}
