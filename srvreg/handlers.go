package srvreg

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Oshioxi2003/edu/repository"
	"github.com/Oshioxi2003/edu/token"
)

// jsonResponse marshals v into a Response with the given status
func jsonResponse(statusCode int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling response: %w", err)
	}
	return &Response{
		StatusCode: statusCode,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}, nil
}

// errorResponse builds the uniform error envelope
func errorResponse(statusCode int, message string) (*Response, error) {
	return jsonResponse(statusCode, map[string]string{"error": message})
}

// repoErrResponse maps repository error codes onto HTTP statuses
func repoErrResponse(repoErr *repository.RepositoryError) (*Response, error) {
	switch repoErr.Code {
	case repository.ErrCodeNotFound:
		return errorResponse(http.StatusNotFound, repoErr.Message)
	case repository.ErrCodeAlreadyEnrolled:
		return errorResponse(http.StatusBadRequest, repoErr.Message)
	case repository.ErrCodeInvalidState:
		return errorResponse(http.StatusBadRequest, repoErr.Message)
	case repository.PgErrUniqueViolation:
		return errorResponse(http.StatusConflict, "Resource already exists")
	case repository.PgErrForeignKeyViolation:
		return errorResponse(http.StatusBadRequest, "Referenced entity does not exist")
	default:
		return errorResponse(http.StatusInternalServerError, "An internal error occurred")
	}
}

// CreateOrderHandler creates a PENDING order for a buyer and a book
func (sr *ServiceRegistry) CreateOrderHandler(req *Request) (*Response, error) {
	var body struct {
		UserID   string `json:"user_id"`
		BookID   string `json:"book_id"`
		Provider string `json:"provider"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid JSON body")
	}
	if body.UserID == "" || body.BookID == "" || body.Provider == "" {
		return errorResponse(http.StatusBadRequest, "user_id, book_id and provider are required")
	}

	order, repoErr := sr.repository.CreateOrder(body.UserID, body.BookID, body.Provider)
	if repoErr != nil {
		sr.logger.Info("Create order rejected", "user_id", body.UserID, "book_id", body.BookID, "code", repoErr.Code)
		return repoErrResponse(repoErr)
	}

	sr.logger.Info("Order created", "order_code", order.OrderCode, "user_id", order.UserID, "amount", order.Amount)
	return jsonResponse(http.StatusCreated, order)
}

// ListOrdersHandler lists a user's orders, optionally filtered by status
func (sr *ServiceRegistry) ListOrdersHandler(req *Request) (*Response, error) {
	userID := req.Query.Get("user_id")
	if userID == "" {
		return errorResponse(http.StatusBadRequest, "user_id query parameter is required")
	}

	orders, repoErr := sr.repository.ListUserOrders(userID, req.Query.Get("status"))
	if repoErr != nil {
		return repoErrResponse(repoErr)
	}
	return jsonResponse(http.StatusOK, orders)
}

// GetOrderHandler returns one order by its code
func (sr *ServiceRegistry) GetOrderHandler(req *Request) (*Response, error) {
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")
	code := parts[len(parts)-1]

	order, repoErr := sr.repository.GetOrderByCode(code)
	if repoErr != nil {
		return repoErrResponse(repoErr)
	}
	return jsonResponse(http.StatusOK, order)
}

// VNPayCheckoutHandler builds the VNPay redirect URL for a pending order
func (sr *ServiceRegistry) VNPayCheckoutHandler(req *Request) (*Response, error) {
	var body struct {
		OrderCode string `json:"order_code"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil || body.OrderCode == "" {
		return errorResponse(http.StatusBadRequest, "order_code is required")
	}

	order, repoErr := sr.repository.GetOrderByCode(body.OrderCode)
	if repoErr != nil {
		return repoErrResponse(repoErr)
	}
	if order.IsTerminal() {
		return errorResponse(http.StatusBadRequest, "Order is no longer payable")
	}

	paymentURL := sr.vnpay.BuildPaymentURL(order, clientIP(req), req.Timestamp)
	return jsonResponse(http.StatusOK, map[string]string{"payment_url": paymentURL})
}

// MoMoCheckoutHandler creates a MoMo payment for a pending order
func (sr *ServiceRegistry) MoMoCheckoutHandler(req *Request) (*Response, error) {
	var body struct {
		OrderCode string `json:"order_code"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil || body.OrderCode == "" {
		return errorResponse(http.StatusBadRequest, "order_code is required")
	}

	order, repoErr := sr.repository.GetOrderByCode(body.OrderCode)
	if repoErr != nil {
		return repoErrResponse(repoErr)
	}
	if order.IsTerminal() {
		return errorResponse(http.StatusBadRequest, "Order is no longer payable")
	}

	payment, err := sr.momo.CreatePayment(context.Background(), order)
	if err != nil {
		sr.logger.Error("MoMo create payment failed", "order_code", order.OrderCode, "err", err)
		return errorResponse(http.StatusBadGateway, "Payment gateway is unavailable")
	}
	return jsonResponse(http.StatusOK, payment)
}

// VNPayIPNHandler processes VNPay's server-to-server confirmation. VNPay
// retries until it reads RspCode 00, so every decided outcome acknowledges
// with HTTP 200; the ack body, not the status, carries the verdict.
func (sr *ServiceRegistry) VNPayIPNHandler(req *Request) (*Response, error) {
	params := vnpayParams(req)

	outcome, err := sr.engine.Confirm(context.Background(), "vnpay", params)
	if err != nil {
		sr.logger.Error("VNPay IPN processing failed", "err", err)
		return jsonResponse(http.StatusOK, map[string]string{"RspCode": "99", "Message": "Unknown error"})
	}

	if outcome.Confirmed {
		return jsonResponse(http.StatusOK, map[string]string{"RspCode": "00", "Message": "Confirm Success"})
	}
	return jsonResponse(http.StatusOK, map[string]string{"RspCode": "99", "Message": "Confirm Fail"})
}

// vnpayParams flattens the callback parameters. VNPay calls the IPN with a
// query string on GET and a form body on POST.
func vnpayParams(req *Request) map[string]string {
	params := make(map[string]string)
	for k, vals := range req.Query {
		if len(vals) > 0 {
			params[k] = vals[0]
		}
	}
	if req.Method == http.MethodPost && req.Body != "" {
		if form, err := url.ParseQuery(req.Body); err == nil {
			for k, vals := range form {
				if len(vals) > 0 {
					params[k] = vals[0]
				}
			}
		}
	}
	return params
}

// MoMoIPNHandler processes MoMo's server-to-server confirmation
func (sr *ServiceRegistry) MoMoIPNHandler(req *Request) (*Response, error) {
	params, err := momoParams(req.Body)
	if err != nil {
		return jsonResponse(http.StatusOK, map[string]any{"resultCode": 1, "message": "Invalid payload"})
	}

	outcome, err := sr.engine.Confirm(context.Background(), "momo", params)
	if err != nil {
		sr.logger.Error("MoMo IPN processing failed", "err", err)
		return jsonResponse(http.StatusOK, map[string]any{"resultCode": 1, "message": "Unknown error"})
	}

	if outcome.Confirmed {
		return jsonResponse(http.StatusOK, map[string]any{"resultCode": 0, "message": "Success"})
	}
	return jsonResponse(http.StatusOK, map[string]any{"resultCode": 1, "message": "Confirm Fail"})
}

// momoParams decodes MoMo's JSON callback into flat string parameters.
// Numbers are decoded with UseNumber so amount and resultCode keep the exact
// digits MoMo signed.
func momoParams(body string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	params := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			params[k] = val
		case json.Number:
			params[k] = val.String()
		case bool:
			params[k] = fmt.Sprintf("%t", val)
		case nil:
			params[k] = ""
		default:
			// Nested values never appear in the signed field set
			encoded, _ := json.Marshal(val)
			params[k] = string(encoded)
		}
	}
	return params, nil
}

// SignMediaHandler issues a short-lived capability token for a book's media.
// Access is checked at issue time; the token itself carries no identity.
func (sr *ServiceRegistry) SignMediaHandler(req *Request) (*Response, error) {
	var body struct {
		UserID     string `json:"user_id"`
		BookID     string `json:"book_id"`
		ResourceID string `json:"resource_id"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid JSON body")
	}
	if body.UserID == "" || body.BookID == "" {
		return errorResponse(http.StatusBadRequest, "user_id and book_id are required")
	}

	resourceID := body.ResourceID
	if resourceID == "" {
		resourceID = body.BookID
	}

	active, repoErr := sr.repository.HasActiveEnrollment(body.UserID, body.BookID)
	if repoErr != nil {
		return repoErrResponse(repoErr)
	}
	if !active {
		return errorResponse(http.StatusForbidden, "Access denied")
	}

	ttl := sr.tokenCfg.IssueTTL
	tok := sr.tokens.Issue(resourceID, ttl)
	if ttl <= 0 {
		ttl = token.DefaultTTL
	}
	claims, err := sr.tokens.Verify(tok, 0)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "An internal error occurred")
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"token":      tok,
		"expires_in": int(ttl.Seconds()),
		"expires_at": claims.ExpiresAt.Unix(),
	})
}

// FetchMediaHandler exchanges a valid capability token for the resource. Every
// rejection is the same 403 so callers cannot probe for why a token failed.
func (sr *ServiceRegistry) FetchMediaHandler(req *Request) (*Response, error) {
	tok := req.Query.Get("token")
	resourceID := req.Query.Get("resource_id")
	if tok == "" || resourceID == "" {
		return errorResponse(http.StatusForbidden, "Access denied")
	}

	claims, err := sr.tokens.Verify(tok, sr.tokenCfg.MaxAge)
	if err != nil || claims.ResourceID != resourceID {
		return errorResponse(http.StatusForbidden, "Access denied")
	}

	// Signed URLs carry an explicit expires value alongside the token. It is
	// informational, never authoritative: the token's embedded expiry decides,
	// and a caller-edited expires can only narrow to a mismatch, not extend.
	if expires := req.Query.Get("expires"); expires != "" {
		if expires != strconv.FormatInt(claims.ExpiresAt.Unix(), 10) {
			return errorResponse(http.StatusForbidden, "Access denied")
		}
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"resource_id": claims.ResourceID,
		"expires_at":  claims.ExpiresAt.Unix(),
	})
}

// clientIP extracts the caller's IP for gateway request building
func clientIP(req *Request) string {
	if fwd := req.Headers["X-Forwarded-For"]; fwd != "" {
		if comma := strings.IndexByte(fwd, ','); comma >= 0 {
			return strings.TrimSpace(fwd[:comma])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
