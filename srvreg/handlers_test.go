package srvreg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/require"

	"github.com/Oshioxi2003/edu/events"
	"github.com/Oshioxi2003/edu/gateway"
	"github.com/Oshioxi2003/edu/reconcile"
	"github.com/Oshioxi2003/edu/repository"
	"github.com/Oshioxi2003/edu/repository/models"
	"github.com/Oshioxi2003/edu/token"
)

const testVNPaySecret = "vnpay-test-secret"

// memLedger backs the engine for handler tests without a database
type memLedger struct {
	mu     sync.Mutex
	order  *models.Order
	txns   int
	grants int
}

func (l *memLedger) GetOrderByCode(code string) (*models.Order, *repository.RepositoryError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.order == nil || l.order.OrderCode != code {
		return nil, &repository.RepositoryError{Code: repository.ErrCodeNotFound, Message: "Order does not exist"}
	}
	copied := *l.order
	return &copied, nil
}

func (l *memLedger) AppendTransaction(orderID uint, providerTxnID, status string, rawPayload json.RawMessage, signedOk bool) (*models.Transaction, *repository.RepositoryError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txns++
	return &models.Transaction{OrderID: orderID, Status: status, SignedOk: signedOk}, nil
}

func (l *memLedger) TransitionOrder(orderID uint, target string, paidAt *time.Time) (*models.Order, bool, *repository.RepositoryError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.order.IsTerminal() {
		copied := *l.order
		return &copied, false, nil
	}
	l.order.Status = target
	l.order.PaidAt = paidAt
	copied := *l.order
	return &copied, true, nil
}

func (l *memLedger) GrantEnrollment(userID, bookID string) (*models.Enrollment, *repository.RepositoryError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grants++
	return &models.Enrollment{UserID: userID, BookID: bookID, IsActive: true}, nil
}

func newIPNTestRegistry(t *testing.T, ledger *memLedger) *ServiceRegistry {
	t.Helper()
	logger := cmtlog.NewNopLogger()
	bus := events.NewBus(16, logger)
	vnpay := gateway.NewVNPay(gateway.VNPayConfig{TmnCode: "TESTCODE", HashSecret: testVNPaySecret})
	engine := reconcile.NewEngine(ledger, []gateway.Provider{vnpay}, bus, logger)

	tokens, err := token.NewService("test-app-secret")
	require.NoError(t, err)

	return NewServiceRegistry(nil, engine, tokens,
		TokenSettings{IssueTTL: 2 * time.Minute, MaxAge: 5 * time.Minute},
		vnpay, nil, logger)
}

func signedIPNQuery(order *models.Order) url.Values {
	params := map[string]string{
		"vnp_TxnRef":        order.OrderCode,
		"vnp_Amount":        fmt.Sprintf("%d", order.Amount*100),
		"vnp_ResponseCode":  "00",
		"vnp_TransactionNo": "14226112",
	}
	codec := gateway.Codec{Algo: gateway.SHA512, SkipEmpty: true}
	params["vnp_SecureHash"] = codec.Sign(params, "vnp_SecureHash", testVNPaySecret)

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	return query
}

func TestVNPayIPNHandlerConfirms(t *testing.T) {
	ledger := &memLedger{order: &models.Order{
		ID: 1, OrderCode: "ORD-20250101-000001", UserID: "USR-001", BookID: "BOOK-001",
		Amount: 299000, Provider: models.ProviderVNPay, Status: models.OrderStatusPending,
	}}
	sr := newIPNTestRegistry(t, ledger)

	req := &Request{Method: http.MethodGet, Path: "/payments/vnpay/ipn", Query: signedIPNQuery(ledger.order)}
	resp, err := sr.VNPayIPNHandler(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &ack))
	require.Equal(t, "00", ack["RspCode"])
	require.Equal(t, 1, ledger.grants)
	require.Equal(t, models.OrderStatusPaid, ledger.order.Status)
}

func TestVNPayIPNHandlerRejectsTampering(t *testing.T) {
	ledger := &memLedger{order: &models.Order{
		ID: 1, OrderCode: "ORD-20250101-000001", UserID: "USR-001", BookID: "BOOK-001",
		Amount: 299000, Provider: models.ProviderVNPay, Status: models.OrderStatusPending,
	}}
	sr := newIPNTestRegistry(t, ledger)

	query := signedIPNQuery(ledger.order)
	query.Set("vnp_Amount", "100")

	resp, err := sr.VNPayIPNHandler(&Request{Method: http.MethodGet, Path: "/payments/vnpay/ipn", Query: query})
	require.NoError(t, err)
	// The gateway always gets HTTP 200; the verdict is in the ack body
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &ack))
	require.Equal(t, "99", ack["RspCode"])
	require.Equal(t, 0, ledger.grants)
	require.Equal(t, models.OrderStatusFailed, ledger.order.Status)
}

func TestVNPayIPNHandlerFormBody(t *testing.T) {
	ledger := &memLedger{order: &models.Order{
		ID: 1, OrderCode: "ORD-20250101-000001", UserID: "USR-001", BookID: "BOOK-001",
		Amount: 299000, Provider: models.ProviderVNPay, Status: models.OrderStatusPending,
	}}
	sr := newIPNTestRegistry(t, ledger)

	req := &Request{
		Method: http.MethodPost,
		Path:   "/payments/vnpay/ipn",
		Query:  url.Values{},
		Body:   signedIPNQuery(ledger.order).Encode(),
	}
	resp, err := sr.VNPayIPNHandler(req)
	require.NoError(t, err)

	var ack map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &ack))
	require.Equal(t, "00", ack["RspCode"])
}

func TestMoMoIPNHandlerInvalidJSON(t *testing.T) {
	sr := newIPNTestRegistry(t, &memLedger{order: &models.Order{Status: models.OrderStatusPending}})

	resp, err := sr.MoMoIPNHandler(&Request{Method: http.MethodPost, Path: "/payments/momo/ipn", Body: "not-json"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack struct {
		ResultCode int    `json:"resultCode"`
		Message    string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &ack))
	require.Equal(t, 1, ack.ResultCode)
}

func TestMoMoParamsFlattensNumbers(t *testing.T) {
	body := `{"orderId":"ORD-1","amount":249000,"resultCode":0,"transId":2147483647,"extraData":null,"partnerCode":"MOMOTEST"}`

	params, err := momoParams(body)
	require.NoError(t, err)
	require.Equal(t, "ORD-1", params["orderId"])
	require.Equal(t, "249000", params["amount"])
	require.Equal(t, "0", params["resultCode"])
	require.Equal(t, "2147483647", params["transId"])
	require.Equal(t, "", params["extraData"])
}

func TestFetchMediaHandler(t *testing.T) {
	sr := newIPNTestRegistry(t, &memLedger{})

	tok := sr.tokens.Issue("BOOK-001/audio/track-01.mp3", time.Minute)

	query := url.Values{}
	query.Set("token", tok)
	query.Set("resource_id", "BOOK-001/audio/track-01.mp3")
	resp, err := sr.FetchMediaHandler(&Request{Method: http.MethodGet, Path: "/media/fetch", Query: query})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Valid token for a different resource is the same 403 as a bad token
	query.Set("resource_id", "BOOK-002/audio/track-01.mp3")
	resp, err = sr.FetchMediaHandler(&Request{Method: http.MethodGet, Path: "/media/fetch", Query: query})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	query.Set("resource_id", "BOOK-001/audio/track-01.mp3")
	query.Set("token", "garbage")
	resp, err = sr.FetchMediaHandler(&Request{Method: http.MethodGet, Path: "/media/fetch", Query: query})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFetchMediaHandlerExplicitExpires(t *testing.T) {
	sr := newIPNTestRegistry(t, &memLedger{})

	tok := sr.tokens.Issue("BOOK-001/audio/track-01.mp3", time.Minute)
	claims, err := sr.tokens.Verify(tok, 0)
	require.NoError(t, err)

	query := url.Values{}
	query.Set("token", tok)
	query.Set("resource_id", "BOOK-001/audio/track-01.mp3")

	// The expires the sign endpoint handed out is accepted
	query.Set("expires", fmt.Sprintf("%d", claims.ExpiresAt.Unix()))
	resp, err := sr.FetchMediaHandler(&Request{Method: http.MethodGet, Path: "/media/fetch", Query: query})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// An edited expires cannot extend the window; the token stays the authority
	query.Set("expires", fmt.Sprintf("%d", claims.ExpiresAt.Unix()+3600))
	resp, err = sr.FetchMediaHandler(&Request{Method: http.MethodGet, Path: "/media/fetch", Query: query})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
