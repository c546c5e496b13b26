package srvreg

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchPath(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/payments/orders/:code", "/payments/orders/ORD-20250101-000001", true},
		{"/payments/orders/:code", "/payments/orders", false},
		{"/payments/orders/:code", "/payments/orders/a/b", false},
		{"/payments/orders", "/payments/orders", true},
		{"/payments/orders", "/media/orders", false},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, matchPath(tc.pattern, tc.path), "%s vs %s", tc.pattern, tc.path)
	}
}

func TestGetHandlerForPath(t *testing.T) {
	sr := &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
	}

	called := ""
	sr.RegisterHandler("POST", "/payments/orders", true, func(r *Request) (*Response, error) {
		called = "create"
		return &Response{StatusCode: http.StatusCreated}, nil
	})
	sr.RegisterHandler("GET", "/payments/orders/:code", false, func(r *Request) (*Response, error) {
		called = "get"
		return &Response{StatusCode: http.StatusOK}, nil
	})

	handler, found := sr.GetHandlerForPath("post", "/payments/orders")
	require.True(t, found)
	handler(&Request{})
	require.Equal(t, "create", called)

	handler, found = sr.GetHandlerForPath("GET", "/payments/orders/ORD-1")
	require.True(t, found)
	handler(&Request{})
	require.Equal(t, "get", called)

	_, found = sr.GetHandlerForPath("DELETE", "/payments/orders")
	require.False(t, found)
}

func TestGenerateResponseUnknownRoute(t *testing.T) {
	sr := &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
	}

	req := &Request{Method: "GET", Path: "/nope"}
	resp, err := req.GenerateResponse(sr)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConvertHTTPRequest(t *testing.T) {
	body := `{
		"user_id": "USR-001",
		"book_id": "BOOK-001"
	}`
	httpReq := httptest.NewRequest(http.MethodPost, "/payments/orders?debug=1", strings.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	req, err := ConvertHTTPRequest(httpReq, "req-123")
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "/payments/orders", req.Path)
	require.Equal(t, "req-123", req.RequestID)
	require.Equal(t, "1", req.Query.Get("debug"))
	require.Equal(t, "application/json", req.Headers["Content-Type"])

	// JSON bodies are compacted for stable logging and hashing
	require.Equal(t, `{"user_id":"USR-001","book_id":"BOOK-001"}`, req.Body)
}

func TestConvertHTTPRequestNonJSONBody(t *testing.T) {
	body := "vnp_TxnRef=ORD-1&vnp_Amount=100\n"
	httpReq := httptest.NewRequest(http.MethodPost, "/payments/vnpay/ipn", strings.NewReader(body))

	req, err := ConvertHTTPRequest(httpReq, "req-456")
	require.NoError(t, err)
	require.Equal(t, "vnp_TxnRef=ORD-1&vnp_Amount=100", req.Body)
}
