package srvreg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/Oshioxi2003/edu/gateway"
	"github.com/Oshioxi2003/edu/reconcile"
	"github.com/Oshioxi2003/edu/repository"
	"github.com/Oshioxi2003/edu/token"
)

// Request represents the client's original HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Query      url.Values        `json:"query"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Response represents the computed response for a request
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey is used to uniquely identify a route
type RouteKey struct {
	Method string
	Path   string
}

// TokenSettings carries the media token windows from configuration
type TokenSettings struct {
	IssueTTL time.Duration
	MaxAge   time.Duration
}

// ServiceRegistry maps payment API routes to their handlers
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool // Whether a route is exact or pattern-based
	mu          sync.RWMutex

	repository *repository.Repository
	engine     *reconcile.Engine
	tokens     *token.Service
	tokenCfg   TokenSettings
	vnpay      *gateway.VNPay
	momo       *gateway.MoMo
	logger     cmtlog.Logger
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(
	repo *repository.Repository,
	engine *reconcile.Engine,
	tokens *token.Service,
	tokenCfg TokenSettings,
	vnpay *gateway.VNPay,
	momo *gateway.MoMo,
	logger cmtlog.Logger,
) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
		repository:  repo,
		engine:      engine,
		tokens:      tokens,
		tokenCfg:    tokenCfg,
		vnpay:       vnpay,
		momo:        momo,
		logger:      logger,
	}
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path and a
// boolean of whether or not the handler was found
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	// Try exact match first
	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	if handler, ok := sr.handlers[key]; ok {
		if sr.exactRoutes[key] {
			return handler, true
		}
	}

	// Try pattern matching
	for routeKey, handler := range sr.handlers {
		if routeKey.Method != strings.ToUpper(method) {
			continue
		}
		if sr.exactRoutes[routeKey] {
			continue
		}
		if matchPath(routeKey.Path, path) {
			return handler, true
		}
	}

	return nil, false
}

// matchPath does simple pattern matching for routes.
// It supports patterns like "/payments/orders/:code" matching "/payments/orders/ORD-1"
func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i := range len(patternParts) {
		if strings.HasPrefix(patternParts[i], ":") {
			continue
		}
		if patternParts[i] != pathParts[i] {
			return false
		}
	}

	return true
}

// RegisterDefaultServices sets up the payment platform routes
func (sr *ServiceRegistry) RegisterDefaultServices() {
	// Checkout API
	sr.RegisterHandler("POST", "/payments/orders", true, sr.CreateOrderHandler)
	sr.RegisterHandler("GET", "/payments/orders", true, sr.ListOrdersHandler)
	sr.RegisterHandler("GET", "/payments/orders/:code", false, sr.GetOrderHandler)
	sr.RegisterHandler("POST", "/payments/vnpay/checkout", true, sr.VNPayCheckoutHandler)
	sr.RegisterHandler("POST", "/payments/momo/checkout", true, sr.MoMoCheckoutHandler)

	// IPN endpoints, called server-to-server by the gateways
	sr.RegisterHandler("GET", "/payments/vnpay/ipn", true, sr.VNPayIPNHandler)
	sr.RegisterHandler("POST", "/payments/vnpay/ipn", true, sr.VNPayIPNHandler)
	sr.RegisterHandler("POST", "/payments/momo/ipn", true, sr.MoMoIPNHandler)

	// Signed media access
	sr.RegisterHandler("POST", "/media/sign", true, sr.SignMediaHandler)
	sr.RegisterHandler("GET", "/media/fetch", true, sr.FetchMediaHandler)
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       fmt.Sprintf("Service not found for %s %s", req.Method, req.Path),
		}, nil
	}
	return handler(req)
}

// ConvertHTTPRequest converts an http.Request to a registry Request
func ConvertHTTPRequest(r *http.Request, requestID string) (*Request, error) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(string(bodyBytes))
		body = compactJSON(raw)
	}

	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Query:      r.URL.Query(),
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
	}, nil
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		// Not JSON, return trimmed original
		return strings.TrimSpace(body)
	}
	return buf.String()
}
