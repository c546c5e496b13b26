package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Oshioxi2003/edu/repository/models"
)

const momoSigField = "signature"

// momoCallbackFields is the exact field set MoMo includes in IPN signatures,
// per their captureWallet spec. Fields missing from the payload sign as empty.
var momoCallbackFields = []string{
	"amount", "extraData", "message", "orderId", "orderInfo", "orderType",
	"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
}

// MoMoConfig holds the partner credentials issued by MoMo
type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	ReturnURL   string
	NotifyURL   string
}

// MoMoPayment is the result of a create-payment call
type MoMoPayment struct {
	PayURL    string `json:"pay_url"`
	QRCodeURL string `json:"qr_code_url"`
	Deeplink  string `json:"deeplink"`
}

// MoMo implements the Provider capability set for the MoMo wallet gateway.
// MoMo signs a fixed, documented field list with HMAC-SHA256, keeps empty
// fields in the canonical string, and reports amounts in whole dong.
type MoMo struct {
	cfg        MoMoConfig
	codec      Codec
	httpClient *http.Client
}

// NewMoMo creates the MoMo provider adapter
func NewMoMo(cfg MoMoConfig) *MoMo {
	return &MoMo{
		cfg:   cfg,
		codec: Codec{Algo: SHA256, SkipEmpty: false},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name implements Provider
func (m *MoMo) Name() string {
	return models.ProviderMoMo
}

// VerifyCallback implements Provider. Only the documented field list is
// signed; the accessKey comes from configuration, not the payload, so a
// caller cannot substitute its own.
func (m *MoMo) VerifyCallback(params map[string]string) bool {
	signed := map[string]string{"accessKey": m.cfg.AccessKey}
	for _, f := range momoCallbackFields {
		signed[f] = params[f]
	}
	claimed := params[momoSigField]
	if claimed == "" {
		return false
	}
	signed[momoSigField] = claimed
	return m.codec.Verify(signed, momoSigField, m.cfg.SecretKey)
}

// ExtractResult implements Provider. MoMo's success sentinel is resultCode 0.
func (m *MoMo) ExtractResult(params map[string]string) (*Result, error) {
	orderCode := params["orderId"]
	if orderCode == "" {
		return nil, fmt.Errorf("%w: missing orderId", ErrMalformedCallback)
	}

	amount, err := strconv.ParseInt(params["amount"], 10, 64)
	if err != nil || amount < 0 {
		return nil, fmt.Errorf("%w: bad amount %q", ErrMalformedCallback, params["amount"])
	}

	resultCode, err := strconv.Atoi(params["resultCode"])
	if err != nil {
		return nil, fmt.Errorf("%w: bad resultCode %q", ErrMalformedCallback, params["resultCode"])
	}

	return &Result{
		OrderCode:     orderCode,
		Amount:        amount,
		ProviderTxnID: params["transId"],
		Success:       resultCode == 0,
	}, nil
}

// CreatePayment sends a signed captureWallet request to MoMo and returns the
// redirect and QR URLs for the buyer.
func (m *MoMo) CreatePayment(ctx context.Context, order *models.Order) (*MoMoPayment, error) {
	orderInfo := fmt.Sprintf("Payment for order %s", order.OrderCode)
	if order.Book != nil {
		orderInfo = fmt.Sprintf("Payment for %s", order.Book.Title)
	}
	requestID := uuid.NewString()
	amount := strconv.FormatInt(order.Amount, 10)

	signed := map[string]string{
		"accessKey":   m.cfg.AccessKey,
		"amount":      amount,
		"extraData":   "",
		"ipnUrl":      m.cfg.NotifyURL,
		"orderId":     order.OrderCode,
		"orderInfo":   orderInfo,
		"partnerCode": m.cfg.PartnerCode,
		"redirectUrl": m.cfg.ReturnURL,
		"requestId":   requestID,
		"requestType": "captureWallet",
	}
	signature := m.codec.Sign(signed, momoSigField, m.cfg.SecretKey)

	payload := map[string]string{
		"partnerCode": m.cfg.PartnerCode,
		"accessKey":   m.cfg.AccessKey,
		"requestId":   requestID,
		"amount":      amount,
		"orderId":     order.OrderCode,
		"orderInfo":   orderInfo,
		"redirectUrl": m.cfg.ReturnURL,
		"ipnUrl":      m.cfg.NotifyURL,
		"requestType": "captureWallet",
		"extraData":   "",
		"signature":   signature,
		"lang":        "vi",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling create payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling MoMo endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading MoMo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MoMo endpoint returned status %d", resp.StatusCode)
	}

	var result struct {
		PayURL    string `json:"payUrl"`
		QRCodeURL string `json:"qrCodeUrl"`
		Deeplink  string `json:"deeplink"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("parsing MoMo response: %w", err)
	}

	return &MoMoPayment{
		PayURL:    result.PayURL,
		QRCodeURL: result.QRCodeURL,
		Deeplink:  result.Deeplink,
	}, nil
}
