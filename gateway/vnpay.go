package gateway

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Oshioxi2003/edu/repository/models"
)

// VNPay wire constants
const (
	vnpVersion     = "2.1.0"
	vnpSigField    = "vnp_SecureHash"
	vnpSuccessCode = "00"
)

// VNPayConfig holds the merchant credentials issued by VNPay
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// VNPay implements the Provider capability set for the VNPay gateway.
// VNPay signs the sorted parameter set with HMAC-SHA512, omits empty fields
// from the canonical string, and reports amounts multiplied by 100.
type VNPay struct {
	cfg   VNPayConfig
	codec Codec
}

// NewVNPay creates the VNPay provider adapter
func NewVNPay(cfg VNPayConfig) *VNPay {
	return &VNPay{
		cfg:   cfg,
		codec: Codec{Algo: SHA512, SkipEmpty: true},
	}
}

// Name implements Provider
func (v *VNPay) Name() string {
	return models.ProviderVNPay
}

// VerifyCallback implements Provider
func (v *VNPay) VerifyCallback(params map[string]string) bool {
	return v.codec.Verify(params, vnpSigField, v.cfg.HashSecret)
}

// ExtractResult implements Provider. VNPay sends vnp_Amount in hundredths of
// a dong; the conversion back happens only here, after the signature over the
// raw field has been checked.
func (v *VNPay) ExtractResult(params map[string]string) (*Result, error) {
	orderCode := params["vnp_TxnRef"]
	if orderCode == "" {
		return nil, fmt.Errorf("%w: missing vnp_TxnRef", ErrMalformedCallback)
	}

	rawAmount, err := strconv.ParseInt(params["vnp_Amount"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad vnp_Amount %q", ErrMalformedCallback, params["vnp_Amount"])
	}
	if rawAmount < 0 || rawAmount%100 != 0 {
		return nil, fmt.Errorf("%w: vnp_Amount %d is not a scaled amount", ErrMalformedCallback, rawAmount)
	}

	return &Result{
		OrderCode:     orderCode,
		Amount:        rawAmount / 100,
		ProviderTxnID: params["vnp_TransactionNo"],
		Success:       params["vnp_ResponseCode"] == vnpSuccessCode,
	}, nil
}

// BuildPaymentURL builds the redirect URL that sends the buyer to VNPay's
// payment page. The signature covers the unescaped canonical string while the
// query itself is URL-encoded, matching VNPay's reference flow.
func (v *VNPay) BuildPaymentURL(order *models.Order, clientIP string, now time.Time) string {
	orderInfo := fmt.Sprintf("Payment for order %s", order.OrderCode)
	if order.Book != nil {
		orderInfo = fmt.Sprintf("Payment for %s", order.Book.Title)
	}

	params := map[string]string{
		"vnp_Version":    vnpVersion,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    v.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(order.Amount*100, 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     order.OrderCode,
		"vnp_OrderInfo":  orderInfo,
		"vnp_OrderType":  "billpayment",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  v.cfg.ReturnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": now.Format("20060102150405"),
	}

	secureHash := v.codec.Sign(params, vnpSigField, v.cfg.HashSecret)

	query := url.Values{}
	for k, val := range params {
		query.Set(k, val)
	}
	return fmt.Sprintf("%s?%s&%s=%s", v.cfg.PayURL, query.Encode(), vnpSigField, secureHash)
}
