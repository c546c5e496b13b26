package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMoMo() *MoMo {
	return NewMoMo(MoMoConfig{
		PartnerCode: "MOMOTEST",
		AccessKey:   "test-access-key",
		SecretKey:   "momo-test-secret",
		Endpoint:    "https://test-payment.momo.vn/v2/gateway/api/create",
		ReturnURL:   "https://edu.example.com/payments/momo/return",
		NotifyURL:   "https://edu.example.com/payments/momo/ipn",
	})
}

func signedMoMoCallback(m *MoMo, overrides map[string]string) map[string]string {
	params := map[string]string{
		"partnerCode":  "MOMOTEST",
		"orderId":      "ORD-20250101-000002",
		"requestId":    "req-001",
		"amount":       "249000",
		"orderInfo":    "Payment for TOEIC Reading Mastery",
		"orderType":    "momo_wallet",
		"transId":      "2147483647",
		"resultCode":   "0",
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": "1735732800000",
		"extraData":    "",
	}
	for k, val := range overrides {
		params[k] = val
	}

	signed := map[string]string{"accessKey": m.cfg.AccessKey}
	for _, f := range momoCallbackFields {
		signed[f] = params[f]
	}
	params[momoSigField] = m.codec.Sign(signed, momoSigField, m.cfg.SecretKey)
	return params
}

func TestMoMoVerifyCallback(t *testing.T) {
	m := newTestMoMo()
	params := signedMoMoCallback(m, nil)

	require.True(t, m.VerifyCallback(params))

	params["amount"] = "1"
	require.False(t, m.VerifyCallback(params))
}

func TestMoMoVerifyCallbackSignsEmptyFields(t *testing.T) {
	m := newTestMoMo()

	// extraData is empty but still part of the signed string; dropping it
	// from the payload must not change the verdict because missing fields
	// sign as empty too.
	params := signedMoMoCallback(m, nil)
	delete(params, "extraData")
	require.True(t, m.VerifyCallback(params))
}

func TestMoMoVerifyCallbackMissingSignature(t *testing.T) {
	m := newTestMoMo()
	params := signedMoMoCallback(m, nil)
	delete(params, momoSigField)

	require.False(t, m.VerifyCallback(params))
}

func TestMoMoVerifyCallbackIgnoresPayloadAccessKey(t *testing.T) {
	m := newTestMoMo()
	params := signedMoMoCallback(m, nil)

	// The accessKey in the canonical string comes from configuration, so a
	// caller-supplied one must change nothing.
	params["accessKey"] = "attacker-key"
	require.True(t, m.VerifyCallback(params))
}

func TestMoMoExtractResult(t *testing.T) {
	m := newTestMoMo()
	params := signedMoMoCallback(m, nil)

	result, err := m.ExtractResult(params)
	require.NoError(t, err)
	require.Equal(t, "ORD-20250101-000002", result.OrderCode)
	require.Equal(t, int64(249000), result.Amount)
	require.Equal(t, "2147483647", result.ProviderTxnID)
	require.True(t, result.Success)
}

func TestMoMoExtractResultFailureCode(t *testing.T) {
	m := newTestMoMo()
	params := signedMoMoCallback(m, map[string]string{
		"resultCode": "1006",
		"message":    "Transaction denied by user.",
	})

	result, err := m.ExtractResult(params)
	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestMoMoExtractResultMalformed(t *testing.T) {
	m := newTestMoMo()

	cases := map[string]map[string]string{
		"missing order id": {"amount": "249000", "resultCode": "0"},
		"bad amount":       {"orderId": "ORD-1", "amount": "abc", "resultCode": "0"},
		"bad result code":  {"orderId": "ORD-1", "amount": "249000", "resultCode": "ok"},
	}

	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.ExtractResult(params)
			require.ErrorIs(t, err, ErrMalformedCallback)
		})
	}
}
