package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"sort"
	"strings"
)

// HashAlgo selects the HMAC digest for a provider family. The digest is a
// per-provider constant, never negotiated per request.
type HashAlgo int

const (
	SHA256 HashAlgo = iota
	SHA512
)

// Codec canonicalizes a provider's parameter set into a signing string and
// computes/verifies HMAC signatures over it.
type Codec struct {
	Algo HashAlgo
	// SkipEmpty drops keys whose value is empty from the canonical string.
	// VNPay omits empty fields; MoMo signs them as "key=".
	SkipEmpty bool
}

// Canonicalize sorts parameters lexicographically by key and joins them as
// key=value pairs with '&'. The signature field itself is always omitted.
// Values are used exactly as received: unit conversions happen after
// verification, never before, so the signed bytes are the gateway's own.
func (c Codec) Canonicalize(params map[string]string, sigField string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == sigField {
			continue
		}
		if c.SkipEmpty && params[k] == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}

// Sign computes the hex HMAC signature over the canonical parameter string
func (c Codec) Sign(params map[string]string, sigField, secret string) string {
	return c.SignString(c.Canonicalize(params, sigField), secret)
}

// SignString computes the hex HMAC signature over an already-canonical string
func (c Codec) SignString(data, secret string) string {
	var mac hash.Hash
	switch c.Algo {
	case SHA512:
		mac = hmac.New(sha512.New, []byte(secret))
	default:
		mac = hmac.New(sha256.New, []byte(secret))
	}
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over the canonical params and compares it
// against the claimed one in constant time. Hex case differences between
// gateways are tolerated.
func (c Codec) Verify(params map[string]string, sigField, secret string) bool {
	claimed := params[sigField]
	if claimed == "" {
		return false
	}
	return c.VerifyString(c.Canonicalize(params, sigField), claimed, secret)
}

// VerifyString compares a claimed signature against the one recomputed over
// an already-canonical string, in constant time.
func (c Codec) VerifyString(data, claimed, secret string) bool {
	expected := c.SignString(data, secret)
	return hmac.Equal([]byte(strings.ToLower(claimed)), []byte(strings.ToLower(expected)))
}
