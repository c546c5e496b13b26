package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Oshioxi2003/edu/gateway"
)

// ErrInvalidToken is returned for every verification failure: malformed
// encoding, expired timestamp, or signature mismatch. Callers must treat all
// three identically so rejections do not leak which check failed.
var ErrInvalidToken = errors.New("invalid token")

// DefaultTTL is the issue window used by media preview flows
const DefaultTTL = 5 * time.Minute

// Claims is the decoded content of a valid capability token
type Claims struct {
	ResourceID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Service issues and verifies short-lived capability tokens for protected
// resources. Tokens are self-contained: nothing is persisted, and revocation
// is achieved purely by short expiry windows.
type Service struct {
	secret string
	codec  gateway.Codec
	now    func() time.Time
}

// NewService creates a token service keyed by the server secret. An empty
// secret is a configuration fault and must abort startup.
func NewService(secret string) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token service requires a non-empty secret")
	}
	return &Service{
		secret: secret,
		codec:  gateway.Codec{Algo: gateway.SHA256},
		now:    time.Now,
	}, nil
}

// Issue creates a signed, URL-safe token granting access to resourceID until
// now+ttl. The same resource can be issued any number of tokens.
func (s *Service) Issue(resourceID string, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	issued := s.now()
	expires := issued.Add(ttl)

	payload := fmt.Sprintf("%s|%d|%d", resourceID, issued.Unix(), expires.Unix())
	sig := s.codec.SignString(payload, s.secret)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + sig
}

// Verify decodes and checks a token. maxAge additionally bounds the token's
// age independently of its embedded expiry; pass 0 to rely on expiry alone.
func (s *Service) Verify(tok string, maxAge time.Duration) (*Claims, error) {
	dot := strings.LastIndexByte(tok, '.')
	if dot <= 0 || dot == len(tok)-1 {
		return nil, ErrInvalidToken
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(tok[:dot])
	if err != nil {
		return nil, ErrInvalidToken
	}
	payload := string(payloadBytes)

	if !s.codec.VerifyString(payload, tok[dot+1:], s.secret) {
		return nil, ErrInvalidToken
	}

	// The two trailing fields are timestamps; everything before them is the
	// resource id, which may itself contain separators.
	expSep := strings.LastIndexByte(payload, '|')
	if expSep <= 0 {
		return nil, ErrInvalidToken
	}
	issSep := strings.LastIndexByte(payload[:expSep], '|')
	if issSep <= 0 {
		return nil, ErrInvalidToken
	}

	resourceID := payload[:issSep]
	issuedUnix, err := strconv.ParseInt(payload[issSep+1:expSep], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	expiresUnix, err := strconv.ParseInt(payload[expSep+1:], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	now := s.now()
	issued := time.Unix(issuedUnix, 0)
	expires := time.Unix(expiresUnix, 0)

	if now.After(expires) {
		return nil, ErrInvalidToken
	}
	if maxAge > 0 && now.Sub(issued) > maxAge {
		return nil, ErrInvalidToken
	}

	return &Claims{
		ResourceID: resourceID,
		IssuedAt:   issued,
		ExpiresAt:  expires,
	}, nil
}
