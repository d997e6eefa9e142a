// Package webhook provides the HTTP surface of the lifecycle service:
// inbound lifecycle events, signed action callbacks and a health check.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// DefaultTokenTTL is how long a rendered action stays executable.
const DefaultTokenTTL = 7 * 24 * time.Hour

// ActionClaims contains the claims encoded in an action token.
type ActionClaims struct {
	Command         string            `json:"cmd"`
	Parameters      map[string]string `json:"params,omitempty"`
	OptionParameter string            `json:"opt,omitempty"` // menu parameter bound to the chosen value
	OptionValues    []string          `json:"vals,omitempty"`
	Expiry          time.Time         `json:"exp"`
}

// Allows reports whether value may be bound to the claims. Buttons accept
// any value; menus only the values they offered.
func (c *ActionClaims) Allows(value string) bool {
	if c.OptionParameter == "" {
		return true
	}
	for _, v := range c.OptionValues {
		if v == value {
			return true
		}
	}
	return false
}

// Bind returns the claimed parameters with a chosen menu value applied.
func (c *ActionClaims) Bind(value string) map[string]string {
	a := types.Action{Command: c.Command, Parameters: c.Parameters, OptionParameter: c.OptionParameter}
	if c.OptionParameter != "" {
		a.Options = []types.Option{{Value: value}}
	}
	return a.Bind(value)
}

// GenerateActionToken creates an HMAC-signed token for an action.
//
// Token format: base64(json(claims)).base64(hmac-sha256(claims))
func GenerateActionToken(a types.Action, expiry time.Time, secret []byte) (string, error) {
	claims := ActionClaims{
		Command:    a.Command,
		Parameters: a.Parameters,
		Expiry:     expiry,
	}
	if a.IsMenu() {
		claims.OptionParameter = a.OptionParameter
		for _, o := range a.Options {
			claims.OptionValues = append(claims.OptionValues, o.Value)
		}
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token claims: %w", err)
	}

	h := hmac.New(sha256.New, secret)
	h.Write(claimsJSON)
	signature := h.Sum(nil)

	claimsB64 := base64.RawURLEncoding.EncodeToString(claimsJSON)
	sigB64 := base64.RawURLEncoding.EncodeToString(signature)

	return claimsB64 + "." + sigB64, nil
}

// ValidateActionToken validates an HMAC-signed action token.
// Returns the decoded claims if valid, or an error if invalid.
func ValidateActionToken(token string, secret []byte) (*ActionClaims, error) {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 || i == len(token)-1 {
		return nil, fmt.Errorf("invalid token format")
	}
	claimsB64, sigB64 := token[:i], token[i+1:]

	claimsJSON, err := base64.RawURLEncoding.DecodeString(claimsB64)
	if err != nil {
		return nil, fmt.Errorf("invalid token encoding: %w", err)
	}

	signature, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}

	h := hmac.New(sha256.New, secret)
	h.Write(claimsJSON)
	if !hmac.Equal(signature, h.Sum(nil)) {
		return nil, fmt.Errorf("invalid token signature")
	}

	var claims ActionClaims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("invalid token claims: %w", err)
	}

	if time.Now().After(claims.Expiry) {
		return nil, fmt.Errorf("token expired at %s", claims.Expiry.Format(time.RFC3339))
	}

	return &claims, nil
}

// Signer signs rendered actions with a shared secret.
type Signer struct {
	Secret []byte
	TTL    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer. A zero ttl uses DefaultTokenTTL.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{Secret: secret, TTL: ttl, now: time.Now}
}

// Sign returns the token for a.
func (s *Signer) Sign(a types.Action) (string, error) {
	return GenerateActionToken(a, s.now().Add(s.TTL), s.Secret)
}

// Verify validates a token signed by s.
func (s *Signer) Verify(token string) (*ActionClaims, error) {
	return ValidateActionToken(token, s.Secret)
}

// SignedAction is a rendered action with its callback token.
type SignedAction struct {
	types.Action
	Token string `json:"token"`
}

// SignAll signs every action in order.
func (s *Signer) SignAll(actions []types.Action) ([]SignedAction, error) {
	out := make([]SignedAction, 0, len(actions))
	for _, a := range actions {
		tok, err := s.Sign(a)
		if err != nil {
			return nil, err
		}
		out = append(out, SignedAction{Action: a, Token: tok})
	}
	return out, nil
}
