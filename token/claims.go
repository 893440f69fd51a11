package token

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-backoffice/internal/utils"
)

// TenantClaimKeys lists the claim names that carry the tenant, in priority order.
// Older tokens issued the tenant under "company".
var TenantClaimKeys = []string{"tenant", "company"}

const usernameClaim = "username"

// Claims is the decoded payload segment of a compact token.
// The signature is never checked, so claims are informational only.
type Claims jwt.MapClaims

var (
	segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())
	toURLAlphabet = strings.NewReplacer("+", "-", "/", "_")
)

// DecodeClaims reads the payload segment of a header.payload.signature token.
// Any failure yields nil: callers treat nil as "no usable claims".
func DecodeClaims(raw string) Claims {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 {
		return nil
	}

	payload, err := segmentParser.DecodeSegment(toURLAlphabet.Replace(parts[1]))
	if err != nil || !utf8.Valid(payload) {
		return nil
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims == nil {
		return nil
	}
	return Claims(claims)
}

// String returns a non-empty string claim.
func (c Claims) String(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	s, ok := c[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Username returns the "username" claim.
func (c Claims) Username() string {
	s, _ := c.String(usernameClaim)
	return s
}

// Tenant returns the first tenant claim present in TenantClaimKeys order.
func (c Claims) Tenant() string {
	for _, key := range TenantClaimKeys {
		if s, ok := c.String(key); ok {
			return s
		}
	}
	return ""
}

// Roles returns the string entries of the "roles" claim.
func (c Claims) Roles() []string {
	if c == nil {
		return nil
	}
	roles, ok := c["roles"].([]any)
	if !ok {
		return nil
	}
	return utils.ToStringSlice(roles)
}

// ExpiresAt returns the "exp" claim, if the token carries a readable one.
func (c Claims) ExpiresAt() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	exp, err := jwt.MapClaims(c).GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
