package credentials

import (
	"github.com/jrsteele09/go-backoffice/token"
	"golang.org/x/oauth2"
)

// Set is a point-in-time copy of every credential field. Empty means absent.
type Set struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Username     string
	TenantID     string
}

// Authenticated reports whether an access token is present.
func (s Set) Authenticated() bool {
	return s.AccessToken != ""
}

// Empty reports whether no field is set.
func (s Set) Empty() bool {
	return s == Set{}
}

// CanRefresh reports whether the set holds everything /auth/refresh needs.
func (s Set) CanRefresh() bool {
	return s.Username != "" && s.RefreshToken != "" && s.TenantID != ""
}

// Token converts the set to an oauth2 bearer token. Expiry comes from the
// access token's unverified "exp" claim and is zero when unknown.
func (s Set) Token() *oauth2.Token {
	if !s.Authenticated() {
		return nil
	}
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
	}
	if exp, ok := token.DecodeClaims(s.AccessToken).ExpiresAt(); ok {
		tok.Expiry = exp
	}
	extra := map[string]any{
		"username": s.Username,
		"tenant":   s.TenantID,
	}
	if s.IDToken != "" {
		extra["id_token"] = s.IDToken
	}
	return tok.WithExtra(extra)
}
