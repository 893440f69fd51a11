package authmodel

import "strings"

// FieldPath addresses a value inside a decoded JSON object, one key per level.
type FieldPath []string

func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

// Lookup walks doc along the path and returns a non-empty string leaf.
func (p FieldPath) Lookup(doc map[string]any) (string, bool) {
	if len(p) == 0 {
		return "", false
	}
	current := doc
	for i, key := range p {
		value, ok := current[key]
		if !ok {
			return "", false
		}
		if i == len(p)-1 {
			s, ok := value.(string)
			return s, ok && s != ""
		}
		if current, ok = value.(map[string]any); !ok {
			return "", false
		}
	}
	return "", false
}

// LoginTokenFields lists where a login response may carry the access token,
// in priority order. Older backends used "token", "jwt" or a "result" envelope.
var LoginTokenFields = []FieldPath{
	{"access_token"},
	{"token"},
	{"jwt"},
	{"result", "access_token"},
}

var (
	refreshTokenField = FieldPath{"refresh_token"}
	idTokenField      = FieldPath{"id_token"}
	accessTokenField  = FieldPath{"access_token"}
)

// FirstString returns the first path in paths that resolves to a non-empty string.
func FirstString(doc map[string]any, paths []FieldPath) (string, bool) {
	for _, p := range paths {
		if s, ok := p.Lookup(doc); ok {
			return s, true
		}
	}
	return "", false
}

// LoginResponse normalises a decoded login body. The access token is taken from
// the first matching LoginTokenFields entry.
func LoginResponse(doc map[string]any) TokenResponse {
	var resp TokenResponse
	if s, ok := FirstString(doc, LoginTokenFields); ok {
		resp.AccessToken = &s
	}
	resp.RefreshToken = lookupPtr(doc, refreshTokenField)
	resp.IDToken = lookupPtr(doc, idTokenField)
	return resp
}

// RefreshResponse normalises a decoded refresh body. Only "access_token" is
// accepted for the access token, and an id_token is not carried over.
func RefreshResponse(doc map[string]any) TokenResponse {
	return TokenResponse{
		AccessToken:  lookupPtr(doc, accessTokenField),
		RefreshToken: lookupPtr(doc, refreshTokenField),
	}
}

func lookupPtr(doc map[string]any, p FieldPath) *string {
	if s, ok := p.Lookup(doc); ok {
		return &s
	}
	return nil
}
