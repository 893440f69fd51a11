package authmodel

// TokenResponse is the normalised body of a login or refresh response.
// Every field is optional on the wire; a nil pointer means the backend omitted it.
type TokenResponse struct {
	// AccessToken is the short-lived JWT sent as "Authorization: Bearer <access_token>".
	AccessToken *string `json:"access_token,omitempty"`

	// RefreshToken is exchanged at /auth/refresh for a new access token.
	// Refresh responses may omit it when the backend does not rotate it.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// IDToken is the OpenID Connect identity token, stored when present.
	IDToken *string `json:"id_token,omitempty"`
}
