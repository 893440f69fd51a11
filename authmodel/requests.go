package authmodel

// LoginRequest is the body of POST /login/token.
type LoginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
// The backend keys refresh tokens by tenant but names the field "company".
type RefreshRequest struct {
	Username     string `json:"username"`
	RefreshToken string `json:"refresh_token"`
	Company      string `json:"company"`
}
