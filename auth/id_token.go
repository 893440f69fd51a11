package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IDTokenVerifier checks an id_token returned at login.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) error
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier adapts a go-oidc verifier.
func NewOIDCVerifier(verifier *oidc.IDTokenVerifier) IDTokenVerifier {
	return &oidcVerifier{verifier: verifier}
}

// DiscoverOIDCVerifier fetches the issuer's discovery document and keys.
// An empty clientID skips the audience check.
func DiscoverOIDCVerifier(ctx context.Context, issuer, clientID string) (IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("[DiscoverOIDCVerifier] failed to create OIDC provider: %w", err)
	}
	return NewOIDCVerifier(provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	})), nil
}

func (v *oidcVerifier) Verify(ctx context.Context, rawIDToken string) error {
	if _, err := v.verifier.Verify(ctx, rawIDToken); err != nil {
		return fmt.Errorf("[oidcVerifier.Verify] %w", err)
	}
	return nil
}
