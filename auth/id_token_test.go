package auth_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-backoffice/auth"
	"github.com/stretchr/testify/require"
)

func TestOIDCVerifier(t *testing.T) {
	const issuer = "https://issuer.example.com"

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := auth.NewOIDCVerifier(oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: "backoffice"}))

	now := time.Now()
	valid := jwt.MapClaims{
		"iss": issuer,
		"aud": "backoffice",
		"sub": "alice",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	require.NoError(t, verifier.Verify(context.Background(), sign(valid)))

	wrongAudience := jwt.MapClaims{}
	for k, v := range valid {
		wrongAudience[k] = v
	}
	wrongAudience["aud"] = "someone-else"
	require.Error(t, verifier.Verify(context.Background(), sign(wrongAudience)))

	require.Error(t, verifier.Verify(context.Background(), "not-a-token"))
}
