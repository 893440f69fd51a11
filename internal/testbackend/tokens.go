package testbackend

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningKey signs every token minted by the fake backend.
var SigningKey = []byte("testbackend-secret")

// MustToken mints an HS256 token carrying claims plus a random "jti",
// so two tokens with the same claims still differ.
func MustToken(claims map[string]any) string {
	mapClaims := jwt.MapClaims{"jti": uuid.NewString()}
	for k, v := range claims {
		mapClaims[k] = v
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString(SigningKey)
	if err != nil {
		panic(err)
	}
	return signed
}
