package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

// CreateAPIKey signs a long lived HS256 key for the gateway.
func CreateAPIKey(secret []byte, subject string, roles []string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt_secret is not configured")
	}
	if subject == "" {
		return "", fmt.Errorf("error: subject cannot be empty")
	}
	if len(roles) < 1 {
		return "", fmt.Errorf("error: at least one role is required")
	}
	for _, r := range roles {
		if ApiRole(r) != SubmitRole && ApiRole(r) != ReadonlyRole {
			return "", fmt.Errorf("error: unknown role %q", r)
		}
	}

	claims := &APIClaim{
		&jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    Issuer,
			Subject:   subject,
		},
		lo.Map(lo.Uniq(roles), func(r string, _ int) ApiRole { return ApiRole(r) }),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// VerifyAuthHeader checks a "Bearer <jwt>" header against secret and returns
// the key's claims.
func VerifyAuthHeader(secret []byte, authHeader string) (*APIClaim, error) {
	bearerToken := strings.SplitN(authHeader, " ", 2)
	if len(bearerToken) < 2 || bearerToken[0] != "Bearer" {
		return nil, ErrorMalformedAuthHeader
	}

	claims := &APIClaim{RegisteredClaims: &jwt.RegisteredClaims{}}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(bearerToken[1]), claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("Unexpected signing method: %v", token.Header["alg"])
		}
		if token.Header["alg"] != JwtAlg {
			return nil, fmt.Errorf("invalid signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrorInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrorInvalidToken
	}
	return claims, nil
}
