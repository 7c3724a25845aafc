package auth

import (
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	Issuer = "aaswap"
	JwtAlg = "HS256"

	// SubmitRole may send swaps and shares from the gateway's smart account.
	SubmitRole   = ApiRole("submit")
	// ReadonlyRole may read the account, tokens, quotes and receipts.
	ReadonlyRole = ApiRole("readonly")
)

var (
	ErrorUnAuthorized = fmt.Errorf("Unauthorized error")

	ErrorInvalidToken = fmt.Errorf("Invalid Bearer Token")

	ErrorMalformedAuthHeader = fmt.Errorf("Malform auth header")
	ErrorMissingRole         = fmt.Errorf("API key lacks the required role")
)

type ApiRole string
type APIClaim struct {
	*jwt.RegisteredClaims
	Roles []ApiRole `json:"roles"`
}

// HasRole reports whether the claim grants role. SubmitRole implies
// ReadonlyRole.
func (c *APIClaim) HasRole(role ApiRole) bool {
	for _, r := range c.Roles {
		if r == role || (r == SubmitRole && role == ReadonlyRole) {
			return true
		}
	}
	return false
}
