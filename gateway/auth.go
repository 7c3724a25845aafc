package gateway

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nerotrade/aaswap/core/auth"
)

const claimKey = "apiClaim"

// requireRole rejects requests without a valid API key carrying role. It is
// a no-op when no jwt_secret is configured.
func (s *Server) requireRole(role auth.ApiRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(s.config.JwtSecret) == 0 {
				return next(c)
			}

			claims, err := auth.VerifyAuthHeader(s.config.JwtSecret, c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, &ErrorResp{Code: "UNAUTHORIZED", Message: auth.ErrorUnAuthorized.Error()})
			}
			if !claims.HasRole(role) {
				return c.JSON(http.StatusForbidden, &ErrorResp{Code: "FORBIDDEN", Message: auth.ErrorMissingRole.Error()})
			}

			c.Set(claimKey, claims)
			s.logger.Debug("authenticated api key", "subject", claims.Subject, "path", c.Path())
			return next(c)
		}
	}
}
