package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the API key; `Authorization: Bearer <key>` is accepted too.
const APIKeyHeader = "X-API-Key"

// newKeyAuth checks the API key against keyHash, a bcrypt hash. An empty hash rejects every request.
func newKeyAuth(keyHash string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + APIKeyHeader + ",header:" + echo.HeaderAuthorization,
		Validator: func(key string, _ echo.Context) (bool, error) {
			if keyHash == "" || key == "" {
				return false, nil
			}
			return bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) == nil, nil
		},
		ErrorHandler: func(error, echo.Context) error {
			return errUnauthorized
		},
	})
}

// HashAPIKey returns the bcrypt hash to configure for key.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(hash), err
}
