package middleware

import (
	"crypto/subtle"
	"net/http"

	"checkout-ledger/internal/service"

	"github.com/labstack/echo/v4"
)

const (
	HeaderDiscordID       = "X-Discord-Id"
	HeaderDiscordUsername = "X-Discord-Username"
	HeaderAdminToken      = "X-Admin-Token"
	HeaderWebhookSecret   = "X-Webhook-Secret"

	userIDKey = "user_id"
)

// UserAuth resolves the caller from the X-Discord-Id header set by the
// OAuth proxy in front of the API, creating the user on first sight.
func UserAuth(users service.UserService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			discordID := c.Request().Header.Get(HeaderDiscordID)
			if discordID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing "+HeaderDiscordID+" header")
			}

			user, err := users.EnsureUser(c.Request().Context(), discordID, c.Request().Header.Get(HeaderDiscordUsername))
			if err != nil {
				return err
			}

			c.Set(userIDKey, user.ID)
			return next(c)
		}
	}
}

// UserID returns the id stored by UserAuth.
func UserID(c echo.Context) uint {
	id, _ := c.Get(userIDKey).(uint)
	return id
}

// SharedSecret rejects requests whose header does not carry secret. An
// empty secret rejects everything.
func SharedSecret(header, secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get(header)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid "+header+" header")
			}
			return next(c)
		}
	}
}

func AdminAuth(token string) echo.MiddlewareFunc {
	return SharedSecret(HeaderAdminToken, token)
}
