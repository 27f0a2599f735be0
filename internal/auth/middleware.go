package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	// HeaderOrgID carries the tenant organization for a request.
	HeaderOrgID = "X-Org-Id"
	// HeaderAgentID carries the agent within the organization.
	HeaderAgentID = "X-Agent-Id"
	// HeaderUserID optionally carries the end user the memory belongs to.
	HeaderUserID = "X-User-Id"

	identityContextKey = "memoryd.identity"
)

// Middleware returns an echo middleware that authenticates the bearer
// token, validates the tenancy headers, and stores the resolved Identity
// on the request context.
func Middleware(svc *Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			org, err := svc.Authenticate(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing credentials")
			}

			identity, err := svc.ValidateTenancy(org,
				c.Request().Header.Get(HeaderOrgID),
				c.Request().Header.Get(HeaderAgentID))
			if err != nil {
				if errors.Is(err, ErrForbidden) {
					return echo.NewHTTPError(http.StatusForbidden, err.Error())
				}
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			identity.Subject = c.Request().Header.Get(HeaderUserID)

			c.Set(identityContextKey, identity)
			return next(c)
		}
	}
}

// IdentityFrom returns the Identity stored by Middleware, if any.
func IdentityFrom(c echo.Context) (Identity, bool) {
	identity, ok := c.Get(identityContextKey).(Identity)
	return identity, ok
}
