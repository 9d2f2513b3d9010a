package middlewares

import (
	"context"
	"crypto/subtle"
	"strings"

	errprocess "chat_delivery_service/pkg/err"

	"github.com/gofiber/fiber/v2"
)

const (
	//QueryToken token in query name
	QueryToken = "auth"
	//QueryTokenAlt alternative query name used by socket clients
	QueryTokenAlt = "token"

	//CookieToken token in cookie name
	CookieToken = "auth_token"

	//TokenPrincipal verified principal, set c.locals name
	TokenPrincipal = "principal"

	// HeaderInternalAuth shared secret for service to service calls
	HeaderInternalAuth = "X-Internal-Auth"
)

// VerifyFunc resolves a raw token into a principal
type VerifyFunc func(ctx context.Context, token string) (interface{}, error)

// ExtractToken query, cookie, then Authorization header
func ExtractToken(c *fiber.Ctx) string {
	if t := c.Query(QueryToken); t != "" {
		return t
	}
	if t := c.Query(QueryTokenAlt); t != "" {
		return t
	}
	if t := c.Cookies(CookieToken); t != "" {
		return t
	}
	h := c.Get(fiber.HeaderAuthorization)
	if i := strings.IndexByte(h, ' '); i > 0 {
		return strings.TrimSpace(h[i+1:])
	}
	return strings.TrimSpace(h)
}

// TokenAuth rejects the request with 401 before the handler (and any websocket upgrade) runs
func TokenAuth(verify VerifyFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := ExtractToken(c)
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
				"code":  errprocess.KindAuth,
			})
		}

		principal, err := verify(c.UserContext(), tokenStr)
		if err != nil {
			kind := errprocess.KindOf(err)
			status := fiber.StatusUnauthorized
			if kind == errprocess.KindDependencyUnavailable {
				status = fiber.StatusServiceUnavailable
			}
			return c.Status(status).JSON(fiber.Map{
				"error": errprocess.PublicMessage(err),
				"code":  kind,
			})
		}

		c.Locals(TokenPrincipal, principal)
		return c.Next()
	}
}

// InternalAuth constant time compare of X-Internal-Auth, an empty secret disables the route
func InternalAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(HeaderInternalAuth)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "forbidden",
				"code":  errprocess.KindAuth,
			})
		}
		return c.Next()
	}
}
