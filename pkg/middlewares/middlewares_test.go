package middlewares

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	errprocess "chat_delivery_service/pkg/err"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthApp(verify VerifyFunc) *fiber.App {
	app := fiber.New()
	app.Get("/ws", TokenAuth(verify), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(TokenPrincipal).(string))
	})
	return app
}

func TestTokenAuth(t *testing.T) {
	verify := func(_ context.Context, tok string) (interface{}, error) {
		switch tok {
		case "good":
			return "u1", nil
		case "slow":
			return nil, errprocess.Unavailable("identity", context.DeadlineExceeded)
		default:
			return nil, errprocess.Auth("invalid token")
		}
	}
	app := newAuthApp(verify)

	cases := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"missing", "/ws", "", fiber.StatusUnauthorized},
		{"query", "/ws?auth=good", "", fiber.StatusOK},
		{"alt query", "/ws?token=good", "", fiber.StatusOK},
		{"bearer", "/ws", "Bearer good", fiber.StatusOK},
		{"invalid", "/ws?auth=bad", "", fiber.StatusUnauthorized},
		{"identity down", "/ws?auth=slow", "", fiber.StatusServiceUnavailable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", c.target, nil)
			if c.header != "" {
				req.Header.Set("Authorization", c.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, c.status, resp.StatusCode)
		})
	}
}

func TestInternalAuth(t *testing.T) {
	app := fiber.New()
	app.Post("/internal", InternalAuth("s3cret"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	req := httptest.NewRequest("POST", "/internal", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("POST", "/internal", nil)
	req.Header.Set(HeaderInternalAuth, "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestInternalAuthEmptySecretDenies(t *testing.T) {
	app := fiber.New()
	app.Post("/internal", InternalAuth(""), func(c *fiber.Ctx) error { return errors.New("unreachable") })

	req := httptest.NewRequest("POST", "/internal", nil)
	req.Header.Set(HeaderInternalAuth, "")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestLimiterPool(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewLimiterPool(1, 2, time.Minute)
	p.now = func() time.Time { return now }

	assert.True(t, p.Allow("1.2.3.4"))
	assert.True(t, p.Allow("1.2.3.4"))
	assert.False(t, p.Allow("1.2.3.4"))
	assert.True(t, p.Allow("5.6.7.8"))

	now = now.Add(time.Second)
	assert.True(t, p.Allow("1.2.3.4"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, p.Sweep())
}
