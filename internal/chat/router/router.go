package router

import (
	"context"

	"chat_delivery_service/internal/chat/app"
	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/metrics"
	"chat_delivery_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/gofiber/websocket/v2"
)

// Deps what the routes need
type Deps struct {
	Websocket     *app.ChatWebsocketHandler
	REST          *app.RESTHandler
	Auth          app.Authenticator
	Throttle      *middlewares.LimiterPool
	InternalToken string
}

// RegisterRoutes 注册聊天服務的路由
// @title Chat Delivery Service API
// @version 1.0
// @description Realtime chat gateway: websocket at /ws, internal and call history endpoints
// @host localhost:8080
// @BasePath /
func RegisterRoutes(r *fiber.App, d Deps) {
	r.Get("/swagger/*", swagger.HandlerDefault)
	r.Get("/healthz", d.REST.Healthz)
	r.Get("/metrics", metrics.Handler())

	// 只掛在內部路由上，/ws 與 /calls 走 token
	internalAuth := middlewares.InternalAuth(d.InternalToken)
	r.Post("/debug", internalAuth, d.REST.DebugLogFlag)
	r.Post("/internal/conversations/created", internalAuth, d.REST.ConversationCreated)

	verify := VerifyWith(d.Auth)
	r.Get("/calls", middlewares.TokenAuth(verify), d.REST.CallHistory)

	r.Get("/ws",
		middlewares.ConnectThrottle(d.Throttle),
		func(c *fiber.Ctx) error {
			if !websocket.IsWebSocketUpgrade(c) {
				return fiber.ErrUpgradeRequired
			}
			return c.Next()
		},
		middlewares.TokenAuth(verify),
		deviceFromQuery,
		websocket.New(func(c *websocket.Conn) {
			d.Websocket.HandleConnection(context.Background(), c)
		}),
	)
}

// VerifyWith adapts an Authenticator to the token middleware
func VerifyWith(auth app.Authenticator) middlewares.VerifyFunc {
	return func(ctx context.Context, token string) (interface{}, error) {
		return auth.Authenticate(ctx, token)
	}
}

// deviceFromQuery clients that cannot put the device into the token pass ?deviceId=
func deviceFromQuery(c *fiber.Ctx) error {
	p, ok := c.Locals(middlewares.TokenPrincipal).(domain.Principal)
	if ok && p.DeviceID == "" {
		if d := c.Query("deviceId"); d != "" {
			p.DeviceID = d
			c.Locals(middlewares.TokenPrincipal, p)
		}
	}
	return c.Next()
}
