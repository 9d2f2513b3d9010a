package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"chat_delivery_service/internal/chat/domain"
	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/logger"
	"chat_delivery_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RESTHandler HTTP surface next to the websocket gateway
type RESTHandler struct {
	hub     *Hub
	calls   *CallUseCase
	timeout time.Duration
}

// NewRESTHandler create RESTHandler
func NewRESTHandler(hub *Hub, calls *CallUseCase, timeout time.Duration) *RESTHandler {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &RESTHandler{hub: hub, calls: calls, timeout: timeout}
}

// ErrorBody error response
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ConversationCreatedRes fan-out result
type ConversationCreatedRes struct {
	Delivered int `json:"delivered"`
}

// CallHistoryRes call history page
type CallHistoryRes struct {
	Calls []*domain.CallSession `json:"calls"`
}

func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch errprocess.KindOf(err) {
	case errprocess.KindValidation:
		status = fiber.StatusBadRequest
	case errprocess.KindAuth:
		status = fiber.StatusUnauthorized
	case errprocess.KindNotFound:
		status = fiber.StatusNotFound
	case errprocess.KindConflict:
		status = fiber.StatusConflict
	case errprocess.KindRateLimited:
		status = fiber.StatusTooManyRequests
	case errprocess.KindDependencyUnavailable:
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(ErrorBody{Error: errprocess.PublicMessage(err), Code: string(errprocess.KindOf(err))})
}

// ConversationCreated tells each listed user that a conversation now exists
// @Summary Announce a new conversation
// @Description Emits conversation.created to the personal room of every listed user
// @Tags Internal
// @Accept json
// @Produce json
// @Param X-Internal-Auth header string true "Shared secret"
// @Param body body domain.ConversationCreated true "Conversation"
// @Success 202 {object} ConversationCreatedRes
// @Failure 400 {object} ErrorBody
// @Failure 403 {object} ErrorBody
// @Router /internal/conversations/created [post]
func (h *RESTHandler) ConversationCreated(c *fiber.Ctx) error {
	var req domain.ConversationCreated
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, errprocess.Validation("invalid body"))
	}
	if req.ConversationID == "" || len(req.UserIDs) == 0 {
		return writeError(c, errprocess.Validation("conversationId and userIds are required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	seen := make(map[string]struct{}, len(req.UserIDs))
	for _, u := range req.UserIDs {
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		_ = h.hub.Emit(ctx, domain.UserRoom(u), domain.OutConvCreated, req, "")
	}
	logger.Log.Info("conversation created", zap.String("conversationID", req.ConversationID), zap.Int("users", len(seen)))
	return c.Status(fiber.StatusAccepted).JSON(ConversationCreatedRes{Delivered: len(seen)})
}

// CallHistory calls of the authenticated user
// @Summary List my calls
// @Description Newest first, without the signaling log
// @Tags Calls
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param limit query int false "Page size (1-100, default 20)"
// @Param before query string false "RFC3339 timestamp, exclusive upper bound on createdAt"
// @Success 200 {object} CallHistoryRes
// @Failure 400 {object} ErrorBody
// @Failure 401 {object} ErrorBody
// @Router /calls [get]
func (h *RESTHandler) CallHistory(c *fiber.Ctx) error {
	p, ok := c.Locals(middlewares.TokenPrincipal).(domain.Principal)
	if !ok {
		return writeError(c, errprocess.Auth("missing principal"))
	}
	limit, err := strconv.Atoi(c.Query("limit", "0"))
	if err != nil {
		return writeError(c, errprocess.Validation("limit must be an integer"))
	}
	var before time.Time
	if s := c.Query("before"); s != "" {
		if before, err = time.Parse(time.RFC3339, s); err != nil {
			return writeError(c, errprocess.Validation("before must be RFC3339"))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	calls, err := h.calls.History(ctx, p.UserID, before, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(CallHistoryRes{Calls: calls})
}

// Healthz liveness
// @Summary Liveness check
// @Tags Shared
// @Success 200 {string} string "ok"
// @Router /healthz [get]
func (h *RESTHandler) Healthz(c *fiber.Ctx) error {
	return c.SendString("ok")
}

// DebugLogFlag toggle debug log flag
// @Summary Toggle Debug Log Flag
// @Description Enable or disable debug logging for this instance
// @Tags Shared
// @Param X-Internal-Auth header string true "Shared secret"
// @Param status query bool true "Debug status"
// @Success 200 {string} string "debug mode updated"
// @Failure 400 {string} string "Invalid status value"
// @Router /debug [post]
func (h *RESTHandler) DebugLogFlag(c *fiber.Ctx) error {
	statusStr := c.Query("status")
	logger.Log.Info("debug", zap.String("status", statusStr))
	status, err := strconv.ParseBool(statusStr)
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	logger.Log.SetDebugMode(status)
	return c.SendString(fmt.Sprintf("debug mode is : %t", status))
}
