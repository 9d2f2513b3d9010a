package app

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/config"
	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/logger"
	"chat_delivery_service/pkg/metrics"
	"chat_delivery_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error)

type route struct {
	rateAction string
	// membership every event but leave checks the conversation policy first
	membership bool
	fn         handlerFunc
	// check rejects a malformed payload before it costs a rate limit hit
	check func(data json.RawMessage) error
}

// shape payload must decode into T
func shape[T any]() func(json.RawMessage) error {
	return func(data json.RawMessage) error {
		var v T
		return decode(data, &v)
	}
}

// checkSend decode plus the kind payload rules
func checkSend(data json.RawMessage) error {
	var req domain.SendRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	_, err := validateSend(req)
	return err
}

// ChatWebsocketHandler 可包含所有需要的 UseCase
type ChatWebsocketHandler struct {
	hub        *Hub
	policy     ConversationPolicy
	limiter    *RateLimiter
	presence   *PresenceTracker
	messageUC  *MessageUseCase
	syncUC     *SyncUseCase
	reactionUC *ReactionUseCase
	callUC     *CallUseCase
	threadUC   *ThreadUseCase

	gateway        config.GatewayConfig
	requestTimeout time.Duration
	routes         map[domain.Event]route
}

// HandlerDeps everything the gateway routes to
type HandlerDeps struct {
	Hub            *Hub
	Policy         ConversationPolicy
	Limiter        *RateLimiter
	Presence       *PresenceTracker
	Messages       *MessageUseCase
	Sync           *SyncUseCase
	Reactions      *ReactionUseCase
	Calls          *CallUseCase
	Threads        *ThreadUseCase
	Gateway        config.GatewayConfig
	RequestTimeout time.Duration
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(d HandlerDeps) *ChatWebsocketHandler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 8 * time.Second
	}
	if d.Gateway.WriteTimeout <= 0 {
		d.Gateway.WriteTimeout = 10 * time.Second
	}
	if d.Gateway.PingInterval <= 0 {
		d.Gateway.PingInterval = 30 * time.Second
	}
	h := &ChatWebsocketHandler{
		hub:            d.Hub,
		policy:         d.Policy,
		limiter:        d.Limiter,
		presence:       d.Presence,
		messageUC:      d.Messages,
		syncUC:         d.Sync,
		reactionUC:     d.Reactions,
		callUC:         d.Calls,
		threadUC:       d.Threads,
		gateway:        d.Gateway,
		requestTimeout: d.RequestTimeout,
	}
	h.routes = map[domain.Event]route{
		domain.EventJoin:         {"join", true, h.join, shape[domain.JoinRequest]()},
		domain.EventLeave:        {"leave", false, h.leave, shape[domain.JoinRequest]()},
		domain.EventSend:         {"send", true, h.send, checkSend},
		domain.EventEdit:         {"edit", true, h.edit, shape[domain.EditRequest]()},
		domain.EventDelete:       {"delete", true, h.delete, shape[domain.DeleteRequest]()},
		domain.EventReact:        {"react", true, h.react, shape[domain.ReactRequest]()},
		domain.EventReceipt:      {"receipt", true, h.receipt, shape[domain.ReceiptRequest]()},
		domain.EventTyping:       {"typing", true, h.typing, shape[domain.TypingRequest]()},
		domain.EventGapCheck:     {"gap_check", true, h.gapCheck, shape[domain.GapCheckRequest]()},
		domain.EventGapFill:      {"gap_fill", true, h.gapFill, shape[domain.GapFillRequest]()},
		domain.EventHistory:      {"history", true, h.history, shape[domain.HistoryRequest]()},
		domain.EventPin:          {"pin", true, h.pin, shape[domain.PinRequest]()},
		domain.EventStar:         {"star", true, h.star, shape[domain.StarRequest]()},
		domain.EventThreadCreate: {"thread", true, h.threadCreate, shape[domain.ThreadCreateRequest]()},
		domain.EventThreadJoin:   {"thread", true, h.threadJoin, shape[domain.ThreadJoinRequest]()},
		domain.EventThreadLeave:  {"thread", false, h.threadLeave, shape[domain.ThreadJoinRequest]()},
		domain.EventReport:       {"report", true, h.report, shape[domain.ReportRequest]()},
		domain.EventCallOffer:    {"call", true, h.callStep(h.callUC.Offer), shape[domain.CallSignalRequest]()},
		domain.EventCallAnswer:   {"call", true, h.callStep(h.callUC.Answer), shape[domain.CallSignalRequest]()},
		domain.EventCallICE:      {"call", true, h.callStep(h.callUC.ICE), shape[domain.CallSignalRequest]()},
		domain.EventCallHangup:   {"call", true, h.callStep(h.callUC.Hangup), shape[domain.CallSignalRequest]()},
		domain.EventCallReject:   {"call", true, h.callStep(h.callUC.Reject), shape[domain.CallSignalRequest]()},
	}
	return h
}

// HandleConnection 是 WebSocket 連線的進入點, the principal was verified before the upgrade
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	p, ok := conn.Locals(middlewares.TokenPrincipal).(domain.Principal)
	if !ok || p.UserID == "" {
		logger.Log.Error("websocket without principal", zap.String("remote", conn.RemoteAddr().String()))
		_ = conn.Close()
		return
	}
	if h.gateway.MaxFrameBytes > 0 {
		conn.SetReadLimit(int64(h.gateway.MaxFrameBytes))
	}

	c := NewClient(uuid.New().String(), p, conn, h.gateway.SendBuffer)
	c.SetHeartbeat(func() { h.heartbeat(c) })
	h.Attach(ctx, c)

	go c.WritePump(h.gateway.WriteTimeout, h.gateway.PingInterval)
	// fiber 在 handler 返回後回收 conn，必須等 write pump 結束
	defer func() {
		h.Detach(c)
		<-c.Finished()
	}()

	//client發出close
	//fiber會自動處理(在read msg 回傳err),故需要SetCloseHandler另外接出
	conn.SetCloseHandler(func(code int, text string) error {
		logger.Log.Debug("websocket close frame", zap.String("connID", c.ID), zap.Int("code", code))
		return nil
	})

	for {
		// 1. 讀取前端訊息
		mt, message, err := conn.ReadMessage()
		if err != nil {
			// 檢查是否為 Close 正常結束
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Debug("connection closed", zap.String("connID", c.ID))
			} else {
				//直接斷線 1006
				logger.Log.Debug("websocket read error", zap.String("connID", c.ID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			c.SendJSON(errorFrame("", "", errprocess.Validation("only text frames are supported")))
			continue
		}
		h.Dispatch(ctx, c, message)
	}
}

// Attach registers the connection, joins its user room and counts it online
func (h *ChatWebsocketHandler) Attach(ctx context.Context, c *Client) {
	h.hub.Register(c)
	h.hub.Join(c, domain.UserRoom(c.Principal.UserID))

	pctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()
	h.presence.Connect(pctx, c.Principal.UserID)
	logger.Log.Info("websocket connected", zap.String("connID", c.ID), zap.String("userID", c.Principal.UserID),
		zap.String("deviceID", c.Principal.DeviceID))
}

// heartbeat keeps the shared presence counter alive for long lived connections
func (h *ChatWebsocketHandler) heartbeat(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()
	h.presence.Refresh(ctx, c.Principal.UserID)
}

// Detach leaves every room and tells each conversation the resulting presence
func (h *ChatWebsocketHandler) Detach(c *Client) {
	c.Close()
	rooms := h.hub.Unregister(c)

	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()
	st := h.presence.Disconnect(ctx, c.Principal.UserID)
	now := time.Now().UTC()
	for _, room := range rooms {
		convID, ok := conversationOf(room)
		if !ok {
			continue
		}
		_ = h.hub.Emit(ctx, room, domain.OutPresence, domain.PresenceEvent{
			ConversationID: convID,
			UserID:         c.Principal.UserID,
			IsOnline:       st.Online,
			LastSeen:       st.LastSeen,
			At:             now,
		}, "")
	}
	logger.Log.Info("websocket close", zap.String("connID", c.ID), zap.String("userID", c.Principal.UserID))
}

func conversationOf(room string) (string, bool) {
	const prefix = "conv:"
	if len(room) > len(prefix) && room[:len(prefix)] == prefix {
		return room[len(prefix):], true
	}
	return "", false
}

// Dispatch handles one inbound frame and always answers with an ack.
// Frames of one connection are handled in arrival order.
func (h *ChatWebsocketHandler) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var req domain.WSRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.SendJSON(errorFrame(domain.OutError, "", errprocess.Validation("malformed frame")))
		return
	}

	r, ok := h.routes[req.Event]
	if !ok {
		metrics.Events.WithLabelValues("unknown", string(errprocess.KindValidation)).Inc()
		c.SendJSON(errorFrame(string(req.Event), req.ID, errprocess.Validation("unknown event: %q", req.Event)))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	data, after, err := h.call(opCtx, c, r, req)
	cancel()

	if err != nil {
		kind := errprocess.KindOf(err)
		metrics.Events.WithLabelValues(string(req.Event), string(kind)).Inc()
		if kind == errprocess.KindInternal || kind == errprocess.KindDependencyUnavailable {
			logger.Log.Error("websocket err", zap.String("userID", c.Principal.UserID),
				zap.String("event", string(req.Event)), zap.Error(err))
		} else {
			logger.Log.Debug("websocket rejected", zap.String("userID", c.Principal.UserID),
				zap.String("event", string(req.Event)), zap.Error(err))
		}
		c.SendJSON(errorFrame(string(req.Event), req.ID, err))
		return
	}

	metrics.Events.WithLabelValues(string(req.Event), "ok").Inc()
	okTrue := true
	c.SendJSON(domain.WSResponse{Event: string(req.Event), ID: req.ID, OK: &okTrue, Data: data})
	if after != nil {
		after()
	}
}

// call runs the guards and the handler; a panic becomes an INTERNAL ack
func (h *ChatWebsocketHandler) call(ctx context.Context, c *Client, r route, req domain.WSRequest) (data interface{}, after func(), err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.Error("websocket handler panic", zap.String("event", string(req.Event)),
				zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			data, after, err = nil, nil, errPanic(rec)
		}
	}()

	var target struct {
		ConversationID string `json:"conversationId"`
	}
	if len(req.Data) == 0 || json.Unmarshal(req.Data, &target) != nil {
		return nil, nil, errprocess.Validation("data must be a JSON object")
	}
	if target.ConversationID == "" {
		return nil, nil, errprocess.Validation("conversationId is required")
	}

	if r.check != nil {
		if err := r.check(req.Data); err != nil {
			return nil, nil, err
		}
	}

	subject := c.Principal.UserID + ":" + target.ConversationID
	if err := h.limiter.Allow(ctx, subject, r.rateAction); err != nil {
		return nil, nil, err
	}
	if r.membership {
		m, err := h.policy.Membership(ctx, c.Principal, target.ConversationID)
		if err != nil {
			return nil, nil, err
		}
		if !m.Allowed() {
			return nil, nil, errprocess.Auth("not allowed in conversation %s", target.ConversationID)
		}
	}
	return r.fn(ctx, c, req.Data)
}

func errorFrame(event, id string, err error) domain.WSResponse {
	okFalse := false
	return domain.WSResponse{
		Event: event,
		ID:    id,
		OK:    &okFalse,
		Error: errprocess.PublicMessage(err),
		Code:  string(errprocess.KindOf(err)),
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errprocess.Validation("invalid payload: %v", err)
	}
	return nil
}

func (h *ChatWebsocketHandler) join(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.JoinRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	room := domain.ConversationRoom(req.ConversationID)
	h.hub.Join(c, room)
	_ = h.hub.Emit(ctx, room, domain.OutPresence, domain.PresenceEvent{
		ConversationID: req.ConversationID,
		UserID:         c.Principal.UserID,
		IsOnline:       true,
		At:             time.Now().UTC(),
	}, "")

	after := func() { h.presenceSnapshot(c, req.ConversationID) }
	return ackData{"conversationId": req.ConversationID, "joined": true}, after, nil
}

// presenceSnapshot best effort, tells the joiner who else is online
func (h *ChatWebsocketHandler) presenceSnapshot(c *Client, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	members, err := h.policy.MemberIDs(ctx, conversationID)
	if err != nil {
		logger.Log.Debug("presence snapshot members", zap.String("conversationID", conversationID), zap.Error(err))
		return
	}
	others := make([]string, 0, len(members))
	for _, u := range members {
		if u != c.Principal.UserID {
			others = append(others, u)
		}
	}
	if len(others) == 0 {
		return
	}
	now := time.Now().UTC()
	states := h.presence.Snapshot(ctx, others)
	for _, u := range others {
		st := states[u]
		c.SendJSON(domain.WSResponse{Event: domain.OutPresence, Data: domain.PresenceEvent{
			ConversationID: conversationID,
			UserID:         u,
			IsOnline:       st.Online,
			LastSeen:       st.LastSeen,
			At:             now,
		}})
	}
}

func (h *ChatWebsocketHandler) leave(_ context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.JoinRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	left := h.hub.Leave(c, domain.ConversationRoom(req.ConversationID))
	return ackData{"conversationId": req.ConversationID, "left": left}, nil, nil
}

func (h *ChatWebsocketHandler) send(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.SendRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	ack, err := h.messageUC.Send(ctx, c.Principal, req)
	return ack, nil, err
}

func (h *ChatWebsocketHandler) edit(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.EditRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	msg, err := h.messageUC.Edit(ctx, c.Principal, req)
	return msg, nil, err
}

func (h *ChatWebsocketHandler) delete(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.DeleteRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	ev, err := h.messageUC.Delete(ctx, c.Principal, req)
	return ev, nil, err
}

func (h *ChatWebsocketHandler) react(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.ReactRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	ev, err := h.reactionUC.React(ctx, c.Principal, req)
	return ev, nil, err
}

func (h *ChatWebsocketHandler) receipt(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.ReceiptRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	ev, err := h.reactionUC.Receipt(ctx, c.Principal, req)
	return ev, nil, err
}

// typing is never stored, the typer's own socket is skipped
func (h *ChatWebsocketHandler) typing(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.TypingRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	ev := domain.TypingEvent{
		ConversationID: req.ConversationID,
		UserID:         c.Principal.UserID,
		IsTyping:       req.IsTyping,
		ThreadID:       req.ThreadID,
		At:             time.Now().UTC(),
	}
	_ = h.hub.Emit(ctx, domain.ConversationRoom(req.ConversationID), domain.OutTyping, ev, c.ID)
	return ackData{"conversationId": req.ConversationID}, nil, nil
}

func (h *ChatWebsocketHandler) gapCheck(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.GapCheckRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	res, err := h.syncUC.GapCheck(ctx, c.Principal, req)
	if err != nil {
		return nil, nil, err
	}
	ack := ackData{"conversationId": res.ConversationID, "missingSeqs": res.MissingSeqs}
	if len(res.UnavailableSeqs) > 0 {
		ack["unavailableSeqs"] = res.UnavailableSeqs
	}
	if len(res.MissingSeqs) == 0 {
		return ack, nil, nil
	}
	// gap fill goes to this connection only, never to the room
	after := func() { c.SendJSON(domain.WSResponse{Event: domain.OutGapFill, Data: res}) }
	return ack, after, nil
}

func (h *ChatWebsocketHandler) gapFill(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.GapFillRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	res, err := h.syncUC.GapFill(ctx, c.Principal, req)
	return res, nil, err
}

func (h *ChatWebsocketHandler) history(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.HistoryRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	msgs, err := h.messageUC.History(ctx, c.Principal, req)
	if err != nil {
		return nil, nil, err
	}
	return ackData{"conversationId": req.ConversationID, "messages": msgs}, nil, nil
}

func (h *ChatWebsocketHandler) pin(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.PinRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	ev, err := h.messageUC.Pin(ctx, c.Principal, req)
	return ev, nil, err
}

func (h *ChatWebsocketHandler) star(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.StarRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	ev, err := h.messageUC.Star(ctx, c.Principal, req)
	return ev, nil, err
}

type callStepFunc func(ctx context.Context, p domain.Principal, req domain.CallSignalRequest) (*domain.CallSession, error)

func (h *ChatWebsocketHandler) threadCreate(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.ThreadCreateRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	t, err := h.threadUC.Create(ctx, c.Principal, req)
	return t, nil, err
}

// threadJoin the thread must belong to the conversation the membership check ran on
func (h *ChatWebsocketHandler) threadJoin(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.ThreadJoinRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	t, err := h.threadUC.Find(ctx, req.ConversationID, req.ThreadID)
	if err != nil {
		return nil, nil, err
	}
	h.hub.Join(c, domain.ThreadRoom(t.ID))
	return ackData{"conversationId": t.ConversationID, "threadId": t.ID, "joined": true}, nil, nil
}

func (h *ChatWebsocketHandler) threadLeave(_ context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.ThreadJoinRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	if req.ThreadID == "" {
		return nil, nil, errprocess.Validation("threadId is required")
	}
	left := h.hub.Leave(c, domain.ThreadRoom(req.ThreadID))
	return ackData{"conversationId": req.ConversationID, "threadId": req.ThreadID, "left": left}, nil, nil
}

func (h *ChatWebsocketHandler) report(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
	var req domain.ReportRequest
	if err := decode(data, &req); err != nil {
		return nil, nil, err
	}
	ack, err := h.threadUC.Report(ctx, c.Principal, req)
	return ack, nil, err
}

func (h *ChatWebsocketHandler) callStep(step callStepFunc) handlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) (interface{}, func(), error) {
		var req domain.CallSignalRequest
		if err := decode(data, &req); err != nil {
			return nil, nil, err
		}
		s, err := step(ctx, c.Principal, req)
		if err != nil {
			return nil, nil, err
		}
		return ackData{"callId": s.CallID, "status": s.Status, "participants": s.Participants}, nil, nil
	}
}

type ackData = map[string]interface{}
