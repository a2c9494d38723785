package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicenote-ingest-go/internal/platform/logging"
	"voicenote-ingest-go/internal/platform/observability"
)

// Router is responsible for upgrading HTTP connections to notice sessions.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	baseCtx          context.Context
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
	// BaseContext 会话的父 context，结束时所有会话随之结束
	BaseContext context.Context
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	upgrader.HandshakeTimeout = timeout

	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}

	return &Router{
		hub:              hub,
		logger:           logging.OrDefault(logger),
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		baseCtx:          base,
	}
}

// Handle upgrades the HTTP connection and launches a new notice session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	spanCtx, spanEnd := observability.StartSpan(req.Context(), "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1, nil)
		r.logger.ErrorTag("WebSocket", "握手失败: %v", err)
		return
	}

	clientID := req.URL.Query().Get("client-id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	r.logger.InfoTag("WebSocket", "建立连接 client=%s", clientID)

	session := NewSession(r.baseCtx, NewConnection(clientID, conn), r.logger)
	r.hub.Register(session)
	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1, nil)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.WarnTag("WebSocket", "会话 %s 异常结束: %v", session.ID(), runErr)
		}
		observability.RecordMetric(session.Context(), "websocket.connection.closed", 1, nil)
	})
}
