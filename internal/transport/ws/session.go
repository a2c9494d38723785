package ws

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voicenote-ingest-go/internal/platform/logging"
)

const (
	defaultCloseTimeout = 5 * time.Second
	writeTimeout        = 10 * time.Second
	pingInterval        = 30 * time.Second
	sendBuffer          = 32
)

// Session 一个订阅通知的客户端连接。客户端不发业务消息，读循环只用于感知断开。
type Session struct {
	id     string
	conn   *Connection
	logger *logging.Logger
	send   chan []byte

	ctx    context.Context
	cancel context.CancelCauseFunc

	closed atomic.Bool
}

// NewSession constructs a managed websocket session.
func NewSession(parent context.Context, conn *Connection, logger *logging.Logger) *Session {
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:     conn.ID(),
		conn:   conn,
		logger: logging.OrDefault(logger),
		send:   make(chan []byte, sendBuffer),
		ctx:    sessionCtx,
		cancel: cancel,
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Enqueue 非阻塞地投递一条消息，队列满时关闭会话
func (s *Session) Enqueue(payload []byte) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		s.logger.WarnTag("WebSocket", "会话 %s 发送队列已满，断开连接", s.id)
		go s.Close(ErrSlowConsumer)
		return false
	}
}

// Run 运行读写循环直到连接断开，退出时调用 onDone
func (s *Session) Run(onDone func(error)) {
	go s.writeLoop()

	var runErr error
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !s.closed.Load() {
				runErr = err
			}
			break
		}
	}

	s.Close(runErr)
	if onDone != nil {
		onDone(runErr)
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.Close(context.Cause(s.ctx))
			return
		case payload := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Close(err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close(err)
				return
			}
		}
	}
}

// Close attempts to gracefully terminate the session.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel(reason)

	if err := s.conn.Close(); err != nil {
		s.logger.DebugTag("WebSocket", "会话 %s 关闭连接失败: %v", s.id, err)
	}
}
