package ws

import (
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"voicenote-ingest-go/internal/domain/eventbus"
	"voicenote-ingest-go/internal/domain/notify"
	"voicenote-ingest-go/internal/platform/logging"
)

// Hub tracks the active websocket sessions and fans notices out to them.
type Hub struct {
	logger   *logging.Logger
	sessions sync.Map // map[string]*Session

	mu  sync.Mutex
	sub *eventbus.Subscription
}

// NewHub builds a fresh session hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{logger: logging.OrDefault(logger)}
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// CloseAll terminates all active sessions.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
}

// Count exposes the number of active websocket connections.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}

// Broadcast 发送给所有会话，返回成功入队的数量
func (h *Hub) Broadcast(payload []byte) int {
	sent := 0
	h.sessions.Range(func(_, value any) bool {
		if session, ok := value.(*Session); ok && session.Enqueue(payload) {
			sent++
		}
		return true
	})
	return sent
}

// Attach 订阅 notice 主题，把通知以 JSON 推送给客户端
func (h *Hub) Attach(bus *eventbus.Bus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sub != nil {
		return nil
	}
	sub, err := bus.SubscribeAsync(eventbus.TopicNotice, h.onNotice)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventbus.TopicNotice, err)
	}
	h.sub = sub
	return nil
}

// Detach 取消订阅
func (h *Hub) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sub == nil {
		return
	}
	_ = h.sub.Close()
	h.sub = nil
}

func (h *Hub) onNotice(n notify.Notice) {
	payload, err := sonic.Marshal(n)
	if err != nil {
		h.logger.WarnTag("WebSocket", "序列化通知失败: %v", err)
		return
	}
	h.Broadcast(payload)
}
