package eventbus

import (
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

// Bus 进程内事件总线，watcher 与通知通道共用
type Bus struct {
	bus evbus.Bus

	mu     sync.Mutex
	closed bool
}

// Subscription 订阅句柄，Close 后不再收到事件
type Subscription struct {
	bus   *Bus
	topic string
	fn    any
	once  sync.Once
}

// New 创建新的事件总线
func New() *Bus {
	return &Bus{bus: evbus.New()}
}

// Publish 发布事件；异步订阅者在各自的 goroutine 中执行
func (b *Bus) Publish(topic string, args ...any) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	b.bus.Publish(topic, args...)
}

// Subscribe 同步订阅，回调在 Publish 的调用方 goroutine 中执行
func (b *Bus) Subscribe(topic string, fn any) (*Subscription, error) {
	if err := b.bus.Subscribe(topic, fn); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &Subscription{bus: b, topic: topic, fn: fn}, nil
}

// SubscribeAsync 异步订阅，回调之间互不阻塞
func (b *Bus) SubscribeAsync(topic string, fn any) (*Subscription, error) {
	if err := b.bus.SubscribeAsync(topic, fn, false); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &Subscription{bus: b, topic: topic, fn: fn}, nil
}

// HasCallback 检查是否有订阅者
func (b *Bus) HasCallback(topic string) bool {
	return b.bus.HasCallback(topic)
}

// WaitAsync 等待所有异步回调完成
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}

// Close 停止接收新事件并等待异步回调结束
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.bus.WaitAsync()
}

// Topic 返回订阅的主题
func (s *Subscription) Topic() string {
	return s.topic
}

// Close 取消订阅，可重复调用
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.bus.bus.Unsubscribe(s.topic, s.fn)
	})
	return err
}
