package notify

import (
	"sync"
	"time"

	"voicenote-ingest-go/internal/domain/eventbus"
	"voicenote-ingest-go/internal/platform/logging"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice 面向用户的一条通知，Transient 表示短暂提示
type Notice struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Transient bool      `json:"transient"`
	Time      time.Time `json:"time"`
}

// Notifier 通知输出端
type Notifier interface {
	Notify(n Notice)
}

// Info 构造普通通知
func Info(msg string) Notice { return Notice{Level: LevelInfo, Message: msg, Transient: true} }

// Success 构造成功通知
func Success(msg string) Notice { return Notice{Level: LevelSuccess, Message: msg} }

// Error 构造错误通知
func Error(msg string) Notice { return Notice{Level: LevelError, Message: msg} }

func stamp(n Notice) Notice {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	return n
}

// Log 将通知写入日志
type Log struct {
	logger *logging.Logger
}

func NewLog(logger *logging.Logger) *Log {
	return &Log{logger: logging.OrDefault(logger)}
}

func (l *Log) Notify(n Notice) {
	switch n.Level {
	case LevelError:
		l.logger.ErrorTag("通知", "%s", n.Message)
	default:
		l.logger.InfoTag("通知", "%s", n.Message)
	}
}

// Bus 将通知发布到事件总线，由 WebSocket 等订阅者转发
type Bus struct {
	bus *eventbus.Bus
}

func NewBus(bus *eventbus.Bus) *Bus {
	return &Bus{bus: bus}
}

func (b *Bus) Notify(n Notice) {
	b.bus.Publish(eventbus.TopicNotice, stamp(n))
}

// Multi 依次转发给多个 Notifier
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	n = stamp(n)
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// Discard 丢弃所有通知
type Discard struct{}

func (Discard) Notify(Notice) {}

// Recorder 记录收到的通知，供测试使用
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, stamp(n))
}

// Notices 返回已记录通知的副本
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Messages 返回指定级别的通知文本，level 为空时返回全部
func (r *Recorder) Messages(level Level) []string {
	var out []string
	for _, n := range r.Notices() {
		if level == "" || n.Level == level {
			out = append(out, n.Message)
		}
	}
	return out
}
