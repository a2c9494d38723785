package eventbus

import "time"

// 事件主题
const (
	// TopicFileCreated 仓库中出现新文件，参数为 FileEvent
	TopicFileCreated = "vault:file-created"
	// TopicNotice 用户可见的通知，参数为 notify.Notice
	TopicNotice = "notice"
	// TopicConfigReloaded 配置热加载完成，无参数
	TopicConfigReloaded = "config:reloaded"
)

// FileEvent 文件事件数据，Path 为相对仓库根目录的斜杠路径
type FileEvent struct {
	Path string
	Time time.Time
}
