package vault

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"voicenote-ingest-go/internal/domain/eventbus"
	"voicenote-ingest-go/internal/platform/logging"
)

// Source 监听仓库目录树，将新文件发布为 vault:file-created 事件
type Source struct {
	vault  *FS
	bus    *eventbus.Bus
	logger *logging.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	running bool
}

func NewSource(v *FS, bus *eventbus.Bus, logger *logging.Logger) *Source {
	return &Source{vault: v, bus: bus, logger: logging.OrDefault(logger)}
}

// Run 监听直到 ctx 结束
func (s *Source) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("vault source is already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	s.watcher = fw
	s.running = true
	s.mu.Unlock()

	defer s.Close()

	if err := s.addTree(s.vault.Root(), false); err != nil {
		return err
	}
	s.logger.InfoTag("监听", "开始监听仓库目录: %s", s.vault.Root())

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			s.handleCreate(event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			s.logger.WarnTag("监听", "文件监听错误: %v", err)
		}
	}
}

func (s *Source) handleCreate(abs string) {
	info, err := os.Stat(abs)
	if err != nil {
		// 同步过程中文件可能已被移走
		return
	}
	if info.IsDir() {
		if s.vault.Ignored(info.Name()) {
			return
		}
		// 目录中已有的文件不会再产生事件，这里补发
		if err := s.addTree(abs, true); err != nil {
			s.logger.WarnTag("监听", "添加目录监听失败 %s: %v", abs, err)
		}
		return
	}
	s.publish(abs)
}

// addTree 递归添加目录监听，emit 为 true 时为树中已有的文件发布事件
func (s *Source) addTree(root string, emit bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && s.vault.Ignored(d.Name()) {
				return filepath.SkipDir
			}
			s.mu.Lock()
			w := s.watcher
			s.mu.Unlock()
			if w == nil {
				return filepath.SkipAll
			}
			if err := w.Add(p); err != nil {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			return nil
		}
		if emit {
			s.publish(p)
		}
		return nil
	})
}

func (s *Source) publish(abs string) {
	rel, err := s.vault.Rel(abs)
	if err != nil || rel == "" {
		return
	}
	if strings.HasPrefix(filepath.Base(rel), ".voicenote-") {
		return
	}
	s.logger.DebugTag("监听", "检测到新文件: %s", rel)
	s.bus.Publish(eventbus.TopicFileCreated, eventbus.FileEvent{Path: rel, Time: time.Now()})
}

// Close 停止监听，可重复调用
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

// IsRunning 检查是否正在运行
func (s *Source) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
