package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives every successfully reloaded snapshot.
type ReloadFunc func(*Config)

// ErrorFunc receives reload failures; the previous snapshot stays in effect.
type ErrorFunc func(error)

// Watcher 监听配置文件变化并重新加载
type Watcher struct {
	loader   *Loader
	path     string
	fileName string
	debounce time.Duration
	onReload ReloadFunc
	onError  ErrorFunc

	watcher *fsnotify.Watcher
	timer   *time.Timer
	running bool
	mutex   sync.Mutex
}

// NewWatcher watches the file the loader resolved.
func NewWatcher(loader *Loader, onReload ReloadFunc, onError ErrorFunc) (*Watcher, error) {
	if loader == nil || onReload == nil {
		return nil, fmt.Errorf("loader and reload callback are required")
	}
	path := loader.Path()
	if path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{
		loader:   loader.WithDotEnv(false),
		path:     path,
		fileName: filepath.Base(path),
		debounce: 200 * time.Millisecond,
		onReload: onReload,
		onError:  onError,
	}, nil
}

// Run 监听直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) error {
	w.mutex.Lock()
	if w.running {
		w.mutex.Unlock()
		return fmt.Errorf("config watcher is already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mutex.Unlock()
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// 监听目录而不是文件本身，编辑器常以重命名方式保存
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		w.mutex.Unlock()
		return fmt.Errorf("failed to add directory to watcher: %w", err)
	}
	w.watcher = fw
	w.running = true
	w.mutex.Unlock()

	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != w.fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mutex.Lock()
	running := w.running
	w.mutex.Unlock()
	if !running {
		return
	}

	res, err := w.loader.Load()
	if err != nil {
		w.onError(err)
		return
	}
	w.onReload(res.Config)
}

func (w *Watcher) stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if !w.running {
		return
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
}

// IsRunning 检查是否正在运行
func (w *Watcher) IsRunning() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.running
}
