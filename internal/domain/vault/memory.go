package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memFile struct {
	data       []byte
	modTime    time.Time
	createTime time.Time
}

// Memory 内存仓库，用于测试与一次性命令
type Memory struct {
	mu    sync.RWMutex
	files map[string]*memFile
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]*memFile), now: time.Now}
}

// SetClock 替换时间来源
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetTimes 修改文件的时间戳，零值表示未知
func (m *Memory) SetTimes(p string, modTime, createTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[Clean(p)]
	if !ok {
		return ErrNotExist
	}
	f.modTime = modTime
	f.createTime = createTime
	return nil
}

// Remove 删除文件，模拟同步过程中文件消失
func (m *Memory) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, Clean(p))
}

func (m *Memory) info(p string, f *memFile) FileInfo {
	return FileInfo{Path: p, Size: int64(len(f.data)), ModTime: f.modTime, CreateTime: f.createTime}
}

func (m *Memory) Stat(ctx context.Context, p string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := Clean(p)
	f, ok := m.files[key]
	if !ok {
		return FileInfo{}, fmt.Errorf("%s: %w", key, ErrNotExist)
	}
	return m.info(key, f), nil
}

func (m *Memory) Exists(ctx context.Context, p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[Clean(p)]
	return ok, nil
}

func (m *Memory) Read(ctx context.Context, p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := Clean(p)
	f, ok := m.files[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotExist)
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

func (m *Memory) Write(ctx context.Context, p string, data []byte) error {
	key := Clean(p)
	if key == "" {
		return fmt.Errorf("write: empty path: %w", ErrNotExist)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	buf := append([]byte(nil), data...)
	if f, ok := m.files[key]; ok {
		f.data = buf
		f.modTime = now
		return nil
	}
	m.files[key] = &memFile{data: buf, modTime: now, createTime: now}
	return nil
}

func (m *Memory) Create(ctx context.Context, p string, data []byte) error {
	key := Clean(p)
	if key == "" {
		return fmt.Errorf("create: empty path: %w", ErrNotExist)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[key]; ok {
		return fmt.Errorf("%s: %w", key, ErrExist)
	}
	now := m.now()
	m.files[key] = &memFile{data: append([]byte(nil), data...), modTime: now, createTime: now}
	return nil
}

func (m *Memory) List(ctx context.Context, dir string) ([]FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dir = Clean(dir)
	var out []FileInfo
	for key, f := range m.files {
		if InDir(key, dir) {
			out = append(out, m.info(key, f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
