package ingest

import (
	"sort"
	"sync"
)

// Registry 正在处理中的资源路径集合。扫描路径与事件路径共用同一个实例。
type Registry struct {
	mu    sync.Mutex
	items map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]struct{})}
}

// TryAdd 原子地检查并插入，已存在时返回 false
func (r *Registry) TryAdd(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; ok {
		return false
	}
	r.items[key] = struct{}{}
	return true
}

func (r *Registry) Remove(key string) {
	r.mu.Lock()
	delete(r.items, key)
	r.mu.Unlock()
}

func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[key]
	return ok
}

// Snapshot 返回排序后的当前成员
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.items))
	for k := range r.items {
		out = append(out, k)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
