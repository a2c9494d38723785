package vault

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var (
	ErrNotExist    = errors.New("vault: file does not exist")
	ErrExist       = errors.New("vault: file already exists")
	ErrInvalidPath = errors.New("vault: invalid path")
)

// FileInfo 仓库内文件的元数据。CreateTime 为零值表示未知。
type FileInfo struct {
	Path       string
	Size       int64
	ModTime    time.Time
	CreateTime time.Time
}

// Name 返回不含目录的文件名
func (f FileInfo) Name() string {
	return path.Base(f.Path)
}

// Ext 返回小写且不带点的扩展名
func (f FileInfo) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(f.Path), "."))
}

// Vault 同步笔记仓库。路径一律为相对根目录的斜杠路径。
type Vault interface {
	Stat(ctx context.Context, p string) (FileInfo, error)
	Exists(ctx context.Context, p string) (bool, error)
	Read(ctx context.Context, p string) ([]byte, error)
	// Write 创建或覆盖文件，自动创建父目录
	Write(ctx context.Context, p string, data []byte) error
	// Create 仅在文件不存在时创建，否则返回 ErrExist
	Create(ctx context.Context, p string, data []byte) error
	// List 递归列出 dir 下的所有文件，dir 为空表示根目录
	List(ctx context.Context, dir string) ([]FileInfo, error)
}

// Clean 规范化路径：去掉前导斜杠，根目录返回空串。".." 无法越过根目录。
func Clean(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "." {
		return ""
	}
	return p
}

// Join 拼接并规范化路径
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// InDir 判断 p 是否位于 dir（含子目录）下，dir 为空表示根目录
func InDir(p, dir string) bool {
	if dir == "" {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}
