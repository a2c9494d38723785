package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FS 基于本地目录的仓库实现。普通文件系统无法可靠获取创建时间，CreateTime 始终为零值。
type FS struct {
	root   string
	ignore map[string]bool
}

// NewFS 创建本地仓库，ignoreDirs 为列举时跳过的目录名（如 .obsidian）
func NewFS(root string, ignoreDirs ...string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", abs)
	}
	ignore := make(map[string]bool, len(ignoreDirs))
	for _, d := range ignoreDirs {
		ignore[d] = true
	}
	return &FS{root: abs, ignore: ignore}, nil
}

// Root 返回仓库根目录的绝对路径
func (v *FS) Root() string {
	return v.root
}

func (v *FS) abs(p string) string {
	return filepath.Join(v.root, filepath.FromSlash(Clean(p)))
}

// Rel 将绝对路径转换为仓库相对路径
func (v *FS) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the vault", abs)
	}
	return Clean(rel), nil
}

// Ignored 判断目录名是否在忽略列表中
func (v *FS) Ignored(name string) bool {
	return v.ignore[name]
}

func (v *FS) Stat(ctx context.Context, p string) (FileInfo, error) {
	info, err := os.Stat(v.abs(p))
	if err != nil {
		return FileInfo{}, translate(err)
	}
	if info.IsDir() {
		return FileInfo{}, fmt.Errorf("%s is a directory: %w", p, ErrNotExist)
	}
	return FileInfo{Path: Clean(p), Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (v *FS) Exists(ctx context.Context, p string) (bool, error) {
	_, err := v.Stat(ctx, p)
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (v *FS) Read(ctx context.Context, p string) ([]byte, error) {
	data, err := os.ReadFile(v.abs(p))
	if err != nil {
		return nil, translate(err)
	}
	return data, nil
}

func (v *FS) Write(ctx context.Context, p string, data []byte) error {
	if Clean(p) == "" {
		return fmt.Errorf("write: empty path: %w", ErrNotExist)
	}
	target := v.abs(p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	// 先写临时文件再重命名，避免同步客户端读到半个文件
	tmp, err := os.CreateTemp(filepath.Dir(target), ".voicenote-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (v *FS) Create(ctx context.Context, p string, data []byte) error {
	if Clean(p) == "" {
		return fmt.Errorf("create: empty path: %w", ErrNotExist)
	}
	target := v.abs(p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return translate(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (v *FS) List(ctx context.Context, dir string) ([]FileInfo, error) {
	start := v.abs(dir)
	var out []FileInfo
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != start && v.ignore[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := v.Rel(p)
		if err != nil {
			return nil
		}
		out = append(out, FileInfo{Path: rel, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%v: %w", err, ErrNotExist)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%v: %w", err, ErrExist)
	default:
		return err
	}
}
