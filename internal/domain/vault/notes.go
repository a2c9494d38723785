package vault

import (
	"context"
	"fmt"
)

// NoteHandle 新建笔记的引用
type NoteHandle struct {
	Path string
}

// NoteCreator 创建笔记，目标已存在时返回 ErrExist
type NoteCreator interface {
	CreateNote(ctx context.Context, p string, content string) (NoteHandle, error)
}

// NoteWriter 基于 Vault.Create 的笔记创建器
type NoteWriter struct {
	vault Vault
}

func NewNoteWriter(v Vault) *NoteWriter {
	return &NoteWriter{vault: v}
}

func (w *NoteWriter) CreateNote(ctx context.Context, p string, content string) (NoteHandle, error) {
	key := Clean(p)
	if err := w.vault.Create(ctx, key, []byte(content)); err != nil {
		return NoteHandle{}, fmt.Errorf("create note %s: %w", key, err)
	}
	return NoteHandle{Path: key}, nil
}
