package journal

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"voicenote-ingest-go/internal/domain/vault"
)

// DefaultSettingsFile 日记插件的配置文件位置
const DefaultSettingsFile = ".obsidian/daily-notes.json"

// DailySettings 日记所在目录与文件名格式，空字段表示使用默认值
type DailySettings struct {
	Folder string `json:"folder"`
	Format string `json:"format"`
}

// SettingsSource 提供日记配置
type SettingsSource interface {
	DailySettings(ctx context.Context) (DailySettings, error)
}

// FileSettings 从仓库内的 daily-notes.json 读取配置
type FileSettings struct {
	vault vault.Vault
	path  string
}

func NewFileSettings(v vault.Vault, p string) *FileSettings {
	if p == "" {
		p = DefaultSettingsFile
	}
	return &FileSettings{vault: v, path: vault.Clean(p)}
}

func (s *FileSettings) DailySettings(ctx context.Context) (DailySettings, error) {
	data, err := s.vault.Read(ctx, s.path)
	if err != nil {
		return DailySettings{}, err
	}
	var out DailySettings
	if err := sonic.Unmarshal(data, &out); err != nil {
		return DailySettings{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return out, nil
}

// StaticSettings 固定配置
type StaticSettings DailySettings

func (s StaticSettings) DailySettings(context.Context) (DailySettings, error) {
	return DailySettings(s), nil
}
