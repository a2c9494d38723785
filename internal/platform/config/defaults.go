package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "voicenote.log",
		},
		Vault: VaultConfig{
			Root:       ".",
			IgnoreDirs: []string{".obsidian", ".trash", ".git"},
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
		},
		ASR: ASRConfig{
			Provider:    "zhipu",
			RetryCount:  3,
			BackoffBase: time.Second,
			Timeout:     2 * time.Minute,
			Zhipu: ZhipuConfig{
				BaseURL: "https://open.bigmodel.cn/api/paas/v4",
				Model:   "glm-asr",
			},
			Doubao: DoubaoConfig{
				BaseURL:      "https://openspeech.bytedance.com/api/v3/auc/bigmodel",
				ResourceID:   "volc.bigasr.auc",
				UID:          "voicenote",
				ModelName:    "bigmodel",
				EnableITN:    true,
				EnablePunc:   true,
				PollInterval: 2 * time.Second,
				PollAttempts: 60,
			},
			Whisper: WhisperConfig{
				BaseURL: "http://127.0.0.1:8000",
				Model:   "whisper-1",
			},
		},
		Ingest: IngestConfig{
			Enabled:      true,
			AudioFolder:  "/",
			OutputFolder: "Transcriptions",
			Extensions:   []string{"m4a", "mp3", "wav", "webm", "ogg", "flac", "aac", "opus"},
			StartupDelay: 30 * time.Second,
			SettleDelay:  3 * time.Second,
			RecheckDelay: 5 * time.Second,
			Concurrency:  3,
		},
		Journal: JournalConfig{
			Enabled:       false,
			DateFormat:    "YYYY-MM-DD",
			SettingsFile:  ".obsidian/daily-notes.json",
			SectionHeader: "## Transcriptions",
			StartupDelay:  30 * time.Second,
			SettleDelay:   3 * time.Second,
		},
		Polish: PolishConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: time.Minute,
		},
		History: HistoryConfig{
			Driver: "memory",
			Limit:  500,
			SQLite: HistorySQLiteStore{Path: "data/history.db"},
			Redis:  HistoryRedisStore{Prefix: "voicenote:history"},
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8090",
		},
		System: SystemConfig{
			Constrained: "auto",
			MinMemoryMB: 2048,
		},
		Batch: BatchConfig{
			Concurrency: 20,
		},
	}
}
