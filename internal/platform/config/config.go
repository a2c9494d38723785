package config

import (
	"time"
)

// Config is the immutable settings snapshot handed to every component. A
// reload produces a new value; nothing mutates a snapshot in place.
type Config struct {
	Log     LogConfig     `yaml:"log" toml:"log"`
	Vault   VaultConfig   `yaml:"vault" toml:"vault"`
	Audio   AudioConfig   `yaml:"audio" toml:"audio"`
	ASR     ASRConfig     `yaml:"asr" toml:"asr"`
	Ingest  IngestConfig  `yaml:"ingest" toml:"ingest"`
	Journal JournalConfig `yaml:"journal" toml:"journal"`
	Polish  PolishConfig  `yaml:"polish" toml:"polish"`
	History HistoryConfig `yaml:"history" toml:"history"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	System  SystemConfig  `yaml:"system" toml:"system"`
	Batch   BatchConfig   `yaml:"batch" toml:"batch"`
}

type LogConfig struct {
	Level string `yaml:"log_level" toml:"log_level"`
	Dir   string `yaml:"log_dir" toml:"log_dir"`
	File  string `yaml:"log_file" toml:"log_file"`
}

// VaultConfig points at the synchronized notes tree.
type VaultConfig struct {
	Root       string   `yaml:"root" toml:"root"`
	IgnoreDirs []string `yaml:"ignore_dirs" toml:"ignore_dirs"`
}

type AudioConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path" toml:"ffmpeg_path"`
}

type ASRConfig struct {
	Provider    string        `yaml:"provider" toml:"provider"`
	RetryCount  int           `yaml:"retry_count" toml:"retry_count"`
	BackoffBase time.Duration `yaml:"backoff_base" toml:"backoff_base"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
	Language    string        `yaml:"language" toml:"language"`
	Prompt      string        `yaml:"prompt" toml:"prompt"`
	Hotwords    []string      `yaml:"hotwords" toml:"hotwords"`

	Zhipu   ZhipuConfig   `yaml:"zhipu" toml:"zhipu"`
	Doubao  DoubaoConfig  `yaml:"doubao" toml:"doubao"`
	Whisper WhisperConfig `yaml:"whisper" toml:"whisper"`
}

type ZhipuConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Model   string `yaml:"model" toml:"model"`
}

type DoubaoConfig struct {
	AppID        string        `yaml:"app_id" toml:"app_id"`
	AccessToken  string        `yaml:"access_token" toml:"access_token"`
	ResourceID   string        `yaml:"resource_id" toml:"resource_id"`
	BaseURL      string        `yaml:"base_url" toml:"base_url"`
	UID          string        `yaml:"uid" toml:"uid"`
	ModelName    string        `yaml:"model_name" toml:"model_name"`
	EnableITN    bool          `yaml:"enable_itn" toml:"enable_itn"`
	EnablePunc   bool          `yaml:"enable_punc" toml:"enable_punc"`
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts" toml:"poll_attempts"`
}

type WhisperConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	Model   string `yaml:"model" toml:"model"`
}

// IngestConfig drives the audio watcher.
type IngestConfig struct {
	Enabled      bool          `yaml:"enabled" toml:"enabled"`
	AudioFolder  string        `yaml:"audio_folder" toml:"audio_folder"`
	OutputFolder string        `yaml:"output_folder" toml:"output_folder"`
	Extensions   []string      `yaml:"extensions" toml:"extensions"`
	StartupDelay time.Duration `yaml:"startup_delay" toml:"startup_delay"`
	SettleDelay  time.Duration `yaml:"settle_delay" toml:"settle_delay"`
	RecheckDelay time.Duration `yaml:"recheck_delay" toml:"recheck_delay"`
	Concurrency  int           `yaml:"concurrency" toml:"concurrency"`
	Polish       bool          `yaml:"polish" toml:"polish"`
}

// JournalConfig drives the backlink reconciler. Folder and DateFormat act as
// fallbacks when no daily-journal settings source is available.
type JournalConfig struct {
	Enabled          bool          `yaml:"enabled" toml:"enabled"`
	TranscriptFolder string        `yaml:"transcript_folder" toml:"transcript_folder"`
	Folder           string        `yaml:"folder" toml:"folder"`
	DateFormat       string        `yaml:"date_format" toml:"date_format"`
	SettingsFile     string        `yaml:"settings_file" toml:"settings_file"`
	SectionHeader    string        `yaml:"section_header" toml:"section_header"`
	StartupDelay     time.Duration `yaml:"startup_delay" toml:"startup_delay"`
	SettleDelay      time.Duration `yaml:"settle_delay" toml:"settle_delay"`
}

type PolishConfig struct {
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	APIKey  string        `yaml:"api_key" toml:"api_key"`
	Model   string        `yaml:"model" toml:"model"`
	Prompt  string        `yaml:"prompt" toml:"prompt"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

type HistoryConfig struct {
	Driver string             `yaml:"driver" toml:"driver"`
	Limit  int                `yaml:"limit" toml:"limit"`
	SQLite HistorySQLiteStore `yaml:"sqlite" toml:"sqlite"`
	Redis  HistoryRedisStore  `yaml:"redis" toml:"redis"`
}

type HistorySQLiteStore struct {
	Path string `yaml:"path" toml:"path"`
}

type HistoryRedisStore struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

type ServerConfig struct {
	Enabled     bool     `yaml:"enabled" toml:"enabled"`
	Addr        string   `yaml:"addr" toml:"addr"`
	TokenSecret string   `yaml:"token_secret" toml:"token_secret"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// SystemConfig selects constrained mode: "auto", "on" or "off".
type SystemConfig struct {
	Constrained string `yaml:"constrained" toml:"constrained"`
	MinMemoryMB int    `yaml:"min_memory_mb" toml:"min_memory_mb"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency" toml:"concurrency"`
}

// JournalTranscriptFolder returns the folder the reconciler watches, which
// follows the ingest output folder unless set explicitly.
func (c *Config) JournalTranscriptFolder() string {
	if c.Journal.TranscriptFolder != "" {
		return c.Journal.TranscriptFolder
	}
	return c.Ingest.OutputFolder
}
