package ingest

import (
	"path"
	"strings"
	"time"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/domain/audio"
	"voicenote-ingest-go/internal/domain/polish"
	"voicenote-ingest-go/internal/domain/transcription"
	"voicenote-ingest-go/internal/domain/vault"
	"voicenote-ingest-go/internal/platform/config"
	"voicenote-ingest-go/internal/util/work"
)

const (
	DefaultStartupDelay = 30 * time.Second
	DefaultSettleDelay  = 3 * time.Second
	DefaultRecheckDelay = 5 * time.Second
	DefaultConcurrency  = 3
)

// Runtime 一次配置加载对应的不可变运行时快照。配置变更时整体替换，不原地修改。
type Runtime struct {
	Config       *config.Config
	Orchestrator *transcription.Orchestrator
	// Polisher 为 nil 表示不润色
	Polisher    polish.Polisher
	Constrained bool
}

// Options 由配置生成的转写参数
func (rt *Runtime) Options() asr.Options {
	if rt == nil || rt.Config == nil {
		return asr.Options{}
	}
	return asr.Options{
		Language: rt.Config.ASR.Language,
		Prompt:   rt.Config.ASR.Prompt,
		Hotwords: rt.Config.ASR.Hotwords,
	}
}

// settings 监听器从快照中读取的参数，已归一化
type settings struct {
	enabled      bool
	folder       string
	outputFolder string
	extensions   map[string]struct{}
	startupDelay time.Duration
	settleDelay  time.Duration
	recheckDelay time.Duration
	concurrency  int
	batch        int
	polish       bool
}

func settingsOf(rt *Runtime) settings {
	s := settings{
		startupDelay: DefaultStartupDelay,
		settleDelay:  DefaultSettleDelay,
		recheckDelay: DefaultRecheckDelay,
		concurrency:  DefaultConcurrency,
		batch:        work.DefaultConcurrency,
		extensions:   make(map[string]struct{}),
	}
	if rt == nil || rt.Config == nil {
		return s
	}

	cfg := rt.Config.Ingest
	s.enabled = cfg.Enabled && rt.Orchestrator != nil
	s.folder = NormalizeFolder(cfg.AudioFolder)
	s.outputFolder = NormalizeFolder(cfg.OutputFolder)
	s.polish = cfg.Polish && rt.Polisher != nil
	for _, ext := range cfg.Extensions {
		if e := audio.NormalizeExt(ext); e != "" {
			s.extensions[e] = struct{}{}
		}
	}
	// 负值视为 0（测试里用于关闭等待），未配置则用默认值
	if cfg.StartupDelay != 0 {
		s.startupDelay = max(cfg.StartupDelay, 0)
	}
	if cfg.SettleDelay != 0 {
		s.settleDelay = max(cfg.SettleDelay, 0)
	}
	if cfg.RecheckDelay != 0 {
		s.recheckDelay = max(cfg.RecheckDelay, 0)
	}
	if cfg.Concurrency > 0 {
		s.concurrency = cfg.Concurrency
	}
	if rt.Config.Batch.Concurrency > 0 {
		s.batch = rt.Config.Batch.Concurrency
	}
	return s
}

func (s settings) isAudio(p string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	_, ok := s.extensions[ext]
	return ok
}

// watches 判断路径是否为监听目录下的音频文件
func (s settings) watches(p string) bool {
	return s.isAudio(p) && vault.InDir(p, s.folder)
}
