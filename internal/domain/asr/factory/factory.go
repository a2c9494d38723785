package factory

import (
	"sort"
	"strings"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/domain/asr/providers/doubao"
	"voicenote-ingest-go/internal/domain/asr/providers/whisper"
	"voicenote-ingest-go/internal/domain/asr/providers/zhipu"
	"voicenote-ingest-go/internal/platform/config"
	platformerrors "voicenote-ingest-go/internal/platform/errors"
	"voicenote-ingest-go/internal/platform/logging"
)

type constructor func(cfg config.ASRConfig, retry asr.RetryPolicy, logger *logging.Logger) (asr.Provider, error)

var builtin = map[string]constructor{
	zhipu.Name: func(cfg config.ASRConfig, retry asr.RetryPolicy, logger *logging.Logger) (asr.Provider, error) {
		return zhipu.New(zhipu.Config{
			APIKey:   cfg.Zhipu.APIKey,
			BaseURL:  cfg.Zhipu.BaseURL,
			Model:    cfg.Zhipu.Model,
			Timeout:  cfg.Timeout,
			Retry:    retry,
			Prompt:   cfg.Prompt,
			Hotwords: cfg.Hotwords,
		}, logger)
	},
	doubao.Name: func(cfg config.ASRConfig, retry asr.RetryPolicy, logger *logging.Logger) (asr.Provider, error) {
		d := cfg.Doubao
		return doubao.New(doubao.Config{
			AppID:        d.AppID,
			AccessToken:  d.AccessToken,
			ResourceID:   d.ResourceID,
			BaseURL:      d.BaseURL,
			UID:          d.UID,
			ModelName:    d.ModelName,
			EnableITN:    d.EnableITN,
			EnablePunc:   d.EnablePunc,
			PollInterval: d.PollInterval,
			PollAttempts: d.PollAttempts,
			Timeout:      cfg.Timeout,
			Retry:        retry,
			Hotwords:     cfg.Hotwords,
		}, logger)
	},
	whisper.Name: func(cfg config.ASRConfig, retry asr.RetryPolicy, logger *logging.Logger) (asr.Provider, error) {
		return whisper.New(whisper.Config{
			BaseURL:  cfg.Whisper.BaseURL,
			APIKey:   cfg.Whisper.APIKey,
			Model:    cfg.Whisper.Model,
			Language: cfg.Language,
			Prompt:   cfg.Prompt,
			Timeout:  cfg.Timeout,
			Retry:    retry,
		}, logger)
	},
}

// New 根据配置选择转写提供者
func New(cfg config.ASRConfig, logger *logging.Logger) (asr.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	build, ok := builtin[name]
	if !ok {
		return nil, platformerrors.Newf(platformerrors.KindConfig, "asr.factory",
			"unknown asr provider %q (available: %s)", cfg.Provider, strings.Join(Names(), ", "))
	}

	retry := asr.RetryPolicy{Retries: cfg.RetryCount, Base: cfg.BackoffBase}
	provider, err := build(cfg, retry, logger)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindConfig, "asr.factory", "failed to create "+name+" provider", err)
	}
	return provider, nil
}

// Names 返回所有内置提供者名称
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
