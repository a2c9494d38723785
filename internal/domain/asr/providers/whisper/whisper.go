package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/platform/logging"
)

const (
	Name           = "whisper"
	DefaultBaseURL = "http://127.0.0.1:8000"
	DefaultModel   = "whisper-1"

	maxDurationSeconds = 600
	maxFileSizeBytes   = 500 * 1024 * 1024
)

// Config 自建 Whisper 服务配置，接口与 OpenAI 兼容
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Prompt   string
	Timeout  time.Duration
	Retry    asr.RetryPolicy
}

// Provider 通过 go-openai 调用 /v1/audio/transcriptions
type Provider struct {
	cfg    Config
	client *openai.Client
	logger *logging.Logger
}

// New 创建 Whisper 提供者
func New(cfg Config, logger *logging.Logger) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL + "/v1"
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Provider{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logging.OrDefault(logger),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) SupportsStreaming() bool { return false }

func (p *Provider) Constraints() asr.Constraints {
	return asr.Constraints{
		MaxDurationSeconds: maxDurationSeconds,
		MaxFileSizeBytes:   maxFileSizeBytes,
		AcceptedFormats:    []string{"wav", "mp3", "m4a", "ogg", "webm", "flac"},
	}
}

// Transcribe 发送单个分片
func (p *Provider) Transcribe(ctx context.Context, chunk asr.Audio, opts asr.Options) (*asr.Result, error) {
	if int64(len(chunk.Data)) > maxFileSizeBytes {
		return nil, asr.NewError(asr.KindFileTooLarge,
			fmt.Sprintf("audio is %d bytes, limit is %d", len(chunk.Data), maxFileSizeBytes), nil)
	}

	format := chunk.Format
	if format == "" {
		format = "wav"
	}
	req := openai.AudioRequest{
		Model:    firstNonEmpty(opts.Model, p.cfg.Model),
		FilePath: "audio." + format,
		Prompt:   firstNonEmpty(opts.Prompt, p.cfg.Prompt),
		Language: firstNonEmpty(opts.Language, p.cfg.Language),
		Format:   openai.AudioResponseFormatJSON,
	}

	var resp openai.AudioResponse
	err := p.cfg.Retry.Do(ctx, p.logger, Name, func(int) error {
		// 每次重试都需要新的 Reader
		req.Reader = bytes.NewReader(chunk.Data)
		var err error
		resp, err = p.client.CreateTranscription(ctx, req)
		if err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &asr.Result{
		Text:            strings.TrimSpace(resp.Text),
		Model:           req.Model,
		DurationSeconds: resp.Duration,
	}
	for _, seg := range resp.Segments {
		result.Utterances = append(result.Utterances, asr.Utterance{
			Text:        strings.TrimSpace(seg.Text),
			StartTimeMs: int64(seg.Start * 1000),
			EndTimeMs:   int64(seg.End * 1000),
		})
	}
	return result, nil
}

// classify 将 go-openai 的错误映射到统一分类
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return asr.FromStatus(apiErr.HTTPStatusCode, apiErr.Message, apiErr.Code)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := asr.FromStatus(reqErr.HTTPStatusCode, "", nil)
		e.Cause = reqErr.Err
		return e
	}
	return asr.FromTransport(err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
