package zhipu

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/platform/logging"
)

const (
	Name           = "zhipu"
	DefaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	DefaultModel   = "glm-asr"

	maxDurationSeconds = 30
	maxFileSizeBytes   = 25 * 1024 * 1024
)

// Config GLM-ASR 配置
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	Retry    asr.RetryPolicy
	Prompt   string
	Hotwords []string
}

// Provider 同步 multipart 转写，单次请求即返回结果
type Provider struct {
	cfg    Config
	client *http.Client
	logger *logging.Logger
}

type transcriptionResponse struct {
	Text      string `json:"text"`
	RequestID string `json:"request_id"`
	Model     string `json:"model"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// New 创建 GLM-ASR 提供者
func New(cfg Config, logger *logging.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("zhipu: api_key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrDefault(logger),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) SupportsStreaming() bool { return false }

func (p *Provider) Constraints() asr.Constraints {
	return asr.Constraints{
		MaxDurationSeconds: maxDurationSeconds,
		MaxFileSizeBytes:   maxFileSizeBytes,
		AcceptedFormats:    []string{"wav", "mp3"},
	}
}

// Transcribe 上传单个音频分片
func (p *Provider) Transcribe(ctx context.Context, chunk asr.Audio, opts asr.Options) (*asr.Result, error) {
	if int64(len(chunk.Data)) > maxFileSizeBytes {
		return nil, asr.NewError(asr.KindFileTooLarge,
			fmt.Sprintf("audio is %d bytes, limit is %d", len(chunk.Data), maxFileSizeBytes), nil)
	}

	var result *asr.Result
	err := p.cfg.Retry.Do(ctx, p.logger, Name, func(int) error {
		var err error
		result, err = p.do(ctx, chunk, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Provider) do(ctx context.Context, chunk asr.Audio, opts asr.Options) (*asr.Result, error) {
	body, contentType, err := p.buildForm(chunk, opts)
	if err != nil {
		return nil, asr.NewError(asr.KindUnknown, "failed to build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, asr.NewError(asr.KindUnknown, "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, asr.FromTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, asr.FromTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		message := ""
		if sonic.Unmarshal(raw, &apiErr) == nil {
			message = apiErr.Error.Message
		}
		return nil, asr.FromStatus(resp.StatusCode, message, string(raw))
	}

	var out transcriptionResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, asr.NewError(asr.KindAPI, "malformed transcription response", err)
	}

	p.logger.DebugTag("ASR", "GLM-ASR 返回 request_id=%s, 文本长度=%d", out.RequestID, len(out.Text))
	return &asr.Result{
		Text:      strings.TrimSpace(out.Text),
		RequestID: out.RequestID,
		Model:     out.Model,
	}, nil
}

func (p *Provider) buildForm(chunk asr.Audio, opts asr.Options) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	format := chunk.Format
	if format == "" {
		format = "wav"
	}
	fw, err := mw.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(chunk.Data); err != nil {
		return nil, "", err
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}
	if err := mw.WriteField("model", model); err != nil {
		return nil, "", err
	}

	prompt := opts.Prompt
	if prompt == "" {
		prompt = p.cfg.Prompt
	}
	if prompt != "" {
		if err := mw.WriteField("prompt", prompt); err != nil {
			return nil, "", err
		}
	}

	hotwords := opts.Hotwords
	if len(hotwords) == 0 {
		hotwords = p.cfg.Hotwords
	}
	if len(hotwords) > 0 {
		encoded, err := sonic.MarshalString(hotwords)
		if err != nil {
			return nil, "", err
		}
		if err := mw.WriteField("hotwords", encoded); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}
