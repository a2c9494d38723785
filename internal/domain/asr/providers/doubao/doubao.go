package doubao

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/platform/logging"
)

const (
	Name              = "doubao"
	DefaultBaseURL    = "https://openspeech.bytedance.com/api/v3/auc/bigmodel"
	DefaultResourceID = "volc.bigasr.auc"
	DefaultModelName  = "bigmodel"

	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 60

	maxDurationSeconds = 4 * 60 * 60
	maxFileSizeBytes   = 512 * 1024 * 1024
)

// 状态码，位于响应头 X-Api-Status-Code
const (
	codeSuccess         = "20000000"
	codeProcessing      = "20000001"
	codeQueued          = "20000002"
	codeSubmitTransient = "55000031"
)

const (
	headerAppKey     = "X-Api-App-Key"
	headerAccessKey  = "X-Api-Access-Key"
	headerResourceID = "X-Api-Resource-Id"
	headerRequestID  = "X-Api-Request-Id"
	headerSequence   = "X-Api-Sequence"
	headerStatusCode = "X-Api-Status-Code"
	headerMessage    = "X-Api-Message"
	headerLogID      = "X-Tt-Logid"
)

// Config 豆包录音文件识别配置
type Config struct {
	AppID        string
	AccessToken  string
	ResourceID   string
	BaseURL      string
	UID          string
	ModelName    string
	EnableITN    bool
	EnablePunc   bool
	PollInterval time.Duration
	PollAttempts int
	Timeout      time.Duration
	Retry        asr.RetryPolicy
	Hotwords     []string
}

// Provider 提交任务后轮询查询结果
type Provider struct {
	cfg    Config
	client *http.Client
	logger *logging.Logger
	newID  func() string
}

type submitRequest struct {
	User    userInfo    `json:"user"`
	Audio   audioInfo   `json:"audio"`
	Request requestInfo `json:"request"`
}

type userInfo struct {
	UID string `json:"uid"`
}

type audioInfo struct {
	Format string `json:"format"`
	Data   string `json:"data"`
}

type requestInfo struct {
	ModelName      string      `json:"model_name"`
	EnableITN      bool        `json:"enable_itn"`
	EnablePunc     bool        `json:"enable_punc"`
	ShowUtterances bool        `json:"show_utterances"`
	Corpus         *corpusInfo `json:"corpus,omitempty"`
}

type corpusInfo struct {
	Context string `json:"context,omitempty"`
}

type queryResponse struct {
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
	Result struct {
		Text       string           `json:"text"`
		Utterances []queryUtterance `json:"utterances"`
	} `json:"result"`
}

type queryUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Additions struct {
		Speaker string `json:"speaker"`
	} `json:"additions"`
	Words []struct {
		Text      string `json:"text"`
		StartTime int64  `json:"start_time"`
		EndTime   int64  `json:"end_time"`
	} `json:"words"`
}

// New 创建豆包提供者
func New(cfg Config, logger *logging.Logger) (*Provider, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("doubao: app_id is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("doubao: access_token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ResourceID == "" {
		cfg.ResourceID = DefaultResourceID
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModelName
	}
	if cfg.UID == "" {
		cfg.UID = "voicenote"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrDefault(logger),
		newID:  func() string { return uuid.New().String() },
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) SupportsStreaming() bool { return false }

func (p *Provider) Constraints() asr.Constraints {
	return asr.Constraints{
		MaxDurationSeconds: maxDurationSeconds,
		MaxFileSizeBytes:   maxFileSizeBytes,
		AcceptedFormats:    []string{"wav", "mp3", "ogg"},
	}
}

// Transcribe 提交音频并等待识别完成
func (p *Provider) Transcribe(ctx context.Context, chunk asr.Audio, opts asr.Options) (*asr.Result, error) {
	if int64(len(chunk.Data)) > maxFileSizeBytes {
		return nil, asr.NewError(asr.KindFileTooLarge,
			fmt.Sprintf("audio is %d bytes, limit is %d", len(chunk.Data), maxFileSizeBytes), nil)
	}

	requestID := p.newID()
	err := p.cfg.Retry.Do(ctx, p.logger, Name, func(int) error {
		return p.submit(ctx, requestID, chunk, opts)
	})
	if err != nil {
		return nil, err
	}
	p.logger.InfoTag("ASR", "豆包任务已提交: %s", requestID)

	return p.poll(ctx, requestID, opts)
}

func (p *Provider) submit(ctx context.Context, requestID string, chunk asr.Audio, opts asr.Options) error {
	format := chunk.Format
	if format == "" {
		format = "wav"
	}
	model := opts.Model
	if model == "" {
		model = p.cfg.ModelName
	}
	payload := submitRequest{
		User:  userInfo{UID: p.cfg.UID},
		Audio: audioInfo{Format: format, Data: base64.StdEncoding.EncodeToString(chunk.Data)},
		Request: requestInfo{
			ModelName:      model,
			EnableITN:      p.cfg.EnableITN,
			EnablePunc:     p.cfg.EnablePunc,
			ShowUtterances: true,
		},
	}
	if hotwords := p.hotwords(opts); hotwords != "" {
		payload.Request.Corpus = &corpusInfo{Context: hotwords}
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return asr.NewError(asr.KindUnknown, "failed to encode submit request", err)
	}

	resp, _, err := p.post(ctx, "/submit", requestID, body)
	if err != nil {
		return err
	}

	code := resp.Header.Get(headerStatusCode)
	switch code {
	case codeSuccess:
		return nil
	case codeSubmitTransient:
		return p.apiError(resp, code).Retriable()
	default:
		return p.apiError(resp, code)
	}
}

func (p *Provider) poll(ctx context.Context, requestID string, opts asr.Options) (*asr.Result, error) {
	sleep := p.cfg.Retry.Sleep
	if sleep == nil {
		sleep = asr.Sleep
	}

	for attempt := 0; attempt < p.cfg.PollAttempts; attempt++ {
		if err := sleep(ctx, p.cfg.PollInterval); err != nil {
			return nil, asr.FromTransport(err)
		}

		resp, raw, err := p.post(ctx, "/query", requestID, []byte("{}"))
		if err != nil {
			if asr.IsRetriable(err) {
				p.logger.WarnTag("ASR", "豆包查询失败，继续轮询: %v", err)
				continue
			}
			return nil, err
		}

		code := resp.Header.Get(headerStatusCode)
		switch code {
		case codeSuccess:
			return p.decodeResult(raw, requestID, opts)
		case codeProcessing, codeQueued:
			p.logger.DebugTag("ASR", "豆包任务处理中 %s (%d/%d)", requestID, attempt+1, p.cfg.PollAttempts)
			continue
		default:
			return nil, p.apiError(resp, code)
		}
	}

	return nil, asr.NewError(asr.KindNetwork,
		fmt.Sprintf("transcription %s not finished after %d polls", requestID, p.cfg.PollAttempts), nil)
}

// post 发送请求；非 2xx 的 HTTP 状态直接分类为错误
func (p *Provider) post(ctx context.Context, path, requestID string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, asr.NewError(asr.KindUnknown, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAppKey, p.cfg.AppID)
	req.Header.Set(headerAccessKey, p.cfg.AccessToken)
	req.Header.Set(headerResourceID, p.cfg.ResourceID)
	req.Header.Set(headerRequestID, requestID)
	req.Header.Set(headerSequence, "-1")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, asr.FromTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, asr.FromTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, asr.FromStatus(resp.StatusCode, resp.Header.Get(headerMessage), string(raw))
	}
	return resp, raw, nil
}

func (p *Provider) apiError(resp *http.Response, code string) *asr.Error {
	message := resp.Header.Get(headerMessage)
	if message == "" {
		message = "unexpected status code"
	}
	return &asr.Error{
		Kind:       asr.KindAPI,
		Message:    fmt.Sprintf("%s (code %s)", message, code),
		StatusCode: resp.StatusCode,
		Details:    map[string]string{"code": code, "logid": resp.Header.Get(headerLogID)},
	}
}

func (p *Provider) decodeResult(raw []byte, requestID string, opts asr.Options) (*asr.Result, error) {
	var out queryResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, asr.NewError(asr.KindAPI, "malformed query response", err)
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.ModelName
	}
	result := &asr.Result{
		Text:            strings.TrimSpace(out.Result.Text),
		RequestID:       requestID,
		Model:           model,
		DurationSeconds: float64(out.AudioInfo.Duration) / 1000,
	}
	for _, u := range out.Result.Utterances {
		utt := asr.Utterance{
			Text:        u.Text,
			StartTimeMs: u.StartTime,
			EndTimeMs:   u.EndTime,
			SpeakerID:   u.Additions.Speaker,
		}
		for _, w := range u.Words {
			utt.Words = append(utt.Words, asr.Word{Text: w.Text, StartTimeMs: w.StartTime, EndTimeMs: w.EndTime})
		}
		result.Utterances = append(result.Utterances, utt)
	}
	return result, nil
}

// hotwords 以 corpus.context 的 JSON 形式传递热词
func (p *Provider) hotwords(opts asr.Options) string {
	words := opts.Hotwords
	if len(words) == 0 {
		words = p.cfg.Hotwords
	}
	if len(words) == 0 {
		return ""
	}
	type hotword struct {
		Word string `json:"word"`
	}
	list := make([]hotword, 0, len(words))
	for _, w := range words {
		list = append(list, hotword{Word: w})
	}
	encoded, err := sonic.MarshalString(map[string]any{"hotwords": list})
	if err != nil {
		return ""
	}
	return encoded
}
