package transcription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/domain/audio"
	"voicenote-ingest-go/internal/domain/notify"
	"voicenote-ingest-go/internal/domain/vault"
	"voicenote-ingest-go/internal/platform/logging"
	"voicenote-ingest-go/internal/platform/observability"
)

// MaxChunkSeconds 分片时单段的最长时长
const MaxChunkSeconds = 30

// Input 待转写的音频
type Input struct {
	Asset audio.Asset
}

// FromBytes 由原始字节构造输入，name 用于推断格式
func FromBytes(name string, data []byte) Input {
	return Input{Asset: audio.NewAsset(name, data)}
}

// FromVault 读取仓库中的音频文件，并带上文件时间戳
func FromVault(ctx context.Context, v vault.Vault, p string) (Input, error) {
	info, err := v.Stat(ctx, p)
	if err != nil {
		return Input{}, err
	}
	data, err := v.Read(ctx, p)
	if err != nil {
		return Input{}, err
	}
	asset := audio.NewAsset(info.Path, data)
	asset.ModTime = info.ModTime
	asset.CreateTime = info.CreateTime
	return Input{Asset: asset}, nil
}

// Report 一次转写的完整结果
type Report struct {
	Result          *asr.Result
	Provider        string
	Chunks          int
	DurationSeconds float64
}

// Config 编排器依赖
type Config struct {
	Notifier notify.Notifier
	Logger   *logging.Logger
	// Constrained 为 true 时不解码音频，只检查文件大小
	Constrained bool
}

// Orchestrator 根据提供者的限制决定整段上传还是分片上传
type Orchestrator struct {
	provider    asr.Provider
	preparer    *audio.Preparer
	notifier    notify.Notifier
	logger      *logging.Logger
	constrained bool
}

func New(provider asr.Provider, preparer *audio.Preparer, cfg Config) *Orchestrator {
	n := cfg.Notifier
	if n == nil {
		n = notify.Discard{}
	}
	logger := logging.OrDefault(cfg.Logger)
	if preparer == nil {
		preparer = audio.NewPreparer("", logger)
	}
	return &Orchestrator{
		provider:    provider,
		preparer:    preparer,
		notifier:    n,
		logger:      logger,
		constrained: cfg.Constrained,
	}
}

// Provider 返回当前使用的提供者
func (o *Orchestrator) Provider() asr.Provider {
	return o.provider
}

// Transcribe 转写一段音频，返回合并后的结果
func (o *Orchestrator) Transcribe(ctx context.Context, in Input, opts asr.Options) (*asr.Result, error) {
	report, err := o.Run(ctx, in, opts)
	if err != nil {
		return nil, err
	}
	return report.Result, nil
}

// Run 与 Transcribe 相同，额外返回分片数等信息
func (o *Orchestrator) Run(ctx context.Context, in Input, opts asr.Options) (*Report, error) {
	asset := in.Asset
	if len(asset.Data) == 0 {
		return nil, asr.NewError(asr.KindUnknown, "audio is empty", audio.ErrEmptyAudio)
	}

	limits := o.provider.Constraints()
	size := asset.Size()
	overSize := limits.MaxFileSizeBytes > 0 && size > limits.MaxFileSizeBytes

	if o.constrained {
		if overSize {
			return nil, asr.NewError(asr.KindFileTooLarge,
				fmt.Sprintf("%s is %.1f MB, %s accepts at most %.1f MB",
					displayName(asset), mb(size), o.provider.Name(), mb(limits.MaxFileSizeBytes)), nil)
		}
		res, err := o.call(ctx, asr.Audio{Data: asset.Data, Format: asset.Ext, MIME: asset.MIME}, opts)
		if err != nil {
			return nil, err
		}
		res.Text = strings.TrimSpace(res.Text)
		return &Report{Result: res, Provider: o.provider.Name(), Chunks: 1, DurationSeconds: res.DurationSeconds}, nil
	}

	buf, err := o.preparer.Decode(ctx, asset)
	if err != nil {
		return nil, classifyDecode(asset, err)
	}
	duration := buf.Duration()
	overDuration := limits.MaxDurationSeconds > 0 && duration > limits.MaxDurationSeconds

	if overDuration || overSize {
		return o.runChunked(ctx, buf, limits, duration, opts)
	}

	chunk := asr.Audio{Data: asset.Data, Format: asset.Ext, MIME: asset.MIME}
	if !limits.Accepts(asset.Ext) {
		o.logger.DebugTag("转写", "%s 不接受 %s 格式，转换为 WAV", o.provider.Name(), asset.Ext)
		chunk = asr.Audio{Data: audio.EncodeWAV(audio.Downmix(buf), buf.SampleRate), Format: "wav", MIME: "audio/wav"}
	}
	res, err := o.call(ctx, chunk, opts)
	if err != nil {
		return nil, err
	}
	res.Text = strings.TrimSpace(res.Text)
	if res.DurationSeconds == 0 {
		res.DurationSeconds = duration
	}
	return &Report{Result: res, Provider: o.provider.Name(), Chunks: 1, DurationSeconds: duration}, nil
}

func (o *Orchestrator) runChunked(ctx context.Context, buf *audio.Buffer, limits asr.Constraints, duration float64, opts asr.Options) (*Report, error) {
	chunkSeconds := float64(MaxChunkSeconds)
	if limits.MaxDurationSeconds > 0 {
		chunkSeconds = math.Min(limits.MaxDurationSeconds, MaxChunkSeconds)
	}
	chunks := audio.Split(buf, chunkSeconds)
	total := len(chunks)
	o.logger.InfoTag("转写", "音频时长 %.1f 秒，分为 %d 段转写", duration, total)
	observability.RecordMetric(ctx, "transcription.chunks", float64(total), map[string]string{"provider": o.provider.Name()})

	merged := &asr.Result{DurationSeconds: duration}
	texts := make([]string, 0, total)
	for i, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, asr.FromTransport(err)
		}
		o.notifier.Notify(notify.Info(fmt.Sprintf("正在转写第 %d/%d 段", i+1, total)))

		res, err := o.call(ctx, asr.Audio{Data: ch.Data, Format: "wav", MIME: "audio/wav"}, opts)
		if err != nil {
			o.logger.ErrorTag("转写", "第 %d/%d 段转写失败: %v", i+1, total, err)
			return nil, err
		}
		if text := strings.TrimSpace(res.Text); text != "" {
			texts = append(texts, text)
		}
		offset := int64(math.Round(ch.StartSeconds * 1000))
		for _, u := range res.Utterances {
			merged.Utterances = append(merged.Utterances, shift(u, offset))
		}
		if merged.RequestID == "" {
			merged.RequestID = res.RequestID
		}
		merged.Model = res.Model
	}
	merged.Text = strings.Join(texts, " ")

	return &Report{Result: merged, Provider: o.provider.Name(), Chunks: total, DurationSeconds: duration}, nil
}

func (o *Orchestrator) call(ctx context.Context, chunk asr.Audio, opts asr.Options) (*asr.Result, error) {
	ctx, end := observability.StartSpan(ctx, "asr", o.provider.Name())
	res, err := o.provider.Transcribe(ctx, chunk, opts)
	end(err)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &asr.Result{}
	}
	return res, nil
}

func shift(u asr.Utterance, offsetMs int64) asr.Utterance {
	u.StartTimeMs += offsetMs
	u.EndTimeMs += offsetMs
	if len(u.Words) > 0 {
		words := make([]asr.Word, len(u.Words))
		for i, w := range u.Words {
			w.StartTimeMs += offsetMs
			w.EndTimeMs += offsetMs
			words[i] = w
		}
		u.Words = words
	}
	return u
}

func classifyDecode(asset audio.Asset, err error) error {
	var typed *asr.Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return asr.NewError(asr.KindUnsupportedFormat,
			fmt.Sprintf("cannot decode %s audio", asset.Ext), err)
	case errors.Is(err, audio.ErrDecode), errors.Is(err, audio.ErrEmptyAudio):
		return asr.NewError(asr.KindUnsupportedFormat,
			fmt.Sprintf("failed to decode %s", displayName(asset)), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return asr.FromTransport(err)
	default:
		return asr.NewError(asr.KindUnknown, "failed to prepare audio", err)
	}
}

func displayName(a audio.Asset) string {
	if a.Path != "" {
		return a.Path
	}
	return "audio." + a.Ext
}

func mb(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
