package transcription

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/domain/audio"
	"voicenote-ingest-go/internal/domain/notify"
	"voicenote-ingest-go/internal/domain/vault"
	"voicenote-ingest-go/internal/platform/logging"
)

// fakeProvider 记录每次调用并按顺序返回结果
type fakeProvider struct {
	mu          sync.Mutex
	constraints asr.Constraints
	calls       []asr.Audio
	failOn      int // 第 n 次调用返回错误，0 表示不失败
	silentOn    int // 第 n 次调用返回空文本
	utterances  bool
}

func (f *fakeProvider) Name() string                 { return "fake" }
func (f *fakeProvider) SupportsStreaming() bool      { return false }
func (f *fakeProvider) Constraints() asr.Constraints { return f.constraints }

func (f *fakeProvider) Transcribe(_ context.Context, chunk asr.Audio, _ asr.Options) (*asr.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chunk)
	n := len(f.calls)
	if f.failOn == n {
		return nil, asr.FromStatus(503, "busy", nil)
	}
	res := &asr.Result{Text: fmt.Sprintf("  part%d ", n), Model: "fake-1", RequestID: fmt.Sprintf("r%d", n)}
	if f.silentOn == n {
		res.Text = "  "
	}
	if f.utterances {
		res.Utterances = []asr.Utterance{{
			Text: "u", StartTimeMs: 100, EndTimeMs: 900,
			Words: []asr.Word{{Text: "w", StartTimeMs: 100, EndTimeMs: 200}},
		}}
	}
	return res, nil
}

func monoWAV(seconds, rate int) []byte {
	samples := make([]float32, seconds*rate)
	for i := range samples {
		samples[i] = 0.1
	}
	return audio.EncodeWAV(samples, rate)
}

func newOrchestrator(p asr.Provider, constrained bool, n notify.Notifier) *Orchestrator {
	logger := logging.NewDiscard()
	return New(p, audio.NewPreparer("definitely-not-ffmpeg", logger), Config{
		Notifier:    n,
		Logger:      logger,
		Constrained: constrained,
	})
}

func TestLongAudioIsChunkedSequentially(t *testing.T) {
	p := &fakeProvider{
		constraints: asr.Constraints{MaxDurationSeconds: 30, MaxFileSizeBytes: 25 << 20, AcceptedFormats: []string{"wav"}},
		utterances:  true,
	}
	rec := notify.NewRecorder()
	o := newOrchestrator(p, false, rec)

	report, err := o.Run(context.Background(), FromBytes("long.wav", monoWAV(90, 1000)), asr.Options{})
	require.NoError(t, err)

	require.Len(t, p.calls, 3)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, "part1 part2 part3", report.Result.Text)
	assert.Equal(t, "r1", report.Result.RequestID)
	assert.InDelta(t, 90, report.DurationSeconds, 1e-9)
	for _, c := range p.calls {
		assert.Equal(t, "wav", c.Format)
		info, _, err := audio.ParseWAVHeader(c.Data)
		require.NoError(t, err)
		assert.Equal(t, 30*1000*2, info.DataLen)
	}

	require.Len(t, report.Result.Utterances, 3)
	assert.Equal(t, int64(100), report.Result.Utterances[0].StartTimeMs)
	assert.Equal(t, int64(30100), report.Result.Utterances[1].StartTimeMs)
	assert.Equal(t, int64(60900), report.Result.Utterances[2].EndTimeMs)
	assert.Equal(t, int64(60200), report.Result.Utterances[2].Words[0].EndTimeMs)

	assert.Equal(t, []string{"正在转写第 1/3 段", "正在转写第 2/3 段", "正在转写第 3/3 段"}, rec.Messages(notify.LevelInfo))
}

func TestSilentChunkLeavesNoGap(t *testing.T) {
	p := &fakeProvider{
		constraints: asr.Constraints{MaxDurationSeconds: 30, AcceptedFormats: []string{"wav"}},
		silentOn:    2,
	}
	o := newOrchestrator(p, false, nil)

	report, err := o.Run(context.Background(), FromBytes("long.wav", monoWAV(90, 1000)), asr.Options{})
	require.NoError(t, err)
	require.Len(t, p.calls, 3)
	assert.Equal(t, "part1 part3", report.Result.Text, "empty chunk text adds no extra space")
}

func TestChunkLengthCappedAtThirtySeconds(t *testing.T) {
	p := &fakeProvider{constraints: asr.Constraints{MaxDurationSeconds: 20, AcceptedFormats: []string{"wav"}}}
	o := newOrchestrator(p, false, nil)

	_, err := o.Transcribe(context.Background(), FromBytes("a.wav", monoWAV(50, 1000)), asr.Options{})
	require.NoError(t, err)
	assert.Len(t, p.calls, 3, "20s chunks for a 50s recording")

	oversize := &fakeProvider{constraints: asr.Constraints{MaxFileSizeBytes: 1000, AcceptedFormats: []string{"wav"}}}
	o = newOrchestrator(oversize, false, nil)
	_, err = o.Transcribe(context.Background(), FromBytes("b.wav", monoWAV(61, 100)), asr.Options{})
	require.NoError(t, err)
	assert.Len(t, oversize.calls, 3, "no duration limit falls back to 30s chunks")
}

func TestChunkFailureAbortsRun(t *testing.T) {
	p := &fakeProvider{
		constraints: asr.Constraints{MaxDurationSeconds: 30, AcceptedFormats: []string{"wav"}},
		failOn:      2,
	}
	o := newOrchestrator(p, false, nil)

	_, err := o.Transcribe(context.Background(), FromBytes("long.wav", monoWAV(90, 1000)), asr.Options{})
	require.Error(t, err)
	assert.Equal(t, asr.KindAPI, asr.KindOf(err))
	assert.Len(t, p.calls, 2)
}

func TestShortAudioSingleCall(t *testing.T) {
	p := &fakeProvider{constraints: asr.Constraints{MaxDurationSeconds: 30, AcceptedFormats: []string{"wav"}}}
	o := newOrchestrator(p, false, nil)

	data := monoWAV(5, 1000)
	res, err := o.Transcribe(context.Background(), FromBytes("short.wav", data), asr.Options{})
	require.NoError(t, err)
	require.Len(t, p.calls, 1)
	assert.Equal(t, data, p.calls[0].Data, "accepted format is sent untouched")
	assert.Equal(t, "part1", res.Text)
	assert.InDelta(t, 5, res.DurationSeconds, 1e-9)
}

func TestUnacceptedFormatIsReencoded(t *testing.T) {
	p := &fakeProvider{constraints: asr.Constraints{MaxDurationSeconds: 30, AcceptedFormats: []string{"mp3"}}}
	o := newOrchestrator(p, false, nil)

	data := monoWAV(2, 1000)
	_, err := o.Transcribe(context.Background(), FromBytes("short.wav", data), asr.Options{})
	require.NoError(t, err)
	require.Len(t, p.calls, 1)
	assert.Equal(t, "wav", p.calls[0].Format)
	assert.Equal(t, "audio/wav", p.calls[0].MIME)
}

func TestConstrainedModeChecksSizeOnly(t *testing.T) {
	p := &fakeProvider{constraints: asr.Constraints{MaxDurationSeconds: 30, MaxFileSizeBytes: 100, AcceptedFormats: []string{"m4a"}}}
	o := newOrchestrator(p, true, nil)

	_, err := o.Transcribe(context.Background(), FromBytes("big.m4a", make([]byte, 101)), asr.Options{})
	assert.Equal(t, asr.KindFileTooLarge, asr.KindOf(err))
	assert.Empty(t, p.calls)

	// 不解码，所以无 ffmpeg 也能直接上传
	_, err = o.Transcribe(context.Background(), FromBytes("small.m4a", make([]byte, 50)), asr.Options{})
	require.NoError(t, err)
	require.Len(t, p.calls, 1)
	assert.Equal(t, "m4a", p.calls[0].Format)
}

func TestDecodeFailuresAreClassified(t *testing.T) {
	p := &fakeProvider{constraints: asr.Constraints{MaxDurationSeconds: 30}}
	o := newOrchestrator(p, false, nil)

	_, err := o.Transcribe(context.Background(), FromBytes("memo.m4a", []byte("not audio")), asr.Options{})
	assert.Equal(t, asr.KindUnsupportedFormat, asr.KindOf(err))

	_, err = o.Transcribe(context.Background(), FromBytes("broken.wav", []byte("RIFF....WAVE")), asr.Options{})
	assert.Equal(t, asr.KindUnsupportedFormat, asr.KindOf(err))

	_, err = o.Transcribe(context.Background(), Input{}, asr.Options{})
	assert.Error(t, err)
	assert.Empty(t, p.calls)
}

func TestFromVaultCarriesTimestamps(t *testing.T) {
	m := vault.NewMemory()
	created := time.Date(2026, 1, 23, 20, 30, 38, 0, time.Local)
	m.SetClock(func() time.Time { return created })
	require.NoError(t, m.Write(context.Background(), "Recordings/memo.wav", monoWAV(1, 1000)))

	in, err := FromVault(context.Background(), m, "/Recordings/memo.wav")
	require.NoError(t, err)
	assert.Equal(t, "wav", in.Asset.Ext)
	assert.Equal(t, "Recordings/memo.wav", in.Asset.Path)
	assert.Equal(t, created, in.Asset.CreateTime)

	_, err = FromVault(context.Background(), m, "missing.wav")
	assert.ErrorIs(t, err, vault.ErrNotExist)
}
