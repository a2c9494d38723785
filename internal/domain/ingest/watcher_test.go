package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/domain/audio"
	"voicenote-ingest-go/internal/domain/eventbus"
	"voicenote-ingest-go/internal/domain/history"
	"voicenote-ingest-go/internal/domain/notify"
	"voicenote-ingest-go/internal/domain/polish"
	"voicenote-ingest-go/internal/domain/transcription"
	"voicenote-ingest-go/internal/domain/vault"
	"voicenote-ingest-go/internal/platform/config"
	"voicenote-ingest-go/internal/platform/logging"
)

type countingProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *countingProvider) Name() string            { return "fake" }
func (p *countingProvider) SupportsStreaming() bool { return false }
func (p *countingProvider) Constraints() asr.Constraints {
	return asr.Constraints{MaxDurationSeconds: 30, MaxFileSizeBytes: 25 << 20, AcceptedFormats: []string{"wav"}}
}

func (p *countingProvider) Transcribe(context.Context, asr.Audio, asr.Options) (*asr.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &asr.Result{Text: " 今天开会 ", RequestID: fmt.Sprintf("req-%d", p.calls)}, nil
}

func (p *countingProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingSleep 不真正等待，只记录时长并可在等待期间触发钩子
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(d time.Duration)
}

func (s *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

func (s *recordingSleep) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type fixture struct {
	vault    *vault.Memory
	provider *countingProvider
	sleep    *recordingSleep
	notices  *notify.Recorder
	history  history.Store
	bus      *eventbus.Bus
	watcher  *Watcher
	cfg      *config.Config
	now      time.Time
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Ingest.AudioFolder = "/Recordings"
	cfg.Ingest.OutputFolder = "Transcriptions"
	cfg.Ingest.Extensions = []string{"wav", "m4a"}
	return cfg
}

func newFixture(t *testing.T, polisher polish.Polisher) *fixture {
	t.Helper()
	f := &fixture{
		vault:    vault.NewMemory(),
		provider: &countingProvider{},
		sleep:    &recordingSleep{},
		notices:  notify.NewRecorder(),
		history:  history.NewMemory(history.Config{}),
		bus:      eventbus.New(),
		cfg:      testConfig(),
		now:      time.Date(2026, 1, 23, 22, 0, 0, 0, time.Local),
	}
	t.Cleanup(f.bus.Close)

	f.watcher = NewWatcher(Deps{
		Vault:    f.vault,
		Bus:      f.bus,
		Notifier: f.notices,
		History:  f.history,
		Logger:   logging.NewDiscard(),
		Sleep:    f.sleep.Sleep,
		Now:      func() time.Time { return f.now },
	}, f.runtime(f.cfg, polisher))
	return f
}

func (f *fixture) runtime(cfg *config.Config, polisher polish.Polisher) *Runtime {
	logger := logging.NewDiscard()
	return &Runtime{
		Config:       cfg,
		Orchestrator: transcription.New(f.provider, audio.NewPreparer("", logger), transcription.Config{Logger: logger}),
		Polisher:     polisher,
	}
}

func (f *fixture) addAudio(t *testing.T, p string) vault.FileInfo {
	t.Helper()
	samples := make([]float32, 8000)
	require.NoError(t, f.vault.Write(context.Background(), p, audio.EncodeWAV(samples, 8000)))
	info, err := f.vault.Stat(context.Background(), p)
	require.NoError(t, err)
	return info
}

func (f *fixture) noteExists(t *testing.T, p string) bool {
	t.Helper()
	ok, err := f.vault.Exists(context.Background(), p)
	require.NoError(t, err)
	return ok
}

func TestExistingNoteIsNotReprocessed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	info := f.addAudio(t, "Recordings/20260123-203038.m4a")
	require.NoError(t, f.vault.Write(ctx, "Transcriptions/Transcription-20260123-203038.md", []byte("done")))

	_, ok, err := f.watcher.IsUnprocessedAudio(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)

	f.watcher.HandleCreated(ctx, info.Path)
	assert.Zero(t, f.provider.Calls())
}

func TestNoteSyncedDuringRecheckIsTreatedAsProcessed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	info := f.addAudio(t, "Recordings/20260123-203038.wav")

	f.sleep.hook = func(d time.Duration) {
		if d == DefaultRecheckDelay {
			// 另一台设备的笔记在复查等待期间同步到达
			_ = f.vault.Write(ctx, "Transcriptions/Transcription-20260123-203038.md", []byte("remote"))
		}
	}

	_, ok, err := f.watcher.IsUnprocessedAudio(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []time.Duration{DefaultRecheckDelay}, f.sleep.Delays())
	assert.Zero(t, f.provider.Calls())
}

func TestHandleCreatedTranscribesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	info := f.addAudio(t, "Recordings/20260123-203038.wav")

	f.watcher.HandleCreated(ctx, info.Path)
	f.watcher.HandleCreated(ctx, info.Path)

	assert.Equal(t, 1, f.provider.Calls())
	note, err := f.vault.Read(ctx, "Transcriptions/Transcription-20260123-203038.md")
	require.NoError(t, err)
	assert.Contains(t, string(note), "![[Recordings/20260123-203038.wav]]")
	assert.Contains(t, string(note), "今天开会")
	assert.Equal(t, []time.Duration{DefaultSettleDelay, DefaultRecheckDelay, DefaultSettleDelay}, f.sleep.Delays())
	assert.Empty(t, f.watcher.Registry().Snapshot())

	recent, err := f.history.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, history.StatusSuccess, recent[0].Status)
	assert.Equal(t, "fake", recent[0].Provider)
	assert.Len(t, f.notices.Messages(notify.LevelSuccess), 1)
}

func TestHandleCreatedFilters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addAudio(t, "Elsewhere/20260123-203038.wav")
	require.NoError(t, f.vault.Write(ctx, "Recordings/readme.md", []byte("x")))

	f.watcher.HandleCreated(ctx, "Elsewhere/20260123-203038.wav")
	f.watcher.HandleCreated(ctx, "Recordings/readme.md")
	f.watcher.HandleCreated(ctx, "Recordings/missing.wav")

	assert.Zero(t, f.provider.Calls())
	// 只有最后一个通过了过滤，在等待后发现文件不存在
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, f.sleep.Delays())
}

func TestTimestampIsDerivedOnceForCheckAndNote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	info := f.addAudio(t, "Recordings/memo.wav")
	require.NoError(t, f.vault.SetTimes(info.Path, time.Time{}, time.Time{}))
	info, err := f.vault.Stat(ctx, info.Path)
	require.NoError(t, err)

	pending, ok, err := f.watcher.IsUnprocessedAudio(ctx, info)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20260123-220000", pending.Stamp)

	// 时钟前进后笔记名仍沿用检查时的时间戳
	f.now = f.now.Add(time.Hour)
	out, err := f.watcher.Process(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Status)
	assert.Equal(t, "Transcriptions/Transcription-20260123-220000.md", out.NotePath)
	assert.True(t, f.noteExists(t, out.NotePath))
}

func TestProcessSkipsInFlightAsset(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	info := f.addAudio(t, "Recordings/20260123-203038.wav")

	require.True(t, f.watcher.Registry().TryAdd(info.Path))
	_, ok, err := f.watcher.IsUnprocessedAudio(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)

	out, err := f.watcher.Process(ctx, Pending{File: info, Stamp: "20260123-203038", NotePath: NotePath("Transcriptions", "20260123-203038")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out.Status)
	assert.Zero(t, f.provider.Calls())
}

func TestProviderFailureIsRecorded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.provider.err = asr.NewError(asr.KindAuth, "bad key", nil)
	info := f.addAudio(t, "Recordings/20260123-203038.wav")

	pending, ok, err := f.watcher.IsUnprocessedAudio(ctx, info)
	require.NoError(t, err)
	require.True(t, ok)

	out, err := f.watcher.Process(ctx, pending)
	require.Error(t, err)
	assert.Equal(t, asr.KindAuth, asr.KindOf(err))
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.False(t, f.noteExists(t, pending.NotePath))
	assert.Empty(t, f.watcher.Registry().Snapshot())
	assert.Len(t, f.notices.Messages(notify.LevelError), 1)

	recent, err := f.history.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, history.StatusFailed, recent[0].Status)
	assert.Equal(t, "auth", recent[0].Metadata["kind"])
}

func TestPolishFailureStillCreatesNote(t *testing.T) {
	failing := polish.Func(func(context.Context, string) (string, error) {
		return "", errors.New("llm unavailable")
	})
	f := newFixture(t, failing)
	f.cfg.Ingest.Polish = true
	ctx := context.Background()
	info := f.addAudio(t, "Recordings/20260123-203038.wav")

	pending, ok, err := f.watcher.IsUnprocessedAudio(ctx, info)
	require.NoError(t, err)
	require.True(t, ok)

	out, err := f.watcher.Process(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Status)
	assert.Equal(t, "今天开会", out.Text)

	var sawPolishNotice bool
	for _, msg := range f.notices.Messages(notify.LevelInfo) {
		if strings.Contains(msg, "llm unavailable") {
			sawPolishNotice = true
		}
	}
	assert.True(t, sawPolishNotice)
}

func TestPolishedNoteKeepsRawTranscript(t *testing.T) {
	upper := polish.Func(func(_ context.Context, text string) (string, error) {
		return "【润色】" + text, nil
	})
	f := newFixture(t, upper)
	f.cfg.Ingest.Polish = true
	ctx := context.Background()
	info := f.addAudio(t, "Recordings/20260123-203038.wav")

	pending, ok, err := f.watcher.IsUnprocessedAudio(ctx, info)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.watcher.Process(ctx, pending)
	require.NoError(t, err)

	note, err := f.vault.Read(ctx, pending.NotePath)
	require.NoError(t, err)
	assert.Contains(t, string(note), "【润色】今天开会")
	assert.Contains(t, string(note), "> 今天开会")
}

func TestScan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addAudio(t, "Recordings/20260123-080000.wav")
	f.addAudio(t, "Recordings/sub/20260101-080000.m4a.wav")
	f.addAudio(t, "Recordings/20260122-080000.wav")
	f.addAudio(t, "Other/20260123-090000.wav")
	require.NoError(t, f.vault.Write(ctx, "Transcriptions/Transcription-20260122-080000.md", []byte("done")))

	outcomes, err := f.watcher.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	created, failed := tally(outcomes)
	assert.Equal(t, 2, created)
	assert.Zero(t, failed)
	assert.Equal(t, 2, f.provider.Calls())
	assert.True(t, f.noteExists(t, "Transcriptions/Transcription-20260123-080000.md"))
	assert.True(t, f.noteExists(t, "Transcriptions/Transcription-20260101-080000.md"))

	assert.Equal(t, 3, f.watcher.Status().Total)
}

func TestScanConstrainedKeepsToday(t *testing.T) {
	f := newFixture(t, nil)
	rt := f.runtime(f.cfg, nil)
	rt.Constrained = true
	require.NoError(t, f.watcher.Apply(context.Background(), rt))
	defer f.watcher.Stop()

	f.addAudio(t, "Recordings/20260123-080000.wav")
	f.addAudio(t, "Recordings/20260122-080000.wav")

	outcomes, err := f.watcher.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "Recordings/20260123-080000.wav", outcomes[0].AudioPath)
}

func TestReconcileWaitsForStartupDelay(t *testing.T) {
	f := newFixture(t, nil)
	f.addAudio(t, "Recordings/20260123-080000.wav")

	require.NoError(t, f.watcher.Reconcile(context.Background()))
	delays := f.sleep.Delays()
	require.NotEmpty(t, delays)
	assert.Equal(t, DefaultStartupDelay, delays[0])
	assert.Equal(t, 1, f.provider.Calls())
}

func TestStartStopAndEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.watcher.Start(ctx))
	require.NoError(t, f.watcher.Start(ctx))
	assert.True(t, f.watcher.IsRunning())

	f.addAudio(t, "Recordings/20260123-203038.wav")
	f.bus.Publish(eventbus.TopicFileCreated, eventbus.FileEvent{Path: "Recordings/20260123-203038.wav", Time: f.now})
	f.bus.WaitAsync()
	assert.True(t, f.noteExists(t, "Transcriptions/Transcription-20260123-203038.md"))

	f.watcher.Stop()
	f.watcher.Stop()
	assert.False(t, f.watcher.IsRunning())

	f.addAudio(t, "Recordings/20260123-210000.wav")
	f.bus.Publish(eventbus.TopicFileCreated, eventbus.FileEvent{Path: "Recordings/20260123-210000.wav"})
	f.bus.WaitAsync()
	assert.False(t, f.noteExists(t, "Transcriptions/Transcription-20260123-210000.md"))
	assert.Equal(t, 1, f.provider.Calls())
}

func TestApplyTogglesSubscription(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.watcher.Apply(ctx, f.runtime(f.cfg, nil)))
	assert.True(t, f.watcher.IsRunning())

	disabled := testConfig()
	disabled.Ingest.Enabled = false
	require.NoError(t, f.watcher.Apply(ctx, f.runtime(disabled, nil)))
	assert.False(t, f.watcher.IsRunning())
	assert.False(t, f.watcher.Status().Enabled)

	// 关闭后已在等待中的事件自行跳过
	f.addAudio(t, "Recordings/20260123-203038.wav")
	f.watcher.HandleCreated(ctx, "Recordings/20260123-203038.wav")
	assert.Zero(t, f.provider.Calls())
}

func TestSettlingEventSkipsWhenDisabledMeanwhile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addAudio(t, "Recordings/20260123-203038.wav")

	disabled := testConfig()
	disabled.Ingest.Enabled = false
	f.sleep.hook = func(d time.Duration) {
		if d == DefaultSettleDelay {
			_ = f.watcher.Apply(ctx, f.runtime(disabled, nil))
		}
	}

	f.watcher.HandleCreated(ctx, "Recordings/20260123-203038.wav")
	assert.Zero(t, f.provider.Calls())
}

func TestTranscribeFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addAudio(t, "Recordings/20260123-080000.wav")
	f.addAudio(t, "Recordings/20260122-080000.wav")
	require.NoError(t, f.vault.Write(ctx, "Transcriptions/Transcription-20260122-080000.md", []byte("done")))
	require.NoError(t, f.vault.Write(ctx, "Recordings/notes.txt", []byte("x")))

	outcomes, err := f.watcher.TranscribeFiles(ctx, []string{
		"/Recordings/20260123-080000.wav",
		"Recordings/20260122-080000.wav",
		"Recordings/notes.txt",
		"Recordings/gone.wav",
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.Equal(t, OutcomeCreated, outcomes[0].Status)
	assert.Equal(t, "今天开会", outcomes[0].Text)
	assert.Equal(t, OutcomeSkipped, outcomes[1].Status)
	assert.Equal(t, OutcomeFailed, outcomes[2].Status)
	assert.Equal(t, OutcomeFailed, outcomes[3].Status)
	assert.Equal(t, 1, f.provider.Calls())
	// 批量入口不等待
	assert.Empty(t, f.sleep.Delays())
}

func TestTranscribeFilesRejectsEmptyPaths(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	outcomes, err := f.watcher.TranscribeFiles(ctx, []string{"", "/", " "})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, OutcomeFailed, o.Status, "path %d", i)
		assert.NotEmpty(t, o.Error)
	}
	assert.Equal(t, "/", outcomes[1].AudioPath)
	assert.Zero(t, f.provider.Calls())
}
