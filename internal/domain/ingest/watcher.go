package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/domain/eventbus"
	"voicenote-ingest-go/internal/domain/history"
	"voicenote-ingest-go/internal/domain/notify"
	"voicenote-ingest-go/internal/domain/transcription"
	"voicenote-ingest-go/internal/domain/vault"
	"voicenote-ingest-go/internal/platform/logging"
	"voicenote-ingest-go/internal/platform/observability"
	"voicenote-ingest-go/internal/util/work"
)

const logTag = "监听"

// OutcomeStatus 单个资源的处理结果
type OutcomeStatus string

const (
	OutcomeCreated OutcomeStatus = "created"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

type Outcome struct {
	AudioPath string        `json:"audio_path"`
	NotePath  string        `json:"note_path,omitempty"`
	Status    OutcomeStatus `json:"status"`
	Text      string        `json:"text,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Pending 通过幂等检查、等待转写的资源。Stamp 在检查时计算一次，创建笔记时沿用。
type Pending struct {
	File     vault.FileInfo
	Stamp    string
	NotePath string
}

// Deps 监听器的外部依赖
type Deps struct {
	Vault    vault.Vault
	Notes    vault.NoteCreator
	Bus      *eventbus.Bus
	Notifier notify.Notifier
	// History 可选，只做审计
	History history.Store
	Logger  *logging.Logger
	Sleep   asr.SleepFunc
	Now     func() time.Time
}

// Status 监听器当前状态
type Status struct {
	Running   bool     `json:"running"`
	Enabled   bool     `json:"enabled"`
	InFlight  []string `json:"in_flight"`
	Completed int      `json:"completed"`
	Total     int      `json:"total"`
}

// Watcher 音频转写监听器：启动扫描 + 新文件事件两条路径，共用同一个 Registry
type Watcher struct {
	vault    vault.Vault
	notes    vault.NoteCreator
	bus      *eventbus.Bus
	notifier notify.Notifier
	history  history.Store
	logger   *logging.Logger
	sleep    asr.SleepFunc
	now      func() time.Time

	registry *Registry
	rt       atomic.Pointer[Runtime]

	mu        sync.Mutex
	sub       *eventbus.Subscription
	ctx       context.Context
	scheduler *work.Scheduler[Outcome]
}

func NewWatcher(deps Deps, rt *Runtime) *Watcher {
	w := &Watcher{
		vault:    deps.Vault,
		notes:    deps.Notes,
		bus:      deps.Bus,
		notifier: deps.Notifier,
		history:  deps.History,
		logger:   logging.OrDefault(deps.Logger),
		sleep:    deps.Sleep,
		now:      deps.Now,
		registry: NewRegistry(),
		ctx:      context.Background(),
	}
	if w.notes == nil && w.vault != nil {
		w.notes = vault.NewNoteWriter(w.vault)
	}
	if w.notifier == nil {
		w.notifier = notify.Discard{}
	}
	if w.sleep == nil {
		w.sleep = asr.Sleep
	}
	if w.now == nil {
		w.now = time.Now
	}
	w.rt.Store(rt)
	return w
}

// Registry 返回正在处理的资源集合
func (w *Watcher) Registry() *Registry {
	return w.registry
}

func (w *Watcher) runtime() *Runtime {
	return w.rt.Load()
}

// Start 订阅新文件事件，重复调用无副作用
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return nil
	}
	if w.bus == nil {
		return fmt.Errorf("ingest watcher requires an event bus")
	}
	sub, err := w.bus.SubscribeAsync(eventbus.TopicFileCreated, w.onFileCreated)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventbus.TopicFileCreated, err)
	}
	w.sub = sub
	w.ctx = ctx
	w.logger.InfoTag(logTag, "音频监听已启动，目录: %s", displayFolder(settingsOf(w.runtime()).folder))
	return nil
}

// Stop 取消订阅。已经在等待中的事件会在重新读取快照时自行跳过。
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub == nil {
		return
	}
	if err := w.sub.Close(); err != nil {
		w.logger.WarnTag(logTag, "取消订阅失败: %v", err)
	}
	w.sub = nil
	w.logger.InfoTag(logTag, "音频监听已停止")
}

func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sub != nil
}

// Apply 替换运行时快照，并按 enabled 启停订阅
func (w *Watcher) Apply(ctx context.Context, rt *Runtime) error {
	w.rt.Store(rt)
	if settingsOf(rt).enabled {
		return w.Start(ctx)
	}
	w.Stop()
	return nil
}

func (w *Watcher) Status() Status {
	st := Status{
		Running:  w.IsRunning(),
		Enabled:  settingsOf(w.runtime()).enabled,
		InFlight: w.registry.Snapshot(),
	}
	w.mu.Lock()
	sched := w.scheduler
	w.mu.Unlock()
	if sched != nil {
		st.Completed, st.Total = sched.Progress()
	}
	return st
}

func (w *Watcher) onFileCreated(ev eventbus.FileEvent) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	w.HandleCreated(ctx, ev.Path)
}

// HandleCreated 处理新文件事件：过滤、等待文件稳定、幂等检查后转写
func (w *Watcher) HandleCreated(ctx context.Context, p string) {
	p = vault.Clean(p)
	if s := settingsOf(w.runtime()); !s.enabled || !s.watches(p) {
		return
	}

	if err := w.sleep(ctx, settingsOf(w.runtime()).settleDelay); err != nil {
		return
	}

	// 等待期间配置可能已变更
	if s := settingsOf(w.runtime()); !s.enabled || !s.watches(p) {
		w.logger.DebugTag(logTag, "配置已变更，跳过: %s", p)
		return
	}

	info, err := w.vault.Stat(ctx, p)
	if err != nil {
		if errors.Is(err, vault.ErrNotExist) {
			w.logger.DebugTag(logTag, "文件已不存在，跳过: %s", p)
		} else {
			w.logger.WarnTag(logTag, "读取文件信息失败 %s: %v", p, err)
		}
		return
	}

	pending, ok, err := w.IsUnprocessedAudio(ctx, info)
	if err != nil {
		w.logger.WarnTag(logTag, "幂等检查失败 %s: %v", p, err)
		return
	}
	if !ok {
		return
	}
	_, _ = w.Process(ctx, pending)
}

// IsUnprocessedAudio 判断资源是否仍需转写：不在处理中，且预期笔记在复查等待前后都不存在
func (w *Watcher) IsUnprocessedAudio(ctx context.Context, file vault.FileInfo) (Pending, bool, error) {
	return w.check(ctx, file, true)
}

func (w *Watcher) check(ctx context.Context, file vault.FileInfo, recheck bool) (Pending, bool, error) {
	if w.registry.Has(file.Path) {
		w.logger.DebugTag(logTag, "正在处理中，跳过: %s", file.Path)
		return Pending{}, false, nil
	}

	s := settingsOf(w.runtime())
	stamp := DeriveTimestamp(file, w.now())
	note := NotePath(s.outputFolder, stamp)

	exists, err := w.vault.Exists(ctx, note)
	if err != nil {
		return Pending{}, false, err
	}
	if exists {
		w.logger.DebugTag(logTag, "已有转写笔记 %s，跳过: %s", note, file.Path)
		return Pending{}, false, nil
	}

	if recheck {
		// 笔记可能正由其他设备同步过来
		if err := w.sleep(ctx, s.recheckDelay); err != nil {
			return Pending{}, false, err
		}
		if exists, err = w.vault.Exists(ctx, note); err != nil {
			return Pending{}, false, err
		}
		if exists {
			w.logger.InfoTag(logTag, "复查发现转写笔记已同步 %s，跳过: %s", note, file.Path)
			return Pending{}, false, nil
		}
	}

	return Pending{File: file, Stamp: stamp, NotePath: note}, true, nil
}

// Process 转写单个资源并创建笔记。润色与历史记录失败都不影响笔记创建。
func (w *Watcher) Process(ctx context.Context, p Pending) (out Outcome, err error) {
	out = Outcome{AudioPath: p.File.Path, NotePath: p.NotePath}
	if !w.registry.TryAdd(p.File.Path) {
		out.Status = OutcomeSkipped
		return out, nil
	}
	defer w.registry.Remove(p.File.Path)

	rt := w.runtime()
	s := settingsOf(rt)
	if rt == nil || rt.Orchestrator == nil {
		out.Status = OutcomeFailed
		out.Error = "transcription is not configured"
		return out, errors.New(out.Error)
	}

	ctx, end := observability.StartSpan(ctx, "ingest", "process")
	defer func() { end(err) }()

	name := path.Base(p.File.Path)
	started := time.Now()
	w.logger.InfoTag(logTag, "开始转写: %s", p.File.Path)
	w.notifier.Notify(notify.Info(fmt.Sprintf("正在转写 %s", name)))

	rec := history.Record{
		AudioPath: p.File.Path,
		NotePath:  p.NotePath,
		Provider:  rt.Orchestrator.Provider().Name(),
	}

	in, err := transcription.FromVault(ctx, w.vault, p.File.Path)
	if err != nil {
		return w.fail(ctx, out, rec, fmt.Errorf("read %s: %w", p.File.Path, err))
	}
	report, err := rt.Orchestrator.Run(ctx, in, rt.Options())
	if err != nil {
		return w.fail(ctx, out, rec, err)
	}
	rec.Chunks = report.Chunks
	rec.DurationSeconds = report.DurationSeconds

	text := report.Result.Text
	polished := ""
	if s.polish && text != "" {
		if polished, err = rt.Polisher.Polish(ctx, text); err != nil {
			w.logger.WarnTag("润色", "润色失败，保留原始转写 %s: %v", name, err)
			w.notifier.Notify(notify.Info(fmt.Sprintf("润色失败，已保留原始转写: %v", err)))
			polished = ""
		}
	}
	rec.Polished = polished != ""

	content := RenderNote(p, report, polished)
	handle, err := w.notes.CreateNote(ctx, p.NotePath, content)
	if err != nil {
		if errors.Is(err, vault.ErrExist) {
			// 转写期间其他设备写入了同名笔记
			w.logger.WarnTag(logTag, "笔记已存在，放弃本次结果: %s", p.NotePath)
			out.Status = OutcomeSkipped
			return out, nil
		}
		return w.fail(ctx, out, rec, err)
	}

	rec.NotePath = handle.Path
	rec.Status = history.StatusSuccess
	rec.Metadata = map[string]any{
		"request_id": report.Result.RequestID,
		"model":      report.Result.Model,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	w.record(ctx, rec)

	w.logger.InfoTag(logTag, "转写完成: %s -> %s (%d 段)", p.File.Path, handle.Path, report.Chunks)
	w.notifier.Notify(notify.Success(fmt.Sprintf("已转写 %s", name)))
	observability.RecordMetric(ctx, "ingest.processed", 1, map[string]string{"provider": rec.Provider})

	out.NotePath = handle.Path
	out.Status = OutcomeCreated
	out.Text = text
	if polished != "" {
		out.Text = polished
	}
	return out, nil
}

func (w *Watcher) fail(ctx context.Context, out Outcome, rec history.Record, err error) (Outcome, error) {
	name := path.Base(out.AudioPath)
	w.logger.ErrorTag(logTag, "转写失败 %s: %v", out.AudioPath, err)
	w.notifier.Notify(notify.Error(fmt.Sprintf("转写失败 %s: %v", name, err)))

	rec.Status = history.StatusFailed
	rec.Error = err.Error()
	rec.NotePath = ""
	rec.Metadata = map[string]any{"kind": string(asr.KindOf(err))}
	w.record(ctx, rec)

	out.Status = OutcomeFailed
	out.Error = err.Error()
	return out, err
}

func (w *Watcher) record(ctx context.Context, rec history.Record) {
	if w.history == nil {
		return
	}
	if err := w.history.Append(context.WithoutCancel(ctx), rec); err != nil {
		w.logger.WarnTag("存储", "写入转写历史失败: %v", err)
	}
}

// Reconcile 启动扫描：等待同步稳定后处理目录下所有未转写的音频
func (w *Watcher) Reconcile(ctx context.Context) error {
	s := settingsOf(w.runtime())
	if !s.enabled {
		return nil
	}
	w.logger.InfoTag(logTag, "%s 后开始启动扫描", s.startupDelay)
	if err := w.sleep(ctx, s.startupDelay); err != nil {
		return err
	}
	_, err := w.Scan(ctx)
	return err
}

// Scan 立即扫描一次，不做启动等待
func (w *Watcher) Scan(ctx context.Context) ([]Outcome, error) {
	s := settingsOf(w.runtime())
	if !s.enabled {
		return nil, nil
	}

	files, err := w.vault.List(ctx, s.folder)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", displayFolder(s.folder), err)
	}

	rt := w.runtime()
	today := w.now().Format("20060102")
	candidates := make([]vault.FileInfo, 0, len(files))
	for _, f := range files {
		if !s.isAudio(f.Path) {
			continue
		}
		if rt.Constrained && StampDay(DeriveTimestamp(f, w.now())) != today {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		w.logger.InfoTag(logTag, "启动扫描完成，没有需要转写的音频")
		return nil, nil
	}

	sched := work.NewScheduler[Outcome](s.concurrency, func(completed, total int) {
		w.logger.DebugTag(logTag, "扫描进度 %d/%d", completed, total)
	})
	w.mu.Lock()
	w.scheduler = sched
	w.mu.Unlock()

	futures := make([]*work.Future[Outcome], 0, len(candidates))
	for _, f := range candidates {
		file := f
		futures = append(futures, sched.Add(ctx, func(ctx context.Context) (Outcome, error) {
			pending, ok, err := w.IsUnprocessedAudio(ctx, file)
			if err != nil {
				return Outcome{AudioPath: file.Path, Status: OutcomeFailed, Error: err.Error()}, err
			}
			if !ok {
				return Outcome{AudioPath: file.Path, Status: OutcomeSkipped}, nil
			}
			return w.Process(ctx, pending)
		}))
	}

	outcomes, _ := work.WaitAll(ctx, futures)
	created, failed := tally(outcomes)
	switch {
	case failed > 0:
		w.notifier.Notify(notify.Error(fmt.Sprintf("启动扫描完成：转写 %d 个，失败 %d 个", created, failed)))
	case created > 0:
		w.notifier.Notify(notify.Success(fmt.Sprintf("启动扫描完成：转写 %d 个", created)))
	}
	w.logger.InfoTag(logTag, "启动扫描完成：候选 %d，转写 %d，失败 %d", len(candidates), created, failed)
	return outcomes, ctx.Err()
}

// TranscribeFiles 批量转写指定文件，不等待但仍做幂等检查
func (w *Watcher) TranscribeFiles(ctx context.Context, paths []string) ([]Outcome, error) {
	s := settingsOf(w.runtime())
	if w.runtime() == nil || w.runtime().Orchestrator == nil {
		return nil, errors.New("transcription is not configured")
	}

	sched := work.NewScheduler[Outcome](s.batch, nil)
	futures := make([]*work.Future[Outcome], 0, len(paths))
	for _, raw := range paths {
		raw := raw
		p := vault.Clean(raw)
		futures = append(futures, sched.Add(ctx, func(ctx context.Context) (Outcome, error) {
			if p == "" {
				return Outcome{AudioPath: raw, Status: OutcomeFailed, Error: "empty audio path"}, nil
			}
			if !s.isAudio(p) {
				return Outcome{AudioPath: p, Status: OutcomeFailed, Error: "unsupported audio extension"}, nil
			}
			info, err := w.vault.Stat(ctx, p)
			if err != nil {
				return Outcome{AudioPath: p, Status: OutcomeFailed, Error: err.Error()}, nil
			}
			pending, ok, err := w.check(ctx, info, false)
			if err != nil {
				return Outcome{AudioPath: p, Status: OutcomeFailed, Error: err.Error()}, nil
			}
			if !ok {
				return Outcome{AudioPath: p, Status: OutcomeSkipped}, nil
			}
			out, _ := w.Process(ctx, pending)
			return out, nil
		}))
	}

	outcomes, errs := work.WaitAll(ctx, futures)
	for i, err := range errs {
		// ctx 结束时未完成或 panic 的任务
		if err != nil {
			outcomes[i] = Outcome{AudioPath: paths[i], Status: OutcomeFailed, Error: err.Error()}
		}
	}
	created, failed := tally(outcomes)
	w.logger.InfoTag(logTag, "批量转写完成：共 %d，转写 %d，失败 %d", len(paths), created, failed)
	return outcomes, nil
}

func tally(outcomes []Outcome) (created, failed int) {
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeCreated:
			created++
		case OutcomeFailed:
			failed++
		}
	}
	return created, failed
}

func displayFolder(folder string) string {
	if folder == "" {
		return "/"
	}
	return folder
}
