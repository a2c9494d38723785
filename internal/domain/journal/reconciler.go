package journal

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/domain/eventbus"
	"voicenote-ingest-go/internal/domain/ingest"
	"voicenote-ingest-go/internal/domain/notify"
	"voicenote-ingest-go/internal/domain/vault"
	"voicenote-ingest-go/internal/platform/config"
	"voicenote-ingest-go/internal/platform/logging"
)

const logTag = "日记"

const (
	DefaultStartupDelay = 30 * time.Second
	DefaultSettleDelay  = 3 * time.Second
)

// Deps 反向链接器的外部依赖
type Deps struct {
	Vault    vault.Vault
	Bus      *eventbus.Bus
	Notifier notify.Notifier
	// Settings 为 nil 时只使用配置文件中的 folder/date_format
	Settings SettingsSource
	Logger   *logging.Logger
	Sleep    asr.SleepFunc
	Now      func() time.Time
}

// Reconciler 把转写笔记链接到对应日期的日记中
type Reconciler struct {
	vault    vault.Vault
	bus      *eventbus.Bus
	notifier notify.Notifier
	source   SettingsSource
	logger   *logging.Logger
	sleep    asr.SleepFunc
	now      func() time.Time

	registry *ingest.Registry
	locks    *keyedLocker
	cfg      atomic.Pointer[config.Config]

	mu  sync.Mutex
	sub *eventbus.Subscription
	ctx context.Context
}

func NewReconciler(deps Deps, cfg *config.Config) *Reconciler {
	r := &Reconciler{
		vault:    deps.Vault,
		bus:      deps.Bus,
		notifier: deps.Notifier,
		source:   deps.Settings,
		logger:   logging.OrDefault(deps.Logger),
		sleep:    deps.Sleep,
		now:      deps.Now,
		registry: ingest.NewRegistry(),
		locks:    newKeyedLocker(),
		ctx:      context.Background(),
	}
	if r.notifier == nil {
		r.notifier = notify.Discard{}
	}
	if r.sleep == nil {
		r.sleep = asr.Sleep
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.cfg.Store(cfg)
	return r
}

type settings struct {
	enabled          bool
	transcriptFolder string
	folder           string
	format           string
	header           string
	startupDelay     time.Duration
	settleDelay      time.Duration
}

func settingsOf(cfg *config.Config) settings {
	s := settings{
		format:       DefaultDateFormat,
		header:       DefaultSectionHeader,
		startupDelay: DefaultStartupDelay,
		settleDelay:  DefaultSettleDelay,
	}
	if cfg == nil {
		return s
	}
	j := cfg.Journal
	s.enabled = j.Enabled
	s.transcriptFolder = ingest.NormalizeFolder(cfg.JournalTranscriptFolder())
	s.folder = ingest.NormalizeFolder(j.Folder)
	if j.DateFormat != "" {
		s.format = j.DateFormat
	}
	if h := strings.TrimSpace(j.SectionHeader); h != "" {
		s.header = h
	}
	if j.StartupDelay != 0 {
		s.startupDelay = max(j.StartupDelay, 0)
	}
	if j.SettleDelay != 0 {
		s.settleDelay = max(j.SettleDelay, 0)
	}
	return s
}

func (s settings) watches(p string) bool {
	return vault.InDir(p, s.transcriptFolder) && ingest.IsNoteName(p)
}

func (r *Reconciler) settings() settings {
	return settingsOf(r.cfg.Load())
}

// Start 订阅新文件事件，重复调用无副作用
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return nil
	}
	if r.bus == nil {
		return fmt.Errorf("journal reconciler requires an event bus")
	}
	sub, err := r.bus.SubscribeAsync(eventbus.TopicFileCreated, r.onFileCreated)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventbus.TopicFileCreated, err)
	}
	r.sub = sub
	r.ctx = ctx
	r.logger.InfoTag(logTag, "日记链接已启动")
	return nil
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return
	}
	if err := r.sub.Close(); err != nil {
		r.logger.WarnTag(logTag, "取消订阅失败: %v", err)
	}
	r.sub = nil
	r.logger.InfoTag(logTag, "日记链接已停止")
}

func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub != nil
}

// Apply 替换配置快照，并按 enabled 启停订阅
func (r *Reconciler) Apply(ctx context.Context, cfg *config.Config) error {
	r.cfg.Store(cfg)
	if settingsOf(cfg).enabled {
		return r.Start(ctx)
	}
	r.Stop()
	return nil
}

func (r *Reconciler) onFileCreated(ev eventbus.FileEvent) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if err := r.HandleCreated(ctx, ev.Path); err != nil {
		r.logger.WarnTag(logTag, "添加日记链接失败 %s: %v", ev.Path, err)
	}
}

// HandleCreated 新转写笔记出现后，等待同步稳定再链接到日记
func (r *Reconciler) HandleCreated(ctx context.Context, p string) error {
	p = vault.Clean(p)
	if s := r.settings(); !s.enabled || !s.watches(p) {
		return nil
	}
	if err := r.sleep(ctx, r.settings().settleDelay); err != nil {
		return err
	}
	if s := r.settings(); !s.enabled || !s.watches(p) {
		return nil
	}

	info, err := r.vault.Stat(ctx, p)
	if err != nil {
		if errors.Is(err, vault.ErrNotExist) {
			return nil
		}
		return err
	}
	_, err = r.Link(ctx, []vault.FileInfo{info})
	return err
}

// Reconcile 启动扫描：等待同步稳定后为所有转写笔记补齐日记链接
func (r *Reconciler) Reconcile(ctx context.Context) error {
	s := r.settings()
	if !s.enabled {
		return nil
	}
	r.logger.InfoTag(logTag, "%s 后开始补齐日记链接", s.startupDelay)
	if err := r.sleep(ctx, s.startupDelay); err != nil {
		return err
	}
	_, err := r.Scan(ctx)
	return err
}

// Scan 立即扫描一次转写目录，返回新增的链接数
func (r *Reconciler) Scan(ctx context.Context) (int, error) {
	s := r.settings()
	if !s.enabled {
		return 0, nil
	}
	files, err := r.vault.List(ctx, s.transcriptFolder)
	if err != nil {
		return 0, err
	}
	notes := files[:0]
	for _, f := range files {
		if ingest.IsNoteName(f.Path) {
			notes = append(notes, f)
		}
	}
	added, err := r.Link(ctx, notes)
	r.logger.InfoTag(logTag, "日记链接扫描完成：笔记 %d，新增链接 %d", len(notes), added)
	return added, err
}

// NoteDate 转写笔记的日期：文件名时间戳 > 创建时间 > 修改时间 > now
func NoteDate(info vault.FileInfo, now time.Time) time.Time {
	name := strings.TrimPrefix(path.Base(info.Path), ingest.NotePrefix)
	if stamp, ok := ingest.ParseStamp(name); ok {
		if t, err := time.ParseInLocation(ingest.StampLayout, stamp, time.Local); err == nil {
			return t
		}
	}
	if !info.CreateTime.IsZero() {
		return info.CreateTime
	}
	if !info.ModTime.IsZero() {
		return info.ModTime
	}
	return now
}

// JournalPath 返回某天日记的路径
func JournalPath(folder, format string, day time.Time) string {
	return vault.Join(ingest.NormalizeFolder(folder), FormatDate(day, format)+".md")
}

// Link 按日期分组，每个日记只读写一次，返回新增的链接数
func (r *Reconciler) Link(ctx context.Context, notes []vault.FileInfo) (int, error) {
	if len(notes) == 0 {
		return 0, nil
	}
	s := r.settings()
	folder, format := r.resolve(ctx, s)

	groups := make(map[string][]string)
	for _, n := range notes {
		if !r.registry.TryAdd(n.Path) {
			continue
		}
		defer r.registry.Remove(n.Path)
		journal := JournalPath(folder, format, NoteDate(n, r.now()))
		groups[journal] = append(groups[journal], strings.TrimSuffix(path.Base(n.Path), path.Ext(n.Path)))
	}

	journals := make([]string, 0, len(groups))
	for j := range groups {
		journals = append(journals, j)
	}
	sort.Strings(journals)

	total := 0
	var errs []error
	for _, j := range journals {
		names := groups[j]
		sort.Strings(names)
		added, err := r.appendLinks(ctx, j, s.header, names)
		if err != nil {
			r.logger.ErrorTag(logTag, "更新日记 %s 失败: %v", j, err)
			errs = append(errs, fmt.Errorf("%s: %w", j, err))
			continue
		}
		total += added
	}

	if len(errs) > 0 {
		r.notifier.Notify(notify.Error(fmt.Sprintf("更新日记失败: %v", errors.Join(errs...))))
	} else if total > 0 {
		r.notifier.Notify(notify.Info(fmt.Sprintf("已在日记中添加 %d 条转写链接", total)))
	}
	return total, errors.Join(errs...)
}

func (r *Reconciler) appendLinks(ctx context.Context, journal, header string, names []string) (int, error) {
	unlock := r.locks.Lock(journal)
	defer unlock()

	content := ""
	data, err := r.vault.Read(ctx, journal)
	switch {
	case err == nil:
		content = string(data)
	case errors.Is(err, vault.ErrNotExist):
	default:
		return 0, err
	}

	updated, added := InsertLinks(content, header, names)
	if added == 0 {
		return 0, nil
	}
	if err := r.vault.Write(ctx, journal, []byte(updated)); err != nil {
		return 0, err
	}
	r.logger.InfoTag(logTag, "日记 %s 新增 %d 条链接", journal, added)
	return added, nil
}

// resolve 优先使用日记插件配置，不可用时退回到配置文件
func (r *Reconciler) resolve(ctx context.Context, s settings) (folder, format string) {
	folder, format = s.folder, s.format
	if r.source == nil {
		return folder, format
	}
	ds, err := r.source.DailySettings(ctx)
	if err != nil {
		r.logger.DebugTag(logTag, "读取日记配置失败，使用默认值: %v", err)
		return folder, format
	}
	if ds.Folder != "" {
		folder = ds.Folder
	}
	if ds.Format != "" {
		format = ds.Format
	}
	return folder, format
}

// keyedLocker 按 key 加锁，用完即回收
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*keyLock)}
}

func (k *keyedLocker) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
