package bootstrap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"voicenote-ingest-go/internal/domain/asr/factory"
	"voicenote-ingest-go/internal/domain/audio"
	"voicenote-ingest-go/internal/domain/eventbus"
	"voicenote-ingest-go/internal/domain/history"
	"voicenote-ingest-go/internal/domain/ingest"
	"voicenote-ingest-go/internal/domain/journal"
	"voicenote-ingest-go/internal/domain/notify"
	"voicenote-ingest-go/internal/domain/polish"
	"voicenote-ingest-go/internal/domain/transcription"
	"voicenote-ingest-go/internal/domain/vault"
	"voicenote-ingest-go/internal/platform/config"
	platformerrors "voicenote-ingest-go/internal/platform/errors"
	"voicenote-ingest-go/internal/platform/logging"
	"voicenote-ingest-go/internal/platform/observability"
	"voicenote-ingest-go/internal/platform/storage"
	httptransport "voicenote-ingest-go/internal/transport/http"
	"voicenote-ingest-go/internal/transport/ws"
)

// App 装配好的组件集合。配置快照和转写运行时在热加载时整体替换。
type App struct {
	logger     *logging.Logger
	loader     *config.Loader
	configPath string
	opts       Options

	bus      *eventbus.Bus
	vault    *vault.FS
	notifier notify.Notifier
	preparer *audio.Preparer
	history  history.Store
	ingest   *ingest.Watcher
	journal  *journal.Reconciler
	hub      *ws.Hub

	cfg atomic.Pointer[config.Config]
	rt  atomic.Pointer[ingest.Runtime]

	mu         sync.Mutex
	runtimeErr error

	db                    *gorm.DB
	observabilityShutdown observability.ShutdownFunc
	closeOnce             sync.Once
}

func newApp(ctx context.Context, state *appState) (*App, error) {
	cfg := state.config
	fs, err := vault.NewFS(cfg.Vault.Root, cfg.Vault.IgnoreDirs...)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindVault, "components:init", "failed to open vault", err)
	}

	bus := eventbus.New()
	a := &App{
		logger:                state.logger,
		loader:                state.loader,
		configPath:            state.configPath,
		opts:                  state.opts,
		bus:                   bus,
		vault:                 fs,
		notifier:              notify.Multi{notify.NewLog(state.logger), notify.NewBus(bus)},
		preparer:              audio.NewPreparer(cfg.Audio.FFmpegPath, state.logger),
		history:               state.history,
		hub:                   ws.NewHub(state.logger),
		db:                    state.db,
		observabilityShutdown: state.observabilityShutdown,
	}
	a.cfg.Store(cfg)

	rt, err := a.buildRuntime(ctx, cfg, state.constrained)
	if err != nil {
		// 没有可用的提供者时监听器保持关闭，修正配置后热加载即可恢复
		a.logger.ErrorTag("引导", "转写提供者初始化失败，音频监听已禁用: %v", err)
	}
	a.setRuntime(rt, err)

	var settings journal.SettingsSource
	if cfg.Journal.SettingsFile != "" {
		settings = journal.NewFileSettings(fs, cfg.Journal.SettingsFile)
	}

	a.ingest = ingest.NewWatcher(ingest.Deps{
		Vault:    fs,
		Bus:      bus,
		Notifier: a.notifier,
		History:  a.history,
		Logger:   a.logger,
	}, rt)
	a.journal = journal.NewReconciler(journal.Deps{
		Vault:    fs,
		Bus:      bus,
		Notifier: a.notifier,
		Settings: settings,
		Logger:   a.logger,
	}, cfg)
	return a, nil
}

// buildRuntime 根据配置创建提供者、编排器和润色器。提供者创建失败时
// 仍返回一个不带编排器的快照，监听器据此保持关闭。
func (a *App) buildRuntime(ctx context.Context, cfg *config.Config, constrained bool) (*ingest.Runtime, error) {
	rt := &ingest.Runtime{Config: cfg, Constrained: constrained}

	provider, err := factory.New(cfg.ASR, a.logger)
	if err != nil {
		return rt, err
	}
	rt.Orchestrator = transcription.New(provider, a.preparer, transcription.Config{
		Notifier:    a.notifier,
		Logger:      a.logger,
		Constrained: constrained,
	})

	if cfg.Ingest.Polish {
		p, err := polish.New(polish.Config{
			BaseURL: cfg.Polish.BaseURL,
			APIKey:  cfg.Polish.APIKey,
			Model:   cfg.Polish.Model,
			Prompt:  cfg.Polish.Prompt,
			Timeout: cfg.Polish.Timeout,
		}, a.logger)
		if err != nil {
			a.logger.WarnTag("润色", "润色未启用: %v", err)
		} else {
			rt.Polisher = p
		}
	}

	a.logger.InfoTag("引导", "转写提供者: %s", provider.Name())
	return rt, nil
}

func (a *App) setRuntime(rt *ingest.Runtime, err error) {
	a.rt.Store(rt)
	a.mu.Lock()
	a.runtimeErr = err
	a.mu.Unlock()
}

// Config 当前配置快照
func (a *App) Config() *config.Config { return a.cfg.Load() }

// ConfigPath 配置文件路径，未找到配置文件时为 "default"
func (a *App) ConfigPath() string { return a.configPath }

func (a *App) Logger() *logging.Logger { return a.logger }

func (a *App) Vault() *vault.FS { return a.vault }

func (a *App) Bus() *eventbus.Bus { return a.bus }

func (a *App) History() history.Store { return a.history }

func (a *App) Ingest() *ingest.Watcher { return a.ingest }

func (a *App) Journal() *journal.Reconciler { return a.journal }

// Transcriber 返回当前的编排器，提供者不可用时返回创建失败的原因
func (a *App) Transcriber() (*transcription.Orchestrator, error) {
	rt := a.rt.Load()
	a.mu.Lock()
	err := a.runtimeErr
	a.mu.Unlock()
	if rt == nil || rt.Orchestrator == nil {
		if err == nil {
			err = errors.New("no transcription provider configured")
		}
		return nil, err
	}
	return rt.Orchestrator, nil
}

// Runtime 当前的转写运行时快照
func (a *App) Runtime() *ingest.Runtime { return a.rt.Load() }

// Reload 应用新的配置快照：重建提供者与润色器，然后通知两个监听器。
// 新配置无法创建提供者且旧快照可用时保留旧快照。
func (a *App) Reload(ctx context.Context, cfg *config.Config) error {
	rt, err := a.buildRuntime(ctx, cfg, probeConstrained(ctx, cfg))
	if err != nil {
		a.notifier.Notify(notify.Error("配置已更新，但转写提供者创建失败: " + err.Error()))
		if prev := a.rt.Load(); prev != nil && prev.Orchestrator != nil {
			a.logger.ErrorTag("配置", "新配置无法创建提供者，继续使用原配置: %v", err)
			return err
		}
	}

	a.cfg.Store(cfg)
	a.setRuntime(rt, err)

	var errs []error
	if applyErr := a.ingest.Apply(ctx, rt); applyErr != nil {
		errs = append(errs, applyErr)
	}
	if applyErr := a.journal.Apply(ctx, cfg); applyErr != nil {
		errs = append(errs, applyErr)
	}
	if joined := errors.Join(errs...); joined != nil {
		a.logger.ErrorTag("配置", "应用新配置失败: %v", joined)
		return joined
	}

	a.bus.Publish(eventbus.TopicConfigReloaded, cfg)
	if err == nil {
		a.notifier.Notify(notify.Info("配置已重新加载"))
	}
	return err
}

// Serve 启动仓库监听、两个监听器、配置热加载和 HTTP 服务，阻塞直到 ctx 结束
func (a *App) Serve(ctx context.Context) error {
	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(rootCtx)

	source := vault.NewSource(a.vault, a.bus, a.logger)
	group.Go(func() error {
		if err := source.Run(groupCtx); err != nil {
			return platformerrors.Wrap(platformerrors.KindVault, "vault:source", "vault watcher failed", err)
		}
		return nil
	})

	if err := a.startWatchers(groupCtx, group); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}
	a.startConfigWatcher(groupCtx, group)
	if err := a.startHTTPServer(groupCtx, group); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}

	a.logger.InfoTag("引导", "服务已启动，仓库: %s", a.vault.Root())
	return a.waitForShutdown(groupCtx, cancel, group)
}

func (a *App) startWatchers(ctx context.Context, group *errgroup.Group) error {
	if err := a.ingest.Apply(ctx, a.rt.Load()); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "ingest:start", "failed to start audio watcher", err)
	}
	if err := a.journal.Apply(ctx, a.Config()); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "journal:start", "failed to start journal reconciler", err)
	}

	group.Go(func() error {
		if err := a.ingest.Reconcile(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorTag("监听", "启动扫描失败: %v", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := a.journal.Reconcile(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorTag("日记", "启动扫描失败: %v", err)
		}
		return nil
	})
	return nil
}

func (a *App) startConfigWatcher(ctx context.Context, group *errgroup.Group) {
	if a.loader == nil || a.loader.Path() == "" {
		a.logger.InfoTag("配置", "未使用配置文件，不启用热加载")
		return
	}
	watcher, err := config.NewWatcher(a.loader, func(cfg *config.Config) {
		a.logger.InfoTag("配置", "检测到配置变更，重新加载")
		_ = a.Reload(ctx, cfg)
	}, func(err error) {
		a.logger.WarnTag("配置", "配置重新加载失败，继续使用当前配置: %v", err)
	})
	if err != nil {
		a.logger.WarnTag("配置", "无法监听配置文件: %v", err)
		return
	}
	group.Go(func() error {
		if err := watcher.Run(ctx); err != nil {
			a.logger.WarnTag("配置", "配置监听退出: %v", err)
		}
		return nil
	})
}

// Handler 构建 HTTP 处理器：REST 接口加 /ws/notices 通知推送
func (a *App) Handler(ctx context.Context) (*httptransport.Router, error) {
	cfg := a.Config()
	router, err := httptransport.Build(httptransport.Options{Config: cfg, Logger: a.logger})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:build", "failed to build router", err)
	}

	httptransport.NewHandler(httptransport.HandlerDeps{
		Ingest:  a.ingest,
		Journal: a.journal,
		History: a.history,
		Extra:   a.statusExtra,
		Version: a.opts.Version,
	}).RegisterRoutes(router)

	if err := a.hub.Attach(a.bus); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "ws:attach", "failed to subscribe notices", err)
	}
	wsRouter := ws.NewRouter(a.hub, a.logger, ws.RouterOptions{BaseContext: ctx})
	handlers := []gin.HandlerFunc{gin.WrapF(wsRouter.Handle)}
	if router.Auth != nil {
		handlers = append([]gin.HandlerFunc{router.Auth}, handlers...)
	}
	router.Engine.GET("/ws/notices", handlers...)
	return router, nil
}

func (a *App) startHTTPServer(ctx context.Context, group *errgroup.Group) error {
	cfg := a.Config()
	if !cfg.Server.Enabled || a.opts.DisableServer {
		a.logger.InfoTag("HTTP", "HTTP 服务未启用")
		return nil
	}

	router, err := a.Handler(ctx)
	if err != nil {
		return err
	}
	server := httptransport.NewServer(cfg.Server.Addr, router.Engine, a.logger)
	group.Go(func() error {
		defer a.hub.Detach()
		defer a.hub.CloseAll(nil)
		if err := server.Start(ctx); err != nil {
			return platformerrors.Wrap(platformerrors.KindTransport, "http:serve", "http server failed", err)
		}
		return nil
	})
	return nil
}

func (a *App) statusExtra() map[string]any {
	extra := map[string]any{
		"config":            a.configPath,
		"vault":             a.vault.Root(),
		"websocket_clients": a.hub.Count(),
	}
	if rt := a.rt.Load(); rt != nil {
		extra["constrained"] = rt.Constrained
		extra["polish"] = rt.Polisher != nil
		if rt.Orchestrator != nil {
			extra["provider"] = rt.Orchestrator.Provider().Name()
		}
	}
	a.mu.Lock()
	if a.runtimeErr != nil {
		extra["provider_error"] = a.runtimeErr.Error()
	}
	a.mu.Unlock()
	return extra
}

func (a *App) waitForShutdown(ctx context.Context, cancel context.CancelFunc, g *errgroup.Group) error {
	<-ctx.Done()
	a.logger.InfoTag("引导", "收到退出信号 %v，正在进行资源清理", context.Cause(ctx))

	cancel()
	a.ingest.Stop()
	a.journal.Stop()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			a.logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		a.logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(httptransport.ShutdownTimeout):
		a.logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return platformerrors.New(platformerrors.KindBootstrap, "shutdown", "graceful shutdown timed out")
	}
	return nil
}

// Close 等待进行中的事件处理结束并释放存储和日志。可重复调用。
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.ingest.Stop()
		a.journal.Stop()
		a.hub.Detach()
		a.bus.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if a.history != nil {
			errs = append(errs, a.history.Close(ctx))
		}
		if a.db != nil {
			errs = append(errs, storage.Close(a.db))
		}
		if a.observabilityShutdown != nil {
			if err := a.observabilityShutdown(ctx); err != nil {
				a.logger.WarnTag("引导", "可观测性未正常关闭: %v", err)
			}
		}
		if !a.opts.Quiet {
			errs = append(errs, a.logger.Close())
		}
	})
	return errors.Join(errs...)
}
