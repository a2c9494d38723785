package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gorm.io/gorm"

	"voicenote-ingest-go/internal/domain/history"
	"voicenote-ingest-go/internal/platform/config"
	platformerrors "voicenote-ingest-go/internal/platform/errors"
	"voicenote-ingest-go/internal/platform/logging"
	"voicenote-ingest-go/internal/platform/observability"
	"voicenote-ingest-go/internal/platform/storage"
	"voicenote-ingest-go/internal/platform/sysinfo"
)

// Options 启动参数
type Options struct {
	// ConfigPath 为空时按 config.DefaultSearchPaths 查找
	ConfigPath string
	// Quiet 只在控制台输出警告及以上，不写日志文件。一次性命令使用。
	Quiet bool
	// DisableServer 即使配置启用也不启动 HTTP 服务
	DisableServer bool
	Version       string
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts                  Options
	loader                *config.Loader
	config                *config.Config
	configPath            string
	logger                *logging.Logger
	slogger               *slog.Logger
	observabilityShutdown observability.ShutdownFunc
	constrained           bool
	db                    *gorm.DB
	history               history.Store
	app                   *App
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context, opts Options) error {
	app, err := Prepare(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Serve(signalCtx)
}

// Prepare 执行初始化步骤并返回装配好的应用，但不启动任何后台任务
func Prepare(ctx context.Context, opts Options) (*App, error) {
	state := &appState{opts: opts}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.release()
		return nil, err
	}
	if state.app == nil {
		state.release()
		return nil, platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"components not initialised",
		)
	}

	logBootstrapGraph(steps, state.logger)
	return state.app, nil
}

func logBootstrapGraph(steps []initStep, logger *logging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("引导", "%s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag("引导", "%s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration file",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "system:probe",
			Title:     "Probe host resources",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindPlatform,
			Execute:   probeSystemStep,
		},
		{
			ID:        "storage:init-history",
			Title:     "Initialise transcription history",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initHistoryStep,
		},
		{
			ID:        "components:init",
			Title:     "Initialise watchers and providers",
			DependsOn: []string{"observability:setup-hooks", "system:probe", "storage:init-history"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initComponentsStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := config.NewLoader(state.opts.ConfigPath)
	res, err := loader.Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.loader = loader
	state.config = res.Config
	state.configPath = res.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	if state.opts.Quiet {
		state.logger = logging.NewWriter(os.Stderr, "warn")
	} else {
		logProvider, err := logging.New(logging.Config{
			Level:    state.config.Log.Level,
			Dir:      state.config.Log.Dir,
			Filename: state.config.Log.File,
		})
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
		}
		state.logger = logProvider
	}
	state.slogger = state.logger.Slog()
	logging.DefaultLogger = state.logger

	state.logger.InfoTag(
		"引导",
		"日志模块就绪 [%s] %s",
		state.config.Log.Level,
		state.configPath,
	)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state == nil || state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	cfg := observability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
	}

	shutdown, err := observability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func probeSystemStep(ctx context.Context, state *appState) error {
	state.constrained = probeConstrained(ctx, state.config)
	if state.constrained {
		state.logger.InfoTag("引导", "运行在受限模式 (%s)：不解码音频，只扫描当天文件", state.config.System.Constrained)
	}
	return nil
}

func probeConstrained(ctx context.Context, cfg *config.Config) bool {
	return sysinfo.Constrained(ctx, cfg.System.Constrained, cfg.System.MinMemoryMB, nil)
}

func initHistoryStep(_ context.Context, state *appState) error {
	cfg := state.config.History
	deps := history.Dependencies{}

	if strings.EqualFold(cfg.Driver, history.DriverSQLite) {
		db, err := storage.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-history", "failed to open history database", err)
		}
		state.db = db
		deps.SQLiteDB = db
	}

	store, err := history.New(history.ConfigFrom(cfg), deps)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-history", "failed to create history store", err)
	}
	state.history = store
	state.logger.InfoTag("存储", "转写历史使用 %s 存储", cfg.Driver)
	return nil
}

func initComponentsStep(ctx context.Context, state *appState) error {
	if state == nil || state.config == nil || state.logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"components:init",
			"missing config/logger",
		)
	}
	app, err := newApp(ctx, state)
	if err != nil {
		return err
	}
	state.app = app
	state.logger.InfoTag("引导", "组件初始化完成")
	return nil
}

// release 初始化失败时释放已经打开的资源
func (s *appState) release() {
	if s.history != nil {
		_ = s.history.Close(context.Background())
	}
	if s.db != nil {
		_ = storage.Close(s.db)
	}
	if s.observabilityShutdown != nil {
		_ = s.observabilityShutdown(context.Background())
	}
	if s.logger != nil && !s.opts.Quiet {
		_ = s.logger.Close()
	}
}
