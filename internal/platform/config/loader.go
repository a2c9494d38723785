package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"voicenote-ingest-go/internal/platform/errors"
)

// DefaultSearchPaths are tried in order when no explicit path is given.
var DefaultSearchPaths = []string{
	"config.yaml",
	"config.yml",
	".config.yaml",
	"config.toml",
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Loader reads a configuration file on top of DefaultConfig.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader for path. An empty path searches DefaultSearchPaths.
func NewLoader(path string) *Loader {
	return &Loader{
		useDotEnv: true,
		path:      path,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load resolves the file, expands ${VAR} references and decodes it. Without
// any file the defaults are returned with Path "default".
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("未找到 .env 文件，使用系统环境变量")
		}
	}

	path, err := l.resolve()
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if path == "" {
		return &Result{Config: cfg, Path: "default"}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindConfig, "config.read", "failed to read config file", err)
	}
	if err := Decode(path, raw, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

// Path returns the resolved config file path, or "" when none exists.
func (l *Loader) Path() string {
	path, _ := l.resolve()
	return path
}

func (l *Loader) resolve() (string, error) {
	if l.path != "" {
		if _, err := os.Stat(l.path); err != nil {
			return "", errors.Wrap(errors.KindConfig, "config.resolve", "config file not accessible", err)
		}
		return filepath.Abs(l.path)
	}
	for _, candidate := range DefaultSearchPaths {
		if _, err := os.Stat(candidate); err == nil {
			return filepath.Abs(candidate)
		}
	}
	return "", nil
}

// Decode parses raw into cfg, picking the format from the file extension.
func Decode(path string, raw []byte, cfg *Config) error {
	raw = expandEnv(raw)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(raw)).Decode(cfg); err != nil {
			return errors.Wrap(errors.KindConfig, "config.decode", "invalid toml", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return errors.Wrap(errors.KindConfig, "config.decode", "invalid yaml", err)
		}
	default:
		return errors.Newf(errors.KindConfig, "config.decode", "unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		return []byte(os.Getenv(name))
	})
}

var (
	validProviders   = map[string]bool{"zhipu": true, "doubao": true, "whisper": true}
	validDrivers     = map[string]bool{"memory": true, "sqlite": true, "redis": true}
	validConstrained = map[string]bool{"auto": true, "on": true, "off": true}
)

// Validate rejects snapshots no component could run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.KindConfig, "config.validate", "nil config")
	}
	if !validProviders[cfg.ASR.Provider] {
		return errors.Newf(errors.KindConfig, "config.validate", "unknown asr provider %q", cfg.ASR.Provider)
	}
	if cfg.ASR.RetryCount < 0 {
		return errors.New(errors.KindConfig, "config.validate", "asr.retry_count must not be negative")
	}
	if cfg.Ingest.Concurrency < 0 || cfg.Batch.Concurrency < 0 {
		return errors.New(errors.KindConfig, "config.validate", "concurrency must not be negative")
	}
	if !validDrivers[cfg.History.Driver] {
		return errors.Newf(errors.KindConfig, "config.validate", "unknown history driver %q", cfg.History.Driver)
	}
	if !validConstrained[cfg.System.Constrained] {
		return errors.Newf(errors.KindConfig, "config.validate", "system.constrained must be auto, on or off, got %q", cfg.System.Constrained)
	}
	if cfg.Server.Enabled && cfg.Server.Addr == "" {
		return errors.New(errors.KindConfig, "config.validate", "server.addr required when server is enabled")
	}
	if cfg.Vault.Root == "" {
		return errors.New(errors.KindConfig, "config.validate", "vault.root required")
	}
	return nil
}
