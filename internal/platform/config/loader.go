package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"imgshrink/internal/domain/image"
	platformerrors "imgshrink/internal/platform/errors"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "IMGSHRINK_"

// DefaultPaths are searched in order when no explicit path is configured.
var DefaultPaths = []string{".config.yaml", "config.yaml"}

// Loader reads YAML configuration, applies environment overrides and
// validates the result.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that honours .env files and IMGSHRINK_CONFIG.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the config file, bypassing the search list.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnv overrides the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration. A missing file is not an error:
// defaults plus environment overrides are used instead.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path, err := l.resolvePath()
	if err != nil {
		return nil, err
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "failed to read "+path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "failed to parse "+path, err)
		}
	} else {
		path = "defaults"
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) resolvePath() (string, error) {
	explicit := l.path
	if explicit == "" {
		explicit, _ = l.lookupEnv(EnvPrefix + "CONFIG")
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", platformerrors.Wrap(platformerrors.KindConfig, "config.resolve", "config file not found: "+explicit, err)
		}
		return explicit, nil
	}
	for _, candidate := range DefaultPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// applyEnv maps IMGSHRINK_* variables onto the config.
func (l *Loader) applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	int64v := func(key string, dst *int64) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("SERVER_IP", &cfg.Server.IP)
	integer("SERVER_PORT", &cfg.Server.Port)
	str("SERVER_STATIC_DIR", &cfg.Server.StaticDir)
	boolean("SERVER_DEBUG", &cfg.Server.Debug)
	int64v("SERVER_MAX_UPLOAD_BYTES", &cfg.Server.MaxUploadBytes)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_DIR", &cfg.Log.Dir)
	str("LOG_FILE", &cfg.Log.File)

	str("STORE_TYPE", &cfg.Store.Type)
	duration("STORE_TTL", &cfg.Store.TTL)
	str("REDIS_ADDR", &cfg.Store.Redis.Addr)
	str("REDIS_USERNAME", &cfg.Store.Redis.Username)
	str("REDIS_PASSWORD", &cfg.Store.Redis.Password)
	integer("REDIS_DB", &cfg.Store.Redis.DB)
	str("DATABASE_PATH", &cfg.Database.Path)

	int64v("PIPELINE_MAX_FILE_SIZE", &cfg.Pipeline.MaxFileSize)
	str("PIPELINE_SMOOTHING", &cfg.Pipeline.Smoothing)
	float("PIPELINE_QUALITY", &cfg.Pipeline.Defaults.Quality)
	integer("PIPELINE_MAX_WIDTH", &cfg.Pipeline.Defaults.MaxWidth)
	str("PIPELINE_OUTPUT_FORMAT", &cfg.Pipeline.Defaults.OutputFormat)
	boolean("PREVIEW_ENABLED", &cfg.Pipeline.Preview.Enabled)
	str("PREVIEW_POLICY", &cfg.Pipeline.Preview.Policy)
	int64v("PREVIEW_MAX_BYTES", &cfg.Pipeline.Preview.MaxBytes)

	boolean("WATCH_ENABLED", &cfg.Watch.Enabled)
	str("WATCH_INBOX", &cfg.Watch.Inbox)
	str("WATCH_OUTBOX", &cfg.Watch.Outbox)

	boolean("OBSERVABILITY_ENABLED", &cfg.Observability.Enabled)

	if len(errs) > 0 {
		return platformerrors.Wrap(platformerrors.KindConfig, "config.env", "invalid environment override", errors.Join(errs...))
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	fail := func(msg string) error {
		return platformerrors.New(platformerrors.KindConfig, "config.validate", msg)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fail(fmt.Sprintf("invalid server port: %d", cfg.Server.Port))
	}

	switch strings.ToLower(cfg.Store.Type) {
	case "", "memory", "sqlite":
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			return fail("store.redis.addr is required for the redis store")
		}
	default:
		return fail(fmt.Sprintf("unsupported store type: %s", cfg.Store.Type))
	}
	if cfg.Store.TTL < 0 {
		return fail("store.ttl must not be negative")
	}

	if cfg.Pipeline.MaxFileSize < 0 || cfg.Pipeline.Preview.MaxBytes < 0 {
		return fail("pipeline sizes must not be negative")
	}
	if err := image.ValidateSettings(cfg.Pipeline.Defaults); err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config.validate", "invalid pipeline defaults", err)
	}
	switch image.PreviewPolicy(cfg.Pipeline.Preview.Policy) {
	case "", image.PreviewStrict, image.PreviewBestEffort:
	default:
		return fail(fmt.Sprintf("unsupported preview policy: %s", cfg.Pipeline.Preview.Policy))
	}

	if cfg.Watch.Enabled {
		if cfg.Watch.Inbox == "" || cfg.Watch.Outbox == "" {
			return fail("watch.inbox and watch.outbox are required when watching")
		}
		if cfg.Watch.Inbox == cfg.Watch.Outbox {
			return fail("watch.inbox and watch.outbox must differ")
		}
	}
	return nil
}
