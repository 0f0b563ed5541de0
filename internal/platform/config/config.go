package config

import (
	"time"

	"imgshrink/internal/domain/image"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Store         StoreConfig         `yaml:"store"`
	Database      DatabaseConfig      `yaml:"database"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Transport     TransportConfig     `yaml:"transport"`
	Watch         WatchConfig         `yaml:"watch"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	IP           string   `yaml:"ip"`
	Port         int      `yaml:"port"`
	StaticDir    string   `yaml:"static_dir"`
	Debug        bool     `yaml:"debug"`
	AllowOrigins []string `yaml:"allow_origins"`
	// MaxUploadBytes bounds a whole multipart request.
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// StoreConfig selects where processed items live.
type StoreConfig struct {
	Type  string           `yaml:"type"` // memory, sqlite, redis
	TTL   time.Duration    `yaml:"ttl"`
	Redis RedisStoreConfig `yaml:"redis,omitempty"`
}

type RedisStoreConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// DatabaseConfig points at the sqlite file holding the event journal and,
// with store.type sqlite, the items themselves.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PipelineConfig struct {
	MaxFileSize      int64          `yaml:"max_file_size"`
	LargeImagePixels int64          `yaml:"large_image_pixels"`
	Smoothing        string         `yaml:"smoothing"`
	DeepScan         bool           `yaml:"deep_scan"`
	Defaults         image.Settings `yaml:"defaults"`
	Preview          PreviewConfig  `yaml:"preview"`
	EventWorkers     int            `yaml:"event_workers"`
}

type PreviewConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Policy   string `yaml:"policy"` // strict, best_effort
	MaxBytes int64  `yaml:"max_bytes"`
}

type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type WebSocketConfig struct {
	Enabled          bool          `yaml:"enabled"`
	PipelinePath     string        `yaml:"pipeline_path"`
	EventsPath       string        `yaml:"events_path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxMessageBytes  int64         `yaml:"max_message_bytes"`
}

// WatchConfig drives the inbox folder watcher.
type WatchConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Inbox        string        `yaml:"inbox"`
	Outbox       string        `yaml:"outbox"`
	Debounce     time.Duration `yaml:"debounce"`
	RemoveSource bool          `yaml:"remove_source"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PreviewOptions converts the preview section for the processor.
func (p PipelineConfig) PreviewOptions() image.PreviewOptions {
	return image.PreviewOptions{
		Enabled:  p.Preview.Enabled,
		Policy:   image.PreviewPolicy(p.Preview.Policy),
		MaxBytes: p.Preview.MaxBytes,
	}
}
