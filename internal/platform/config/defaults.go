package config

import (
	"time"

	"imgshrink/internal/domain/image"
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:              "0.0.0.0",
			Port:            8080,
			StaticDir:       "web",
			AllowOrigins:    []string{"*"},
			MaxUploadBytes:  512 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Store: StoreConfig{
			Type: "memory",
			TTL:  24 * time.Hour,
			Redis: RedisStoreConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "imgshrink:image:",
			},
		},
		Database: DatabaseConfig{
			Path: "data/imgshrink.db",
		},
		Pipeline: PipelineConfig{
			MaxFileSize:      image.DefaultMaxBytes,
			LargeImagePixels: image.DefaultLargeImagePixels,
			Smoothing:        "high",
			Defaults: image.Settings{
				Quality:      0.8,
				MaxWidth:     1920,
				OutputFormat: "image/jpeg",
			},
			Preview: PreviewConfig{
				Enabled: true,
				Policy:  string(image.PreviewStrict),
			},
			EventWorkers: 2,
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				Enabled:          true,
				PipelinePath:     "/ws/pipeline",
				EventsPath:       "/ws/events",
				HandshakeTimeout: 10 * time.Second,
				MaxMessageBytes:  64 << 20,
			},
		},
		Watch: WatchConfig{
			Inbox:    "data/inbox",
			Outbox:   "data/outbox",
			Debounce: 500 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			Enabled: false,
		},
	}
}
