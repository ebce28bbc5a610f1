package config

// Config is the daemon configuration. Files may be JSON or YAML; unknown keys
// are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Network restricts recipient addresses: "mainnet", "testnet" or "any".
	Network string `json:"network,omitempty" validate:"omitempty,oneof=mainnet testnet any"`

	Engine      EngineConfig      `json:"engine"`
	Payment     PaymentConfig     `json:"payment"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Persistence PersistenceConfig `json:"persistence"`
	Telegram    TelegramConfig    `json:"telegram"`
	Status      StatusConfig      `json:"status"`
}

// EngineConfig controls stream creation and tick execution.
//
// Defaults (when fields are omitted/zero):
//   - dust_floor: 1000 (sompi)
//   - default_interval: 15 (seconds)
//   - send_timeout: "30s"
type EngineConfig struct {
	// Sender is the wallet address recorded on new streams.
	Sender          string `json:"sender,omitempty"`
	DustFloor       int64  `json:"dust_floor,omitempty" validate:"gte=0"`
	DefaultInterval int64  `json:"default_interval,omitempty" validate:"gte=0"`
	SendTimeout     string `json:"send_timeout,omitempty"`
}

// PaymentConfig selects the wallet adapter.
//
// Example:
//
//	"payment": { "driver": "http", "http": { "url": "http://127.0.0.1:8787/send" } }
type PaymentConfig struct {
	Driver      string             `json:"driver,omitempty" validate:"omitempty,oneof=demo http"`
	DemoLatency string             `json:"demo_latency,omitempty"`
	HTTP        *PaymentHTTPConfig `json:"http,omitempty" validate:"required_if=Driver http"`
}

type PaymentHTTPConfig struct {
	URL        string  `json:"url" validate:"required,url"`
	Token      string  `json:"token,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/streamkas.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite sqlite3 memory mem none"`
	Path        string `json:"path" validate:"required_if=Driver file,required_if=Driver sqlite,required_if=Driver sqlite3"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type PersistenceConfig struct {
	Key        string `json:"key,omitempty" validate:"omitempty,max=64"`
	Debounce   string `json:"debounce,omitempty"`
	Checkpoint string `json:"checkpoint,omitempty"` // cron spec, e.g. "@every 1m"
}

// TelegramConfig controls stream outcome alerts.
type TelegramConfig struct {
	Enabled    bool    `json:"enabled"`
	Token      string  `json:"token,omitempty" validate:"required_if=Enabled true"`
	ChatID     int64   `json:"chat_id,omitempty" validate:"required_if=Enabled true"`
	ThreadID   int     `json:"thread_id,omitempty" validate:"gte=0"`
	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
	// Commands enables /streams, /stats, /pause, /resume and /cancel in ChatID.
	Commands bool `json:"commands,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StatusConfig controls the read-only HTTP status server (and pprof).
//
// Example:
//
//	"status": { "enabled": true, "addr": "127.0.0.1:6060", "pprof": true }
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Default is used when no config file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Network: "any",
		Payment: PaymentConfig{Driver: "demo", DemoLatency: "500ms"},
		Storage: &StorageConfig{Driver: "file", Path: "./data/streamkas.json"},
		Persistence: PersistenceConfig{
			Key:        "streams",
			Debounce:   "500ms",
			Checkpoint: "@every 1m",
		},
	}
}
