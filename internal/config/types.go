package config

// Config is the optional qseq configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// A missing file means Default().
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Sequencer SequencerConfig `json:"sequencer"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Cache     CacheConfig     `json:"cache"`
	EventLog  EventLogConfig  `json:"eventlog"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Daemon    DaemonConfig    `json:"daemon,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SequencerConfig controls step execution.
//
// Defaults:
//   - slow_threshold: "1s"
type SequencerConfig struct {
	SlowThreshold string `json:"slow_threshold,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
}

// SandboxConfig controls the script interpreter.
//
// Stdlib lists the standard library packages scripts may import. Omit it
// for the default set, use ["*"] for everything the interpreter offers
// and [] for nothing.
type SandboxConfig struct {
	Stdlib []string `json:"stdlib,omitempty"`
}

// CacheConfig sets defaults for background data cache workers.
type CacheConfig struct {
	HaltOnError bool   `json:"halt_on_error,omitempty"`
	MinInterval string `json:"min_interval,omitempty"`
}

// EventLogConfig selects where script events go.
//
// Example:
//
//	"eventlog": {
//	  "csv": { "path": "./events.csv" },
//	  "storage": { "driver": "sqlite", "path": "./qseq.db" },
//	  "nats": { "url": "nats://127.0.0.1:4222", "subject_prefix": "lab.events" }
//	}
type EventLogConfig struct {
	CSV     CSVConfig      `json:"csv"`
	Storage *StorageConfig `json:"storage,omitempty"`
	NATS    *NATSConfig    `json:"nats,omitempty"`
}

// CSVConfig writes events as CSV. An empty path means stdout.
// Disabled turns CSV output off entirely.
type CSVConfig struct {
	Disabled bool   `json:"disabled,omitempty"`
	Path     string `json:"path,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix,omitempty"` // default: "qseq.events"
}

// MetricsConfig controls the optional Prometheus/pprof HTTP endpoint.
//
// Prefer a loopback address. A non-loopback address requires a token or
// allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

// DaemonConfig controls repeated runs (-daemon).
//
// Schedule accepts a cron expression ("*/5 * * * *", "@hourly"), a Go
// duration ("90s") or an HH:MM interval ("01:30" = every 90 minutes).
type DaemonConfig struct {
	Schedule        string `json:"schedule,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"` // default: "10s"
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Sequencer: SequencerConfig{SlowThreshold: "1s"},
	}
}
