// Package config defines the engine's own configuration surface, loaded
// via configulator from the environment and an optional YAML file. This
// is distinct from the peer/host table (internal/sbn/peertable), which
// stays line-oriented per the bus network's own external file format and
// is loaded separately at engine construction time.
package config

import "time"

// Config is the root configuration struct for one SBN engine process.
type Config struct {
	LogLevel LogLevel `yaml:"log_level" default:"info"`

	Engine       Engine       `yaml:"engine"`
	PeerTable    PeerTable    `yaml:"peer_table"`
	HTTP         HTTP         `yaml:"http"`
	Metrics      Metrics      `yaml:"metrics"`
	Housekeeping Housekeeping `yaml:"housekeeping"`
	Cache        Cache        `yaml:"cache"`
}

// Engine holds the scheduling and pipeline tunables for one Engine.
type Engine struct {
	SchedulerMode SchedulerMode `yaml:"scheduler_mode" default:"single-threaded"`

	TickInterval      time.Duration `yaml:"tick_interval" default:"100ms"`
	AnnounceInterval  time.Duration `yaml:"announce_interval" default:"1s"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" default:"1s"`
	LossThreshold     time.Duration `yaml:"loss_threshold" default:"3s"`

	MaxConsecutiveSendErrors uint64 `yaml:"max_consecutive_send_errors" default:"10"`
	FairnessCap              int    `yaml:"fairness_cap" default:"100"`

	// MaxMessageSize bounds the payload a wire frame may carry, matching
	// the fixed-size message buffers peers negotiate out of band.
	MaxMessageSize int `yaml:"max_message_size" default:"4096"`

	// MaxStatusBytes bounds the opaque per-peer module-status blob each
	// transport's ReportStatus fills for housekeeping telemetry.
	MaxStatusBytes int `yaml:"max_status_bytes" default:"64"`

	LocalAppName string `yaml:"local_app_name" default:"SBN"`
}

// PeerTable holds the bounded peer/host table construction parameters
// and the ordered list of config file sources to try, mirroring the two
// config sources spec.md §4.3 describes (a volatile override, falling
// back to a baked-in default).
type PeerTable struct {
	LocalSpacecraftId uint32 `yaml:"local_spacecraft_id"`
	LocalProcessorId  uint32 `yaml:"local_processor_id"`

	MaxPeers int `yaml:"max_peers" default:"32"`
	MaxHosts int `yaml:"max_hosts" default:"8"`

	Sources []string `yaml:"sources"`
}

// HTTP configures the debug/operator HTTP surface (C13).
type HTTP struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	Bind    string `yaml:"bind" default:"0.0.0.0"`
	Port    int    `yaml:"port" default:"8080"`

	// AllowedOrigins is the CORS allow-list for browser-based operator
	// dashboards hitting the debug HTTP surface directly.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// PProf registers net/http/pprof's profiling endpoints on the debug
	// HTTP surface.
	PProf bool `yaml:"pprof" default:"false"`
}

// Metrics configures the Prometheus metrics server and, when
// OTLPEndpoint is set, trace export (C11/C12 ambient observability).
type Metrics struct {
	Enabled      bool   `yaml:"enabled" default:"false"`
	Bind         string `yaml:"bind" default:"0.0.0.0"`
	Port         int    `yaml:"port" default:"9090"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Housekeeping configures the periodic telemetry snapshot publisher (C12).
type Housekeeping struct {
	Interval time.Duration `yaml:"interval" default:"4s"`
}

// Cache configures the key-value store the housekeeping publisher uses to
// hold the latest snapshot for the debug HTTP surface. When Redis is
// disabled, an in-process store is used instead, scoped to this one
// engine.
type Cache struct {
	Redis RedisCache `yaml:"redis"`
}

// RedisCache configures an optional Redis-backed cache.
type RedisCache struct {
	Enabled  bool   `yaml:"enabled" default:"false"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
}
