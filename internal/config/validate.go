package config

import "errors"

var (
	// ErrInvalidLogLevel indicates that the provided log level is not valid.
	ErrInvalidLogLevel = errors.New("invalid log level provided")
	// ErrInvalidSchedulerMode indicates that the provided scheduler mode is not valid.
	ErrInvalidSchedulerMode = errors.New("invalid scheduler mode provided, must be task-per-peer or single-threaded")
	// ErrInvalidTickInterval indicates that the tick interval is zero or negative.
	ErrInvalidTickInterval = errors.New("tick interval must be positive")
	// ErrInvalidAnnounceInterval indicates that the announce interval is zero or negative.
	ErrInvalidAnnounceInterval = errors.New("announce interval must be positive")
	// ErrInvalidHeartbeatInterval indicates that the heartbeat interval is zero or negative.
	ErrInvalidHeartbeatInterval = errors.New("heartbeat interval must be positive")
	// ErrInvalidLossThreshold indicates that the loss threshold is zero or negative.
	ErrInvalidLossThreshold = errors.New("loss threshold must be positive")
	// ErrInvalidMaxMessageSize indicates that the max message size is zero or negative.
	ErrInvalidMaxMessageSize = errors.New("max message size must be positive")
	// ErrLocalProcessorIdRequired indicates that no local processor id was configured.
	ErrLocalProcessorIdRequired = errors.New("local processor id is required")
	// ErrNoPeerTableSources indicates that no peer table config file sources were configured.
	ErrNoPeerTableSources = errors.New("at least one peer table source is required")
	// ErrInvalidMaxPeers indicates the configured peer table capacity is not positive.
	ErrInvalidMaxPeers = errors.New("max peers must be positive")
	// ErrInvalidMaxHosts indicates the configured host table capacity is not positive.
	ErrInvalidMaxHosts = errors.New("max hosts must be positive")
	// ErrInvalidHTTPBindAddress indicates that the provided debug HTTP bind address is not valid.
	ErrInvalidHTTPBindAddress = errors.New("invalid HTTP bind address provided")
	// ErrInvalidHTTPPort indicates that the provided debug HTTP port is not valid.
	ErrInvalidHTTPPort = errors.New("invalid HTTP port provided")
	// ErrInvalidMetricsBindAddress indicates that the provided metrics server bind address is not valid.
	ErrInvalidMetricsBindAddress = errors.New("invalid metrics server bind address provided")
	// ErrInvalidMetricsPort indicates that the provided metrics server port is not valid.
	ErrInvalidMetricsPort = errors.New("invalid metrics server port provided")
	// ErrInvalidHousekeepingInterval indicates that the housekeeping publish interval is zero or negative.
	ErrInvalidHousekeepingInterval = errors.New("housekeeping interval must be positive")
	// ErrInvalidRedisHost indicates that the provided Redis host is not valid.
	ErrInvalidRedisHost = errors.New("invalid Redis host provided")
	// ErrInvalidRedisPort indicates that the provided Redis port is not valid.
	ErrInvalidRedisPort = errors.New("invalid Redis port provided")
)

// Validate validates the Engine configuration.
func (e Engine) Validate() error {
	if !e.SchedulerMode.Valid() {
		return ErrInvalidSchedulerMode
	}
	if e.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}
	if e.AnnounceInterval <= 0 {
		return ErrInvalidAnnounceInterval
	}
	if e.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if e.LossThreshold <= 0 {
		return ErrInvalidLossThreshold
	}
	if e.MaxMessageSize <= 0 {
		return ErrInvalidMaxMessageSize
	}
	return nil
}

// Validate validates the PeerTable configuration.
func (p PeerTable) Validate() error {
	if p.LocalProcessorId == 0 {
		return ErrLocalProcessorIdRequired
	}
	if len(p.Sources) == 0 {
		return ErrNoPeerTableSources
	}
	if p.MaxPeers <= 0 {
		return ErrInvalidMaxPeers
	}
	if p.MaxHosts <= 0 {
		return ErrInvalidMaxHosts
	}
	return nil
}

// Validate validates the HTTP debug surface configuration.
func (h HTTP) Validate() error {
	if !h.Enabled {
		return nil
	}
	if h.Bind == "" {
		return ErrInvalidHTTPBindAddress
	}
	if h.Port <= 0 || h.Port > 65535 {
		return ErrInvalidHTTPPort
	}
	return nil
}

// Validate validates the Metrics server configuration.
func (m Metrics) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Bind == "" {
		return ErrInvalidMetricsBindAddress
	}
	if m.Port <= 0 || m.Port > 65535 {
		return ErrInvalidMetricsPort
	}
	return nil
}

// Validate validates the Housekeeping publisher configuration.
func (h Housekeeping) Validate() error {
	if h.Interval <= 0 {
		return ErrInvalidHousekeepingInterval
	}
	return nil
}

// Validate validates the RedisCache configuration.
func (r RedisCache) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Host == "" {
		return ErrInvalidRedisHost
	}
	if r.Port <= 0 || r.Port > 65535 {
		return ErrInvalidRedisPort
	}
	return nil
}

// Validate validates the Cache configuration.
func (c Cache) Validate() error {
	return c.Redis.Validate()
}

// Validate validates the entire Config, aggregating each group's own
// Validate method.
func (c Config) Validate() error {
	if !c.LogLevel.Valid() {
		return ErrInvalidLogLevel
	}

	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.PeerTable.Validate(); err != nil {
		return err
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.Housekeeping.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}

	return nil
}
