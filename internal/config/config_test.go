package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sbn-project/sbn/internal/config"
)

func makeValidConfig() config.Config {
	return config.Config{
		LogLevel: config.LogLevelInfo,
		Engine: config.Engine{
			SchedulerMode:     config.SchedulerSingleThreaded,
			TickInterval:      100 * time.Millisecond,
			AnnounceInterval:  time.Second,
			HeartbeatInterval: time.Second,
			LossThreshold:     3 * time.Second,
			MaxMessageSize:    4096,
		},
		PeerTable: config.PeerTable{
			LocalProcessorId: 100,
			Sources:          []string{"/etc/sbn/peers.cfg"},
			MaxPeers:         16,
			MaxHosts:         4,
		},
		HTTP:         config.HTTP{Enabled: false},
		Metrics:      config.Metrics{Enabled: false},
		Housekeeping: config.Housekeeping{Interval: 4 * time.Second},
	}
}

// --- Engine Validation ---

func TestEngineValidateInvalidSchedulerMode(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Engine.SchedulerMode = "bogus"
	if !errors.Is(c.Engine.Validate(), config.ErrInvalidSchedulerMode) {
		t.Errorf("expected ErrInvalidSchedulerMode, got %v", c.Engine.Validate())
	}
}

func TestEngineValidateZeroTickInterval(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Engine.TickInterval = 0
	if !errors.Is(c.Engine.Validate(), config.ErrInvalidTickInterval) {
		t.Errorf("expected ErrInvalidTickInterval, got %v", c.Engine.Validate())
	}
}

func TestEngineValidateNegativeAnnounceInterval(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Engine.AnnounceInterval = -time.Second
	if !errors.Is(c.Engine.Validate(), config.ErrInvalidAnnounceInterval) {
		t.Errorf("expected ErrInvalidAnnounceInterval, got %v", c.Engine.Validate())
	}
}

func TestEngineValidateZeroHeartbeatInterval(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Engine.HeartbeatInterval = 0
	if !errors.Is(c.Engine.Validate(), config.ErrInvalidHeartbeatInterval) {
		t.Errorf("expected ErrInvalidHeartbeatInterval, got %v", c.Engine.Validate())
	}
}

func TestEngineValidateZeroLossThreshold(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Engine.LossThreshold = 0
	if !errors.Is(c.Engine.Validate(), config.ErrInvalidLossThreshold) {
		t.Errorf("expected ErrInvalidLossThreshold, got %v", c.Engine.Validate())
	}
}

func TestEngineValidateTaskPerPeerValid(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Engine.SchedulerMode = config.SchedulerTaskPerPeer
	if err := c.Engine.Validate(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

// --- PeerTable Validation ---

func TestPeerTableValidateMissingProcessorId(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.PeerTable.LocalProcessorId = 0
	if !errors.Is(c.PeerTable.Validate(), config.ErrLocalProcessorIdRequired) {
		t.Errorf("expected ErrLocalProcessorIdRequired, got %v", c.PeerTable.Validate())
	}
}

func TestPeerTableValidateNoSources(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.PeerTable.Sources = nil
	if !errors.Is(c.PeerTable.Validate(), config.ErrNoPeerTableSources) {
		t.Errorf("expected ErrNoPeerTableSources, got %v", c.PeerTable.Validate())
	}
}

func TestPeerTableValidateInvalidMaxPeers(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.PeerTable.MaxPeers = 0
	if !errors.Is(c.PeerTable.Validate(), config.ErrInvalidMaxPeers) {
		t.Errorf("expected ErrInvalidMaxPeers, got %v", c.PeerTable.Validate())
	}
}

func TestPeerTableValidateInvalidMaxHosts(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.PeerTable.MaxHosts = -1
	if !errors.Is(c.PeerTable.Validate(), config.ErrInvalidMaxHosts) {
		t.Errorf("expected ErrInvalidMaxHosts, got %v", c.PeerTable.Validate())
	}
}

// --- HTTP Validation ---

func TestHTTPValidateDisabled(t *testing.T) {
	t.Parallel()
	h := config.HTTP{Enabled: false}
	if err := h.Validate(); err != nil {
		t.Errorf("expected nil error for disabled HTTP, got %v", err)
	}
}

func TestHTTPValidateEmptyBind(t *testing.T) {
	t.Parallel()
	h := config.HTTP{Enabled: true, Bind: "", Port: 8080}
	if !errors.Is(h.Validate(), config.ErrInvalidHTTPBindAddress) {
		t.Errorf("expected ErrInvalidHTTPBindAddress, got %v", h.Validate())
	}
}

func TestHTTPValidateInvalidPort(t *testing.T) {
	t.Parallel()
	h := config.HTTP{Enabled: true, Bind: "0.0.0.0", Port: 70000}
	if !errors.Is(h.Validate(), config.ErrInvalidHTTPPort) {
		t.Errorf("expected ErrInvalidHTTPPort, got %v", h.Validate())
	}
}

func TestHTTPValidateValid(t *testing.T) {
	t.Parallel()
	h := config.HTTP{Enabled: true, Bind: "0.0.0.0", Port: 8080}
	if err := h.Validate(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

// --- Metrics Validation ---

func TestMetricsValidateDisabled(t *testing.T) {
	t.Parallel()
	m := config.Metrics{Enabled: false}
	if err := m.Validate(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestMetricsValidateValid(t *testing.T) {
	t.Parallel()
	m := config.Metrics{Enabled: true, Bind: "0.0.0.0", Port: 9090}
	if err := m.Validate(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestMetricsValidateInvalidPort(t *testing.T) {
	t.Parallel()
	m := config.Metrics{Enabled: true, Bind: "0.0.0.0", Port: 0}
	if !errors.Is(m.Validate(), config.ErrInvalidMetricsPort) {
		t.Errorf("expected ErrInvalidMetricsPort, got %v", m.Validate())
	}
}

// --- Housekeeping Validation ---

func TestHousekeepingValidateZeroInterval(t *testing.T) {
	t.Parallel()
	h := config.Housekeeping{Interval: 0}
	if !errors.Is(h.Validate(), config.ErrInvalidHousekeepingInterval) {
		t.Errorf("expected ErrInvalidHousekeepingInterval, got %v", h.Validate())
	}
}

// --- Full Config Validation ---

func TestConfigValidateInvalidLogLevel(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.LogLevel = "invalid"
	if !errors.Is(c.Validate(), config.ErrInvalidLogLevel) {
		t.Errorf("expected ErrInvalidLogLevel, got %v", c.Validate())
	}
}

func TestConfigValidateValid(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	if err := c.Validate(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestConfigValidateAllLogLevels(t *testing.T) {
	t.Parallel()
	levels := []config.LogLevel{config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarn, config.LogLevelError}
	for _, level := range levels {
		t.Run(string(level), func(t *testing.T) {
			t.Parallel()
			c := makeValidConfig()
			c.LogLevel = level
			if err := c.Validate(); err != nil {
				t.Errorf("expected nil error for log level %s, got %v", level, err)
			}
		})
	}
}

func TestConfigValidatePropagatesEngineError(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Engine.TickInterval = 0
	if !errors.Is(c.Validate(), config.ErrInvalidTickInterval) {
		t.Errorf("expected ErrInvalidTickInterval, got %v", c.Validate())
	}
}

func TestConfigValidatePropagatesPeerTableError(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.PeerTable.Sources = nil
	if !errors.Is(c.Validate(), config.ErrNoPeerTableSources) {
		t.Errorf("expected ErrNoPeerTableSources, got %v", c.Validate())
	}
}
