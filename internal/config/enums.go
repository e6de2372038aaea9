package config

// LogLevel represents the logging level for the application.
type LogLevel string

const (
	// LogLevelDebug is the debug logging level, providing detailed information.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the informational logging level, providing general information.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is the warning logging level, indicating potential issues.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is the error logging level, indicating serious issues.
	LogLevelError LogLevel = "error"
)

// SchedulerMode selects which of the engine's two scheduling loops drives
// the peer table.
type SchedulerMode string

const (
	// SchedulerTaskPerPeer runs one goroutine per configured peer.
	SchedulerTaskPerPeer SchedulerMode = "task-per-peer"
	// SchedulerSingleThreaded drives every peer from one fixed-tick loop.
	SchedulerSingleThreaded SchedulerMode = "single-threaded"
)

// Valid reports whether l is one of the known log levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Valid reports whether m is one of the two known scheduler modes.
func (m SchedulerMode) Valid() bool {
	switch m {
	case SchedulerTaskPerPeer, SchedulerSingleThreaded:
		return true
	default:
		return false
	}
}
