package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal         StopReason = "signal"
	StopConnectionLost StopReason = "connection_lost"
	StopStartupFailed  StopReason = "startup_failed"
)
