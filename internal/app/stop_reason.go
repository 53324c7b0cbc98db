package app

// StopReason is logged when the daemon shuts down.
type StopReason string

const (
	StopSignal  StopReason = "signal"
	StopAppStop StopReason = "app_stop"
)
