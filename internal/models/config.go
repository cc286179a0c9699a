package models

// Config is the single-document, process-wide configuration record (C10).
// It is re-read by the supervisor every N heartbeats so a change takes
// effect without a restart. Nothing seeds it from
// internal/common.RocketConfig at startup: until a document is saved,
// ConfigStore.Load returns built-in defaults.
type Config struct {
	MaxWorkerThreads int  `json:"max_worker_threads"`
	HeartbeatSeconds int  `json:"heartbeat_seconds"`
	MaxPollSeconds   int  `json:"max_poll_seconds"`
	ReCheckSeconds   int  `json:"re_check_seconds"`
	InlineMode       bool `json:"inline_mode"`
}
