package models

import "time"

// ServerState is a supervisor process's lifecycle state.
type ServerState string

const (
	ServerStarting ServerState = "starting"
	ServerRunning  ServerState = "running"
	ServerPaused   ServerState = "paused"
	ServerStopping ServerState = "stopping"
)

// Heartbeat is the liveness record a server writes periodically.
type Heartbeat struct {
	UpdatedAt     time.Time `json:"updated_at"`
	ActiveThreads int       `json:"active_threads"`
}

// Server is the persistent document for a supervisor process. Name is
// unique across the cluster, conventionally "hostname:pid".
type Server struct {
	Name           string      `json:"name"`
	State          ServerState `json:"state"`
	MaxThreads     int         `json:"max_threads"`
	StartedAt      time.Time   `json:"started_at"`
	Heartbeat      Heartbeat   `json:"heartbeat"`
	ReCheckSeconds int         `json:"re_check_seconds"`
}

// Dead reports whether the server's heartbeat is stale enough that its
// claims should be recovered by another server.
func (s *Server) Dead(now time.Time, heartbeatSeconds int) bool {
	staleAfter := time.Duration(3*heartbeatSeconds) * time.Second
	return now.Sub(s.Heartbeat.UpdatedAt) > staleAfter
}
