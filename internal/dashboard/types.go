package dashboard

import "time"

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDetection reports a successful anonymization write-back.
	EventTypeDetection EventType = "detection"
	// EventTypeFailure reports a failed run.
	EventTypeFailure EventType = "failure"
	// EventTypeSystemStatus reports agent status snapshots.
	EventTypeSystemStatus EventType = "system_status"
)

// Event represents a WebSocket event sent to dashboard clients. Events carry
// entity metadata only; clipboard text never crosses this boundary.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SystemStatusEvent is the periodic agent status payload.
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalOperations  int64  `json:"total_operations"`
	TotalEntities    int64  `json:"total_entities"`
	EngineTransport  string `json:"engine_transport"`
	ConnectedClients int    `json:"connected_clients"`
}
