package domain

import "time"

// Component identifica quién emite un cambio de estado.
type Component string

const (
	ComponentBroker   Component = "BROKER"
	ComponentEngine   Component = "ENGINE"
	ComponentCalendar Component = "CALENDAR"
	ComponentAssets   Component = "ASSETS"
)

// Status es el estado publicado en cada transición.
type Status string

const (
	StatusConnected    Status = "CONNECTED"
	StatusReconnecting Status = "RECONNECTING"
	StatusCritical     Status = "CRITICAL"
	StatusRunning      Status = "RUNNING"
	StatusPaused       Status = "PAUSED"
	StatusStopped      Status = "STOPPED"
	StatusWarning      Status = "WARNING"
	StatusError        Status = "ERROR"
)

// StatusEvent se publica en toda transición de conectividad o del engine.
type StatusEvent struct {
	Component Component `json:"component"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// NewStatus construye un StatusEvent con timestamp actual.
func NewStatus(c Component, s Status, msg string) StatusEvent {
	return StatusEvent{Component: c, Status: s, Message: msg, At: time.Now().UTC()}
}
