package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries a job snapshot on every transition
type WSProgressMessage struct {
	Type string      `json:"type"`
	Job  JobSnapshot `json:"job"`
}

// WSErrorMessage represents a terminal failure
type WSErrorMessage struct {
	Type  string      `json:"type"`
	Job   JobSnapshot `json:"job"`
	Error WSError     `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
