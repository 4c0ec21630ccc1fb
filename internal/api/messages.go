// Package api defines the JSON envelopes exchanged over the status WebSocket.
package api

import (
	"github.com/skobkin/freqpilot/internal/status"
)

// HelloMessage is sent once when a client connects.
type HelloMessage struct {
	Type          string          `json:"type"`
	Actuator      string          `json:"actuator"`
	ThresholdMS   float64         `json:"threshold_ms"`
	WindowSeconds float64         `json:"window_seconds"`
	Features      map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(actuator string, thresholdMS, windowSeconds float64, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:          "hello",
		Actuator:      actuator,
		ThresholdMS:   thresholdMS,
		WindowSeconds: windowSeconds,
		Features:      features,
	}
}

// StatusMessage carries a controller snapshot.
type StatusMessage struct {
	Type string `json:"type"`
	status.Snapshot
}

// NewStatusMessage wraps snap for transport.
func NewStatusMessage(snap status.Snapshot) StatusMessage {
	return StatusMessage{Type: "status", Snapshot: snap}
}

// EndMessage announces that the run finished and no more status will follow.
type EndMessage struct {
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is the envelope of inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type string `json:"type"`
}
