// models/websocket.go
package models

import (
	"time"
)

// WebSocket Message Types
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"requestId,omitempty"`
}

// WSRequest is what the device sends to the server.
type WSRequest struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
}

// Server -> device
const (
	WSTypeSnapshot        = "session.snapshot"
	WSTypeLocationRequest = "location.request"
	WSTypeAudioPlay       = "audio.play"
	WSTypeAudioStop       = "audio.stop"
	WSTypeAudioSuspend    = "audio.suspend"
	WSTypeAudioResume     = "audio.resume"
	WSTypeMediaStop       = "media.stop"
	WSTypeMediaRecording  = "media.recording"
	WSTypeSuccess         = "success"
	WSTypeError           = "error"
	WSTypePong            = "pong"
)

// Device -> server
const (
	WSRequestTrigger          = "emergency.trigger"
	WSRequestCancel           = "emergency.cancel"
	WSRequestLocationResponse = "location.response"
	WSRequestMediaOpen        = "media.open"
	WSRequestPing             = "ping"
)

// Error codes
const (
	WSErrorInvalidMessage = "INVALID_MESSAGE"
	WSErrorUnauthorized   = "UNAUTHORIZED"
	WSErrorNoMedia        = "NO_MEDIA"
	WSErrorRateLimit      = "RATE_LIMIT"
	WSErrorUnavailable    = "UNAVAILABLE"
)

type WSError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// WSTriggerRequest starts an emergency from the device. WithMedia asks the
// server to record the stream the device opened with media.open.
type WSTriggerRequest struct {
	Situation string `json:"situation"`
	WithMedia bool   `json:"withMedia"`
}

type WSLocationRequest struct {
	RequestID          string `json:"requestId"`
	EnableHighAccuracy bool   `json:"enableHighAccuracy"`
	TimeoutMs          int64  `json:"timeoutMs"`
	MaximumAgeMs       int64  `json:"maximumAgeMs"`
}

// WSLocationError mirrors the browser geolocation error codes:
// 1 permission denied, 2 position unavailable, 3 timeout.
type WSLocationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type WSLocationResponse struct {
	RequestID string           `json:"requestId"`
	Latitude  float64          `json:"latitude"`
	Longitude float64          `json:"longitude"`
	Error     *WSLocationError `json:"error,omitempty"`
}

type WSMediaOpenRequest struct {
	Tracks []string `json:"tracks"`
}

type WSAudioClip struct {
	ClipID     string `json:"clipId"`
	MimeType   string `json:"mimeType"`
	DurationMs int64  `json:"durationMs"`
	Data       []byte `json:"data"`
}

// WSMediaRecording tells the device to start or stop its recorder.
type WSMediaRecording struct {
	Recording   bool  `json:"recording"`
	TimesliceMs int64 `json:"timesliceMs,omitempty"`
}

type WSMediaStop struct {
	Kind string `json:"kind"`
}

type WSHubStats struct {
	TotalConnections  int64         `json:"totalConnections"`
	ActiveConnections int           `json:"activeConnections"`
	MessagesSent      int64         `json:"messagesSent"`
	MessagesReceived  int64         `json:"messagesReceived"`
	BytesReceived     int64         `json:"bytesReceived"`
	PendingLocations  int           `json:"pendingLocations"`
	Uptime            time.Duration `json:"uptime"`
}
