// Package protocol defines the JSON wire messages exchanged between the
// controller and the browser capture client.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Client→server message types.
const (
	TypeAuth            = "AUTH"
	TypeReady           = "READY"
	TypeTranscriptReady = "TRANSCRIPT_READY"
	TypeSpeechStarted   = "SPEECH_STARTED"
	TypeSpeechEnded     = "SPEECH_ENDED"
	TypeSpeechError     = "SPEECH_ERROR"
	TypePong            = "PONG"
)

// Server→client message types.
const (
	TypeAuthSuccess    = "AUTH_SUCCESS"
	TypeAuthFailed     = "AUTH_FAILED"
	TypeAcknowledge    = "ACKNOWLEDGE"
	TypeStartListening = "START_LISTENING"
	TypeStopListening  = "STOP_LISTENING"
	TypePing           = "PING"
)

// Command is a controller→client instruction.
type Command struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// NewCommand stamps a command with the current unix time in seconds.
func NewCommand(commandType string) Command {
	return Command{
		Type:      commandType,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// AuthSuccess acknowledges a completed handshake.
type AuthSuccess struct {
	Type string `json:"type"`
}

// NewAuthSuccess creates the handshake-accepted reply.
func NewAuthSuccess() AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess}
}

// AuthFailed rejects a handshake and carries the material a well-behaved
// client needs to resynchronize with the current session.
type AuthFailed struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	CurrentToken string `json:"current_token"`
	ReconnectURL string `json:"reconnect_url"`
}

// NewAuthFailed creates the handshake-rejected reply.
func NewAuthFailed(message, currentToken, reconnectURL string) AuthFailed {
	return AuthFailed{
		Type:         TypeAuthFailed,
		Message:      message,
		CurrentToken: currentToken,
		ReconnectURL: reconnectURL,
	}
}

// Acknowledge answers a client READY event.
type Acknowledge struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAcknowledge creates the READY acknowledgement.
func NewAcknowledge(message string) Acknowledge {
	return Acknowledge{Type: TypeAcknowledge, Message: message}
}

// Event is a client→server message. All client variants share one flat
// shape; absent fields stay empty.
type Event struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// ParseEvent decodes one client frame. A decode failure or a missing
// type field is a protocol error, not a transport error.
func ParseEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode client message: %w", err)
	}
	if strings.TrimSpace(event.Type) == "" {
		return Event{}, fmt.Errorf("client message has no type")
	}
	return event, nil
}
