// Package protocol defines the wire events exchanged between syncroom clients
// and the hub over WebSocket.
//
// Every frame is a JSON envelope whose "event" field names the payload carried
// in "data". The payload shapes match what browser clients already send, so
// the hub relays them without translation.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the top-level wire format for all frames.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// Sender identifies who authored a project message.
type Sender struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
}

// ProjectMessage is the chat payload relayed inside a project room.
type ProjectMessage struct {
	Message string `json:"message"`
	Sender  Sender `json:"sender"`
}

// ProjectError is sent only to the connection whose request failed.
type ProjectError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AISenderID is the reserved identity used for generated replies.
const AISenderID = "ai"

// AISender is attached to every message produced by the generation service.
var AISender = Sender{ID: AISenderID, Email: "AI"}

// Event names.
const (
	EventProjectMessage = "project-message"
	EventProjectError   = "project-error"
)

// Project error codes.
const (
	ErrCodeGenerationFailed  = "generation_failed"
	ErrCodeGenerationTimeout = "generation_timeout"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeMessageTooLarge   = "message_too_large"
)

// Admission rejection codes returned in the HTTP body when the upgrade is refused.
const (
	RejectInvalidProjectReference = "InvalidProjectReference"
	RejectProjectNotFound         = "ProjectNotFound"
	RejectUnauthenticated         = "Unauthenticated"
	RejectInternal                = "InternalError"
	RejectTooManyConnections      = "TooManyConnections"
)

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data, Timestamp: time.Now()}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	return json.Unmarshal(e.Data, v)
}

// Encode builds a complete frame for event.
func Encode(event string, payload any) ([]byte, error) {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// AIReply is the structured body of a message sent by AISender. Message
// holds it as a JSON string; FileTree is present when the model proposed
// files.
type AIReply struct {
	Text     string          `json:"text"`
	FileTree json.RawMessage `json:"fileTree,omitempty"`
}

// ParseAIReply decodes pm when it was sent by AISender. It reports false
// for human messages and for AI bodies that are not a JSON object.
func ParseAIReply(pm ProjectMessage) (AIReply, bool) {
	if pm.Sender.ID != AISenderID {
		return AIReply{}, false
	}
	var r AIReply
	if err := json.Unmarshal([]byte(pm.Message), &r); err != nil {
		return AIReply{}, false
	}
	if string(r.FileTree) == "null" {
		r.FileTree = nil
	}
	return r, true
}
