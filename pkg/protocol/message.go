// Package protocol defines the WebSocket frames exchanged between the
// screening client and the interview backend.
//
// Frames are flat JSON objects discriminated by a "type" field. The client
// keeps the raw bytes of every inbound frame and decodes the typed payload on
// demand, so unknown frame types pass through the transport untouched.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FrameType identifies the kind of a WebSocket frame.
type FrameType string

const (
	// Server → Client frames
	TypeAgentMessage      FrameType = "agent_message"      // Agent turn, optionally with speech
	TypeUserMessage       FrameType = "user_message"       // Echo of the transcribed utterance
	TypeInterviewComplete FrameType = "interview_complete" // Terminal frame with eligibility
	TypeError             FrameType = "error"              // Server-side failure
	TypeRecordingStarted  FrameType = "recording_started"  // Informational ack
	TypeRecordingStopped  FrameType = "recording_stopped"  // Informational ack

	// Client → Server frames
	TypeStartRecording FrameType = "start_recording"
	TypeStopRecording  FrameType = "stop_recording"
	TypeAudioData      FrameType = "audio_data"
	TypeTextMessage    FrameType = "text_message"
)

var (
	// ErrMissingType indicates a frame without a type discriminator.
	ErrMissingType = errors.New("protocol: frame has no type")

	// ErrUnexpectedType indicates a typed accessor was used on the wrong frame.
	ErrUnexpectedType = errors.New("protocol: unexpected frame type")
)

// Frame is one discrete protocol message.
type Frame struct {
	Type FrameType
	Raw  json.RawMessage
}

// ParseFrame parses a JSON frame from bytes.
func ParseFrame(data []byte) (Frame, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Frame{}, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}
	if head.Type == "" {
		return Frame{}, ErrMissingType
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Frame{Type: head.Type, Raw: raw}, nil
}

// Decode unmarshals the frame into the provided struct.
func (f Frame) Decode(v any) error {
	if len(f.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(f.Raw, v)
}

// Bytes returns the JSON-encoded frame.
func (f Frame) Bytes() []byte {
	return f.Raw
}

// String is used in logs.
func (f Frame) String() string {
	return string(f.Type)
}

func newFrame(t FrameType, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("protocol: failed to marshal %s: %w", t, err)
	}
	return Frame{Type: t, Raw: data}, nil
}

// Now returns a frame timestamp in the backend's ISO-8601 format.
func Now() string {
	return time.Now().Format("2006-01-02T15:04:05.000000")
}

// =============================================================================
// Server → Client Frame Types
// =============================================================================

// AgentMessage is one agent turn.
type AgentMessage struct {
	Type               FrameType `json:"type"`
	Content            string    `json:"content"`
	Audio              string    `json:"audio,omitempty"` // base64 encoded speech
	Timestamp          string    `json:"timestamp,omitempty"`
	RequiresResponse   bool      `json:"requires_response,omitempty"`
	AwaitingSubmission bool      `json:"awaiting_submission,omitempty"`
	IsFinal            bool      `json:"is_final,omitempty"`
	QuestionNumber     *int      `json:"question_number,omitempty"`
	TotalQuestions     *int      `json:"total_questions,omitempty"`
}

// HasAudio reports whether the agent turn carries speech to play.
func (m *AgentMessage) HasAudio() bool {
	return m.Audio != ""
}

// DecodeAudio decodes the base64 speech payload.
func (m *AgentMessage) DecodeAudio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Audio)
}

// UserMessage echoes the participant utterance as transcribed by the backend.
type UserMessage struct {
	Type      FrameType `json:"type"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// InterviewComplete ends the interview.
type InterviewComplete struct {
	Type            FrameType       `json:"type"`
	Eligibility     json.RawMessage `json:"eligibility,omitempty"`
	ConsentRejected bool            `json:"consent_rejected,omitempty"`
	ParticipantID   string          `json:"participant_id,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	AlreadySaved    bool            `json:"already_saved,omitempty"`
	Timestamp       string          `json:"timestamp,omitempty"`
}

// HasEligibility reports whether an eligibility result is present.
// A missing field and an explicit null both mean "no result".
func (c *InterviewComplete) HasEligibility() bool {
	return len(c.Eligibility) > 0 && string(c.Eligibility) != "null"
}

// ErrorData is an explicit server error.
type ErrorData struct {
	Type      FrameType `json:"type"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// RecordingAck acknowledges start_recording/stop_recording.
type RecordingAck struct {
	Type      FrameType `json:"type"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// =============================================================================
// Client → Server Frame Types
// =============================================================================

// RecordingControl is the body of start_recording and stop_recording.
type RecordingControl struct {
	Type FrameType `json:"type"`
}

// AudioData carries one recorded utterance.
type AudioData struct {
	Type  FrameType `json:"type"`
	Audio string    `json:"audio"` // base64 encoded
}

// TextMessage carries a system-originated request (repeat, submit, consent).
type TextMessage struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content"`
}
