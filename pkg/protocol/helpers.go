package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// =============================================================================
// Helper functions for creating frames
// =============================================================================

// NewStartRecordingFrame tells the backend the participant started speaking.
func NewStartRecordingFrame() (Frame, error) {
	return newFrame(TypeStartRecording, RecordingControl{Type: TypeStartRecording})
}

// NewStopRecordingFrame tells the backend the participant finished speaking.
func NewStopRecordingFrame() (Frame, error) {
	return newFrame(TypeStopRecording, RecordingControl{Type: TypeStopRecording})
}

// NewAudioDataFrame creates an audio_data frame from base64 encoded audio.
func NewAudioDataFrame(encoded string) (Frame, error) {
	return newFrame(TypeAudioData, AudioData{Type: TypeAudioData, Audio: encoded})
}

// NewTextMessageFrame creates a text_message frame.
func NewTextMessageFrame(content string) (Frame, error) {
	return newFrame(TypeTextMessage, TextMessage{Type: TypeTextMessage, Content: content})
}

// NewAgentMessageFrame creates an agent_message frame.
func NewAgentMessageFrame(msg AgentMessage) (Frame, error) {
	msg.Type = TypeAgentMessage
	if msg.Timestamp == "" {
		msg.Timestamp = Now()
	}
	return newFrame(TypeAgentMessage, msg)
}

// NewSpokenAgentMessage builds an agent message whose audio is the raw
// speech bytes, base64 encoded.
func NewSpokenAgentMessage(content string, speech []byte) AgentMessage {
	msg := AgentMessage{Content: content}
	if len(speech) > 0 {
		msg.Audio = base64.StdEncoding.EncodeToString(speech)
	}
	return msg
}

// NewUserMessageFrame creates a user_message frame.
func NewUserMessageFrame(content string) (Frame, error) {
	return newFrame(TypeUserMessage, UserMessage{
		Type:      TypeUserMessage,
		Content:   content,
		Timestamp: Now(),
	})
}

// NewInterviewCompleteFrame creates an interview_complete frame.
// A nil eligibility is encoded as an explicit null.
func NewInterviewCompleteFrame(eligibility any, done InterviewComplete) (Frame, error) {
	done.Type = TypeInterviewComplete
	if done.Timestamp == "" {
		done.Timestamp = Now()
	}
	if eligibility == nil {
		done.Eligibility = json.RawMessage("null")
	} else {
		data, err := json.Marshal(eligibility)
		if err != nil {
			return Frame{}, fmt.Errorf("protocol: failed to marshal eligibility: %w", err)
		}
		done.Eligibility = data
	}
	return newFrame(TypeInterviewComplete, done)
}

// NewErrorFrame creates an error frame.
func NewErrorFrame(content string) (Frame, error) {
	return newFrame(TypeError, ErrorData{Type: TypeError, Content: content, Timestamp: Now()})
}

// NewRecordingAckFrame creates a recording_started or recording_stopped frame.
func NewRecordingAckFrame(t FrameType) (Frame, error) {
	if t != TypeRecordingStarted && t != TypeRecordingStopped {
		return Frame{}, fmt.Errorf("%w: %s is not a recording ack", ErrUnexpectedType, t)
	}
	return newFrame(t, RecordingAck{Type: t, Timestamp: Now()})
}

// =============================================================================
// Helper functions for parsing frames
// =============================================================================

func decodeAs[T any](f Frame, want FrameType) (*T, error) {
	if f.Type != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedType, f.Type, want)
	}
	var data T
	if err := f.Decode(&data); err != nil {
		return nil, fmt.Errorf("protocol: failed to decode %s: %w", want, err)
	}
	return &data, nil
}

// AgentMessage extracts the agent_message payload.
func (f Frame) AgentMessage() (*AgentMessage, error) {
	return decodeAs[AgentMessage](f, TypeAgentMessage)
}

// UserMessage extracts the user_message payload.
func (f Frame) UserMessage() (*UserMessage, error) {
	return decodeAs[UserMessage](f, TypeUserMessage)
}

// InterviewComplete extracts the interview_complete payload.
func (f Frame) InterviewComplete() (*InterviewComplete, error) {
	return decodeAs[InterviewComplete](f, TypeInterviewComplete)
}

// ServerError extracts the error payload.
func (f Frame) ServerError() (*ErrorData, error) {
	return decodeAs[ErrorData](f, TypeError)
}

// AudioData extracts the audio_data payload.
func (f Frame) AudioData() (*AudioData, error) {
	return decodeAs[AudioData](f, TypeAudioData)
}

// DecodeAudio decodes the base64 audio payload.
func (a *AudioData) DecodeAudio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Audio)
}

// TextMessage extracts the text_message payload.
func (f Frame) TextMessage() (*TextMessage, error) {
	return decodeAs[TextMessage](f, TypeTextMessage)
}

// Int returns a pointer to v, for optional numeric fields.
func Int(v int) *int {
	return &v
}
