package interview

import (
	"encoding/json"
	"slices"

	"github.com/teslashibe/go-screener/pkg/session"
)

// Phase is the conversation state. Exactly one is active.
type Phase string

const (
	PhaseNotStarted  Phase = "not_started"
	PhaseStarting    Phase = "starting"
	PhaseConsent     Phase = "consent"
	PhaseQuestioning Phase = "questioning"
	PhaseCompleted   Phase = "completed"
)

// Turn is who holds the floor inside a phase.
//
// Recording and playback are only ever active in TurnRecording and
// TurnAgentSpeaking respectively, so they cannot overlap.
type Turn string

const (
	// TurnIdle waits for the next inbound frame.
	TurnIdle Turn = "idle"
	// TurnAgentSpeaking plays agent speech; it can be interrupted.
	TurnAgentSpeaking Turn = "agent_speaking"
	// TurnAwaitingAnswer hands the floor to the participant.
	TurnAwaitingAnswer Turn = "awaiting_answer"
	// TurnRecording captures the participant's answer.
	TurnRecording Turn = "recording"
	// TurnProcessing waits for the backend to answer an outbound request.
	TurnProcessing Turn = "processing"
)

// Mode refines the questioning phase. It is ModeNone outside questioning.
type Mode string

const (
	ModeNone               Mode = ""
	ModeAnswering          Mode = "answering"
	ModeAwaitingSubmission Mode = "awaiting_submission"
	ModeJustRepeatedLast   Mode = "just_repeated_last"
	// ModeSubmitted follows a submit request until the next agent frame.
	ModeSubmitted Mode = "submitted"
)

// State is a read-only snapshot of the controller.
type State struct {
	Phase Phase `json:"phase"`
	Turn  Turn  `json:"turn"`
	Mode  Mode  `json:"mode,omitempty"`

	Session *session.Session `json:"session,omitempty"`

	// QuestionNumber is the last value supplied by the backend.
	QuestionNumber int `json:"question_number"`
	TotalQuestions int `json:"total_questions,omitempty"`

	// AgentTurns counts agent messages received this session.
	AgentTurns int `json:"agent_turns"`

	Transcript Transcript `json:"transcript"`

	// PendingConfirmation is the id of the participant answer awaiting
	// acknowledgment, if any.
	PendingConfirmation string `json:"pending_confirmation,omitempty"`

	ConnectionLost bool     `json:"connection_lost"`
	LastFailure    *Failure `json:"last_failure,omitempty"`

	Eligibility     json.RawMessage `json:"eligibility,omitempty"`
	ConsentRejected bool            `json:"consent_rejected,omitempty"`

	// Version increases with every committed transition.
	Version uint64 `json:"version"`
}

func initialState() State {
	return State{Phase: PhaseNotStarted, Turn: TurnIdle}
}

func (s State) clone() State {
	s.Transcript = slices.Clone(s.Transcript)
	s.Eligibility = slices.Clone(s.Eligibility)
	if s.Session != nil {
		sess := *s.Session
		s.Session = &sess
	}
	if s.LastFailure != nil {
		f := *s.LastFailure
		s.LastFailure = &f
	}
	return s
}

func (s State) active() bool {
	return s.Phase == PhaseConsent || s.Phase == PhaseQuestioning
}

// floorFree is true when no recording or request is outstanding.
func (s State) floorFree() bool {
	switch s.Turn {
	case TurnAgentSpeaking, TurnAwaitingAnswer, TurnIdle:
		return true
	}
	return false
}

// WaitingForUser reports that the participant holds the floor.
func (s State) WaitingForUser() bool { return s.Turn == TurnAwaitingAnswer }

// IsAgentSpeaking reports that agent speech is playing.
func (s State) IsAgentSpeaking() bool { return s.Turn == TurnAgentSpeaking }

// CanInterruptSpeech is true only while agent speech is playing.
func (s State) CanInterruptSpeech() bool { return s.Turn == TurnAgentSpeaking }

// IsRecording reports an active recording.
func (s State) IsRecording() bool { return s.Turn == TurnRecording }

// IsProcessing reports an outstanding request to the backend.
func (s State) IsProcessing() bool { return s.Turn == TurnProcessing }

// AwaitingSubmission is true on the final question.
func (s State) AwaitingSubmission() bool {
	return s.Phase == PhaseQuestioning && s.Mode == ModeAwaitingSubmission
}

// JustRepeatedLastQuestion suppresses a second repeat-last request.
func (s State) JustRepeatedLastQuestion() bool {
	return s.Phase == PhaseQuestioning && s.Mode == ModeJustRepeatedLast
}

// ShowTranscriptionConfirm reports a confirmable participant answer.
func (s State) ShowTranscriptionConfirm() bool { return s.PendingConfirmation != "" }

// CanBeginTurn reports whether recording may start.
func (s State) CanBeginTurn() bool {
	return s.active() && s.Turn == TurnAwaitingAnswer && !s.ConnectionLost
}

// CanEndTurn reports whether a recording can be finished.
func (s State) CanEndTurn() bool { return s.Turn == TurnRecording }

// CanRepeatCurrent reports whether the current question can be repeated.
func (s State) CanRepeatCurrent() bool {
	return s.active() && s.AgentTurns > 0 && s.floorFree() && !s.ConnectionLost
}

// CanRepeatLast reports whether the previous question can be requested.
func (s State) CanRepeatLast() bool {
	return s.Phase == PhaseQuestioning &&
		s.Mode == ModeAnswering &&
		s.QuestionNumber > 1 &&
		s.floorFree() &&
		!s.ConnectionLost
}

// CanSubmit reports whether responses can be submitted.
func (s State) CanSubmit() bool {
	return s.AwaitingSubmission() && s.floorFree() && !s.ConnectionLost
}

// CanConsent reports whether the participant can proceed past consent.
func (s State) CanConsent() bool {
	return s.Phase == PhaseConsent && s.AgentTurns > 0 && s.floorFree() && !s.ConnectionLost
}

// ConsentGiven reports a completed interview with an eligibility result.
// A completed interview without one means consent was not given.
func (s State) ConsentGiven() bool {
	return s.Phase == PhaseCompleted && len(s.Eligibility) > 0
}

// Flags is the derived view of a State for presentation.
type Flags struct {
	WaitingForUser           bool `json:"waiting_for_user"`
	IsAgentSpeaking          bool `json:"is_agent_speaking"`
	CanInterruptSpeech       bool `json:"can_interrupt_speech"`
	IsRecording              bool `json:"is_recording"`
	IsProcessing             bool `json:"is_processing"`
	AwaitingSubmission       bool `json:"awaiting_submission"`
	JustRepeatedLastQuestion bool `json:"just_repeated_last_question"`
	ShowTranscriptionConfirm bool `json:"show_transcription_confirm"`
	CanBeginTurn             bool `json:"can_begin_turn"`
	CanEndTurn               bool `json:"can_end_turn"`
	CanRepeatCurrent         bool `json:"can_repeat_current"`
	CanRepeatLast            bool `json:"can_repeat_last"`
	CanSubmit                bool `json:"can_submit"`
	CanConsent               bool `json:"can_consent"`
	ConsentGiven             bool `json:"consent_given"`
}

// Flags computes the derived view.
func (s State) Flags() Flags {
	return Flags{
		WaitingForUser:           s.WaitingForUser(),
		IsAgentSpeaking:          s.IsAgentSpeaking(),
		CanInterruptSpeech:       s.CanInterruptSpeech(),
		IsRecording:              s.IsRecording(),
		IsProcessing:             s.IsProcessing(),
		AwaitingSubmission:       s.AwaitingSubmission(),
		JustRepeatedLastQuestion: s.JustRepeatedLastQuestion(),
		ShowTranscriptionConfirm: s.ShowTranscriptionConfirm(),
		CanBeginTurn:             s.CanBeginTurn(),
		CanEndTurn:               s.CanEndTurn(),
		CanRepeatCurrent:         s.CanRepeatCurrent(),
		CanRepeatLast:            s.CanRepeatLast(),
		CanSubmit:                s.CanSubmit(),
		CanConsent:               s.CanConsent(),
		ConsentGiven:             s.ConsentGiven(),
	}
}
