package interview

import (
	"errors"
	"fmt"
)

// Sentinel errors for the interview package.
var (
	// ErrInvalidState indicates an intent that is not valid right now.
	// The controller state is unchanged when it is returned.
	ErrInvalidState = errors.New("interview: intent not valid in current state")

	// ErrConnectionFailure indicates the session or transport could not open.
	ErrConnectionFailure = errors.New("interview: connection failure")

	// ErrTransportError indicates the transport failed mid-session.
	ErrTransportError = errors.New("interview: transport error")

	// ErrMicrophoneUnavailable indicates recording could not start or stop.
	ErrMicrophoneUnavailable = errors.New("interview: microphone unavailable")

	// ErrServerError indicates an explicit error frame from the backend.
	ErrServerError = errors.New("interview: server error")

	// ErrPlaybackFailure indicates agent speech could not be played.
	ErrPlaybackFailure = errors.New("interview: playback failure")

	// ErrClosed indicates use of a closed controller.
	ErrClosed = errors.New("interview: controller closed")

	// ErrUnknownIntent indicates an intent name Intent does not recognize.
	ErrUnknownIntent = errors.New("interview: unknown intent")

	errPlaybackStuck = errors.New("interview: playback did not stop in time")
)

// FailureKind classifies a recovered failure.
type FailureKind string

const (
	FailureConnection FailureKind = "connection_failure"
	FailureTransport  FailureKind = "transport_error"
	FailureMicrophone FailureKind = "microphone_unavailable"
	FailureServer     FailureKind = "server_error"
	FailurePlayback   FailureKind = "playback_failure"
)

func (k FailureKind) sentinel() error {
	switch k {
	case FailureConnection:
		return ErrConnectionFailure
	case FailureTransport:
		return ErrTransportError
	case FailureMicrophone:
		return ErrMicrophoneUnavailable
	case FailureServer:
		return ErrServerError
	case FailurePlayback:
		return ErrPlaybackFailure
	default:
		return nil
	}
}

// Failure is the latest user-visible failure signal.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Cause   error       `json:"-"`
}

func newFailure(kind FailureKind, cause error) *Failure {
	f := &Failure{Kind: kind, Cause: cause}
	if cause != nil {
		f.Message = cause.Error()
	}
	return f
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Message == "" {
		return fmt.Sprintf("interview: %s", f.Kind)
	}
	return fmt.Sprintf("interview: %s: %s", f.Kind, f.Message)
}

// Is matches the taxonomy sentinel for the failure kind.
func (f *Failure) Is(target error) bool {
	return target != nil && target == f.Kind.sentinel()
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Cause
}

func rejected(intent string, s *State) error {
	return fmt.Errorf("%w: %s during %s/%s", ErrInvalidState, intent, s.Phase, s.Turn)
}
