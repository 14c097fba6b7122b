package interview

import (
	"context"

	"github.com/teslashibe/go-screener/pkg/protocol"
)

// lockFor takes c.mu and reports whether the intent may run. A rejected
// intent leaves the state untouched and the lock released.
func (c *Controller) lockFor(intent string, allowed func(State) bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !allowed(c.st) {
		err := rejected(intent, &c.st)
		c.mu.Unlock()
		c.metrics.Intent(intent, false)
		c.logger.Debug("intent rejected", "intent", intent, "error", err)
		return err
	}
	c.metrics.Intent(intent, true)
	return nil
}

// send writes a frame to the backend. Caller holds c.mu.
func (c *Controller) send(f protocol.Frame, err error) error {
	if err != nil {
		return err
	}
	if err := c.connector.Send(f); err != nil {
		return err
	}
	c.metrics.FrameSent(string(f.Type))
	return nil
}

// InterruptAgent stops agent speech immediately. The turn moves on as if
// playback had completed. A second call is rejected.
func (c *Controller) InterruptAgent() error {
	if err := c.lockFor("interrupt", State.CanInterruptSpeech); err != nil {
		return err
	}

	c.stopPlayback()
	c.st.Turn = c.afterAgentTurn()
	c.changed()
	c.commit()
	return nil
}

// BeginUserTurn starts recording the participant's answer.
func (c *Controller) BeginUserTurn(ctx context.Context) error {
	if err := c.lockFor("begin_turn", State.CanBeginTurn); err != nil {
		return err
	}
	defer c.commit()

	// Playback must be fully released before the microphone opens.
	if err := c.waitPlaybackDrained(); err != nil {
		return c.fail(FailurePlayback, err)
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.AudioTimeout)
	defer cancel()
	if err := c.audio.StartRecording(actx); err != nil {
		return c.fail(FailureMicrophone, err)
	}

	if err := c.send(protocol.NewStartRecordingFrame()); err != nil {
		c.st.Turn = TurnRecording
		c.abortRecording()
		c.st.Turn = TurnAwaitingAnswer
		return c.fail(FailureTransport, err)
	}

	c.st.PendingConfirmation = ""
	c.st.Turn = TurnRecording
	c.changed()
	return nil
}

// EndUserTurn stops recording and forwards the audio to the backend.
func (c *Controller) EndUserTurn(ctx context.Context) error {
	if err := c.lockFor("end_turn", State.CanEndTurn); err != nil {
		return err
	}
	defer c.commit()

	actx, cancel := context.WithTimeout(ctx, c.cfg.AudioTimeout)
	defer cancel()
	encoded, err := c.audio.StopRecording(actx)
	if err != nil {
		c.st.Turn = TurnAwaitingAnswer
		return c.fail(FailureMicrophone, err)
	}

	if err := c.send(protocol.NewStopRecordingFrame()); err != nil {
		c.st.Turn = TurnAwaitingAnswer
		return c.fail(FailureTransport, err)
	}
	if err := c.send(protocol.NewAudioDataFrame(encoded)); err != nil {
		c.st.Turn = TurnAwaitingAnswer
		return c.fail(FailureTransport, err)
	}

	c.st.Turn = TurnProcessing
	c.changed()
	return nil
}

// sendSystem sends a system-originated request. Its echo will not be
// offered for confirmation. Caller holds c.mu.
func (c *Controller) sendSystem(content string) error {
	c.stopPlayback()

	c.systemRequest = true
	if err := c.send(protocol.NewTextMessageFrame(content)); err != nil {
		c.systemRequest = false
		if c.st.Turn == TurnAgentSpeaking {
			c.st.Turn = c.afterAgentTurn()
		}
		return c.fail(FailureTransport, err)
	}

	c.st.Turn = TurnProcessing
	c.changed()
	return nil
}

// RequestRepeatCurrent asks the agent to repeat the current question.
func (c *Controller) RequestRepeatCurrent() error {
	if err := c.lockFor("repeat_current", State.CanRepeatCurrent); err != nil {
		return err
	}
	defer c.commit()
	return c.sendSystem(TextRepeatCurrent)
}

// RequestRepeatLast asks the agent to go back to the previous question.
// A pending answer is retracted first.
func (c *Controller) RequestRepeatLast() error {
	if err := c.lockFor("repeat_last", State.CanRepeatLast); err != nil {
		return err
	}
	defer c.commit()

	if id := c.st.PendingConfirmation; id != "" {
		if m, ok := c.st.Transcript.Find(id); ok && c.st.Transcript.retract(id) {
			c.logger.Debug("retracted pending answer", "message_id", id, "content_len", len(m.Content))
		}
		c.st.PendingConfirmation = ""
		c.changed()
	}

	if err := c.sendSystem(TextRepeatLast); err != nil {
		return err
	}
	c.st.Mode = ModeJustRepeatedLast
	c.repeatAnchor = -1
	return nil
}

// Submit sends the participant's final submission.
func (c *Controller) Submit() error {
	if err := c.lockFor("submit", State.CanSubmit); err != nil {
		return err
	}
	defer c.commit()

	if err := c.sendSystem(TextSubmit); err != nil {
		return err
	}
	c.st.Mode = ModeSubmitted
	return nil
}

// ProceedWithConsent tells the agent the participant consents.
func (c *Controller) ProceedWithConsent() error {
	if err := c.lockFor("consent", State.CanConsent); err != nil {
		return err
	}
	defer c.commit()
	return c.sendSystem(TextConsent)
}

// ConfirmTranscription acknowledges the pending answer.
func (c *Controller) ConfirmTranscription() error {
	if err := c.lockFor("confirm", State.ShowTranscriptionConfirm); err != nil {
		return err
	}
	c.st.PendingConfirmation = ""
	c.changed()
	c.commit()
	return nil
}

// Intent runs a named intent. It backs presentation layers that address
// intents by name.
func (c *Controller) Intent(ctx context.Context, name string) error {
	switch name {
	case "interrupt":
		return c.InterruptAgent()
	case "begin-turn":
		return c.BeginUserTurn(ctx)
	case "end-turn":
		return c.EndUserTurn(ctx)
	case "repeat-current":
		return c.RequestRepeatCurrent()
	case "repeat-last":
		return c.RequestRepeatLast()
	case "submit":
		return c.Submit()
	case "consent":
		return c.ProceedWithConsent()
	case "confirm":
		return c.ConfirmTranscription()
	case "reset":
		return c.Reset()
	default:
		return ErrUnknownIntent
	}
}
