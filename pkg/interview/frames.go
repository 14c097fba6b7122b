package interview

import (
	"context"
	"errors"

	"github.com/teslashibe/go-screener/pkg/protocol"
	"github.com/teslashibe/go-screener/pkg/session"
)

// HandleFrame applies one inbound frame. Frames are handled in the order
// they are delivered.
func (c *Controller) HandleFrame(f protocol.Frame) {
	c.metrics.FrameReceived(string(f.Type))

	c.mu.Lock()
	if c.closed || c.st.Phase == PhaseNotStarted {
		c.mu.Unlock()
		c.logger.Debug("ignoring frame outside a session", "type", f.Type)
		return
	}

	var err error
	switch f.Type {
	case protocol.TypeAgentMessage:
		err = c.onAgentMessage(f)
	case protocol.TypeUserMessage:
		err = c.onUserMessage(f)
	case protocol.TypeInterviewComplete:
		err = c.onInterviewComplete(f)
	case protocol.TypeError:
		err = c.onServerError(f)
	case protocol.TypeRecordingStarted, protocol.TypeRecordingStopped:
		c.logger.Debug("recording acknowledged", "type", f.Type)
	default:
		c.logger.Warn("unknown frame type", "type", f.Type)
	}
	if err != nil {
		c.logger.Warn("malformed frame", "type", f.Type, "error", err)
	}
	c.commit()
}

func (c *Controller) onAgentMessage(f protocol.Frame) error {
	msg, err := f.AgentMessage()
	if err != nil {
		return err
	}
	if c.st.Phase == PhaseCompleted {
		c.logger.Debug("agent message after completion", "content_len", len(msg.Content))
		return nil
	}

	c.stopPlayback()
	c.abortRecording()

	if c.st.Phase == PhaseStarting {
		c.st.Phase = PhaseConsent
	}
	c.st.AgentTurns++

	if msg.QuestionNumber != nil {
		qn := *msg.QuestionNumber
		c.st.QuestionNumber = qn
		c.metrics.SetQuestionNumber(qn)

		if c.st.Phase == PhaseConsent && qn >= 1 {
			c.st.Phase = PhaseQuestioning
			c.st.Mode = ModeAnswering
		}

		if c.st.Mode == ModeJustRepeatedLast {
			switch {
			case c.repeatAnchor < 0:
				c.repeatAnchor = qn
			case qn > c.repeatAnchor:
				c.st.Mode = ModeAnswering
			}
		}
	}
	if msg.TotalQuestions != nil {
		c.st.TotalQuestions = *msg.TotalQuestions
	}

	if c.st.Phase == PhaseQuestioning {
		switch {
		case msg.AwaitingSubmission:
			c.st.Mode = ModeAwaitingSubmission
		case c.st.Mode == ModeAwaitingSubmission, c.st.Mode == ModeSubmitted:
			c.st.Mode = ModeAnswering
		}
	}

	c.st.Transcript.append(agentMessage(msg))

	if msg.IsFinal {
		c.st.Phase = PhaseCompleted
		c.st.Mode = ModeNone
	}

	c.handover = (msg.RequiresResponse || msg.AwaitingSubmission) && c.st.active()
	c.changed()

	if msg.HasAudio() {
		c.startPlayback(msg.Audio)
		return nil
	}
	c.st.Turn = c.afterAgentTurn()
	return nil
}

func (c *Controller) onUserMessage(f protocol.Frame) error {
	msg, err := f.UserMessage()
	if err != nil {
		return err
	}
	if !c.st.active() {
		return nil
	}

	echo := c.systemRequest
	c.systemRequest = false

	origin := OriginParticipant
	if echo {
		origin = OriginSystem
	}
	m := userMessage(msg, origin)
	c.st.Transcript.append(m)
	if !echo {
		c.st.PendingConfirmation = m.ID
	}

	if c.st.Turn == TurnProcessing {
		c.st.Turn = TurnIdle
	}
	c.changed()
	return nil
}

func (c *Controller) onInterviewComplete(f protocol.Frame) error {
	done, err := f.InterviewComplete()
	if err != nil {
		return err
	}
	if c.completeSeen {
		c.logger.Debug("duplicate interview_complete")
		return nil
	}
	c.completeSeen = true

	c.abortRecording()

	c.st.Phase = PhaseCompleted
	c.st.Mode = ModeNone
	c.handover = false
	c.systemRequest = false
	if c.st.Turn != TurnAgentSpeaking {
		c.st.Turn = TurnIdle
	}
	if done.HasEligibility() {
		c.st.Eligibility = append([]byte(nil), done.Eligibility...)
	}
	c.st.ConsentRejected = done.ConsentRejected
	c.changed()

	outcome := session.ExitInterviewCompleted
	switch {
	case done.ConsentRejected:
		outcome = session.ExitConsentRejected
	case !done.HasEligibility():
		outcome = session.ExitConsentAbandoned
	}
	c.metrics.SessionEnded(outcome)
	c.logger.Info("interview complete", "outcome", outcome, "question_number", c.st.QuestionNumber)

	if !done.AlreadySaved {
		c.reportProgress(outcome)
	}
	return nil
}

func (c *Controller) onServerError(f protocol.Frame) error {
	data, err := f.ServerError()
	if err != nil {
		return err
	}

	c.stopPlayback()
	c.abortRecording()
	c.systemRequest = false

	c.fail(FailureServer, errors.New(data.Content))
	if c.st.active() {
		c.st.Turn = TurnAwaitingAnswer
	} else {
		c.st.Turn = TurnIdle
	}
	return nil
}

// HandleConnectionError records a terminal transport failure. Recording
// and playback stay frozen until Reset.
func (c *Controller) HandleConnectionError(err error) {
	c.mu.Lock()
	if c.closed || c.st.Phase == PhaseNotStarted || c.st.Phase == PhaseCompleted {
		c.mu.Unlock()
		return
	}

	c.stopPlayback()
	c.abortRecording()
	c.systemRequest = false

	c.st.ConnectionLost = true
	c.fail(FailureTransport, err)
	if c.st.active() {
		c.st.Turn = TurnAwaitingAnswer
	} else {
		c.st.Turn = TurnIdle
	}
	c.metrics.SessionEnded(session.ExitConnectionLost)
	c.reportProgress(session.ExitConnectionLost)
	c.commit()
}

// reportProgress saves the transcript in the background. Caller holds c.mu.
func (c *Controller) reportProgress(exit string) {
	if c.progress == nil {
		return
	}

	report := session.ProgressReport{
		ExitReason:        exit,
		ConversationState: string(c.st.Phase),
		Messages:          make([]session.ProgressMessage, 0, len(c.st.Transcript)),
	}
	if s := c.st.Session; s != nil {
		report.SessionID = s.ID
		report.ParticipantID = s.ParticipantID
		report.StudyID = s.StudyID
	}
	for _, m := range c.st.Transcript {
		report.Messages = append(report.Messages, session.ProgressMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}

	c.reports.Add(1)
	go func() {
		defer c.reports.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.cfg.ProgressTimeout)
		defer cancel()
		if err := c.progress.ReportProgress(ctx, report); err != nil {
			c.logger.Warn("progress report failed", "exit_reason", exit, "error", err)
		}
	}()
}
