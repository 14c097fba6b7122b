package backendsim

import (
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-screener/pkg/protocol"
)

// conn is one participant connection. Only its read loop writes, so
// frames leave in the order the script produces them.
type conn struct {
	srv       *Server
	ws        *websocket.Conn
	sessionID string
	script    *script
	logger    *slog.Logger
}

func (s *Server) handleInterview(ws *websocket.Conn) {
	id := ws.Params("session_id")
	c := &conn{
		srv:       s,
		ws:        ws,
		sessionID: id,
		script:    newScript(s.cfg.Questions, s.cfg.Speech),
		logger:    s.logger.With("session_id", id),
	}

	c.logger.Info("participant connected")
	defer c.logger.Info("participant disconnected")

	greeting := c.script.greeting()
	if err := c.sendAgent(greeting); err != nil {
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.logger.Debug("read ended", "error", err)
			return
		}
		s.framesReceived.Add(1)

		f, err := protocol.ParseFrame(data)
		if err != nil {
			c.logger.Warn("parse error", "error", err)
			continue
		}
		if err := c.handle(f); err != nil {
			c.logger.Warn("write failed", "error", err)
			return
		}
	}
}

func (c *conn) handle(f protocol.Frame) error {
	switch f.Type {
	case protocol.TypeStartRecording, protocol.TypeStopRecording:
		ack := protocol.TypeRecordingStarted
		if f.Type == protocol.TypeStopRecording {
			ack = protocol.TypeRecordingStopped
		}
		out, err := protocol.NewRecordingAckFrame(ack)
		if err != nil {
			return err
		}
		return c.send(out)

	case protocol.TypeAudioData:
		data, err := f.AudioData()
		if err != nil {
			return c.sendError("Error processing audio. Please try again.")
		}
		text := Transcribe(data.Audio)
		if text == "" {
			return c.sendError(NotUnderstood)
		}
		return c.turn(text)

	case protocol.TypeTextMessage:
		msg, err := f.TextMessage()
		if err != nil || msg.Content == "" {
			return c.sendError("Error processing your response. Please try again.")
		}
		return c.turn(msg.Content)

	default:
		c.logger.Debug("ignoring frame", "type", f.Type)
		return nil
	}
}

// turn echoes the participant's text, then sends the scripted reply.
func (c *conn) turn(text string) error {
	echo, err := protocol.NewUserMessageFrame(text)
	if err != nil {
		return err
	}
	if err := c.send(echo); err != nil {
		return err
	}

	if d := c.srv.cfg.ReplyDelay; d > 0 {
		time.Sleep(d)
	}

	r := c.script.respond(text)
	if r.agent != nil {
		if err := c.sendAgent(*r.agent); err != nil {
			return err
		}
	}
	if r.complete == nil {
		return nil
	}

	done := *r.complete
	done.SessionID = c.sessionID
	var eligibility any
	if r.result != nil {
		eligibility = r.result
	}

	c.srv.mu.Lock()
	if rec, ok := c.srv.sessions[c.sessionID]; ok {
		rec.result = r.result
		done.ParticipantID = rec.session.ParticipantID
	}
	c.srv.mu.Unlock()

	out, err := protocol.NewInterviewCompleteFrame(eligibility, done)
	if err != nil {
		return err
	}
	c.logger.Info("interview complete", "consent_rejected", done.ConsentRejected)
	return c.send(out)
}

func (c *conn) sendAgent(msg protocol.AgentMessage) error {
	f, err := protocol.NewAgentMessageFrame(msg)
	if err != nil {
		return err
	}
	return c.send(f)
}

func (c *conn) sendError(content string) error {
	f, err := protocol.NewErrorFrame(content)
	if err != nil {
		return err
	}
	return c.send(f)
}

func (c *conn) send(f protocol.Frame) error {
	if err := c.ws.WriteMessage(websocket.TextMessage, f.Bytes()); err != nil {
		return err
	}
	c.srv.framesSent.Add(1)
	return nil
}
