package web

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-screener/pkg/interview"
	"github.com/teslashibe/go-screener/pkg/session"
)

// handleState returns the current snapshot and its derived flags.
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(NewView(s.ctrl.Snapshot()))
}

// handleIntent runs one intent. Rejected intents leave the state
// unchanged and answer 409.
func (s *Server) handleIntent(c *fiber.Ctx) error {
	name := c.Params("name")

	var err error
	if name == "start" {
		err = s.start(c)
	} else {
		err = s.ctrl.Intent(c.UserContext(), name)
	}

	if err != nil {
		status := statusFor(err)
		s.logger.Debug("intent failed", "intent", name, "status", status, "error", err)
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) start(c *fiber.Ctx) error {
	req := s.defaults
	if len(c.Body()) > 0 {
		var body session.StartRequest
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid start request")
		}
		if body.StudyID != "" {
			req.StudyID = body.StudyID
		}
		if body.ParticipantName != "" {
			req.ParticipantName = body.ParticipantName
		}
		if body.ParticipantEmail != "" {
			req.ParticipantEmail = body.ParticipantEmail
		}
	}
	return s.ctrl.Start(c.UserContext(), req)
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, interview.ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, interview.ErrUnknownIntent):
		return fiber.StatusNotFound
	case errors.Is(err, interview.ErrClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusBadGateway
	}
}

// handleStateWS streams snapshots until the observer disconnects.
func (s *Server) handleStateWS(c *websocket.Conn) {
	s.hub.Attach(c).Run()
}
