package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/teslashibe/go-screener/internal/httpc"
)

// ErrInvalidResponse indicates the backend answered with an unusable body.
var ErrInvalidResponse = errors.New("session: invalid response")

// APIError represents a non-2xx answer from the backend.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the backend's error detail, or the raw body.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("session: API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the request can be retried.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newAPIError(resp *httpc.Response) *APIError {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(resp.Body))
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if body.Detail != "" {
			msg = body.Detail
		} else if body.Message != "" {
			msg = body.Message
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// StartRequest asks the backend for a new interview session.
type StartRequest struct {
	StudyID          string `json:"study_id"`
	ParticipantName  string `json:"participant_name,omitempty"`
	ParticipantEmail string `json:"participant_email,omitempty"`
}

// Session identifies one interview instance. Immutable once created.
type Session struct {
	ID            string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	CreatedAt     string `json:"created_at"`
	StudyID       string `json:"study_id,omitempty"`
}

// Exit reasons accepted by the progress endpoint.
const (
	ExitInterviewStarted   = "interview_started"
	ExitInterviewCompleted = "interview_completed"
	ExitConsentAbandoned   = "consent_abandoned"
	ExitConsentRejected    = "consent_rejected"
	ExitUserInitiated      = "user_initiated"
	ExitConnectionLost     = "connection_lost"
	ExitPageRefresh        = "page_refresh"
)

// ProgressMessage is one transcript entry in a progress report.
type ProgressMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ProgressReport saves a partial or final transcript.
type ProgressReport struct {
	SessionID         string            `json:"session_id"`
	ParticipantID     string            `json:"participant_id"`
	StudyID           string            `json:"study_id"`
	ExitReason        string            `json:"exit_reason"`
	ConversationState string            `json:"conversation_state"`
	Messages          []ProgressMessage `json:"messages"`
}

// Client talks to the backend's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL. A nil hc uses the shared client.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = httpc.Client
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

// StartSession creates a session.
func (c *Client) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	if req.StudyID == "" {
		return nil, ErrMissingStudyID
	}

	resp, err := httpc.PostJSON(ctx, c.http, c.baseURL+"/api/sessions/start", req)
	if err != nil {
		return nil, fmt.Errorf("session: start: %w", err)
	}
	if !resp.OK() {
		return nil, newAPIError(resp)
	}

	var sess Session
	if err := resp.Decode(&sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("%w: missing session_id", ErrInvalidResponse)
	}
	sess.StudyID = req.StudyID
	return &sess, nil
}

// SaveProgress stores a progress report.
func (c *Client) SaveProgress(ctx context.Context, report ProgressReport) error {
	resp, err := httpc.PostJSON(ctx, c.http, c.baseURL+"/api/interviews/save-progress", report)
	if err != nil {
		return fmt.Errorf("session: save progress: %w", err)
	}
	if !resp.OK() {
		return newAPIError(resp)
	}
	return nil
}

// WebSocketURL derives the interview socket address from the HTTP base URL.
func WebSocketURL(baseURL, sessionID, studyID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("session: invalid backend url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("session: unsupported backend scheme %q", u.Scheme)
	}

	return u.JoinPath("ws", sessionID, studyID).String(), nil
}
