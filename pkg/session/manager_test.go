package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/teslashibe/go-screener/internal/log"
	"github.com/teslashibe/go-screener/pkg/protocol"
	"github.com/teslashibe/go-screener/pkg/transport"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames []protocol.FrameType
	errs   []error
}

func (h *recordingHandler) HandleFrame(f protocol.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, f.Type)
}

func (h *recordingHandler) HandleConnectionError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) errCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errs)
}

func bootstrapServer(t *testing.T, progress chan<- ProgressReport) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/start", func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.StudyID == "missing" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Study not found"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"session_id":     "sess-1",
			"participant_id": "part-1",
			"created_at":     "2026-01-01T00:00:00",
		})
	})
	mux.HandleFunc("POST /api/interviews/save-progress", func(w http.ResponseWriter, r *http.Request) {
		var report ProgressReport
		json.NewDecoder(r.Body).Decode(&report)
		if progress != nil {
			progress <- report
		}
		w.Write([]byte(`{"status":"saved"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws/s1/st1"},
		{"https://api.example.com/", "wss://api.example.com/ws/s1/st1"},
		{"https://api.example.com/screener", "wss://api.example.com/screener/ws/s1/st1"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := WebSocketURL(tt.base, "s1", "st1")
			if err != nil {
				t.Fatalf("WebSocketURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("WebSocketURL() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := WebSocketURL("ftp://x", "s", "t"); err == nil {
		t.Error("ftp scheme should be rejected")
	}
}

func TestManager_OpenRoutesFrames(t *testing.T) {
	srv := bootstrapServer(t, nil)
	dialer := transport.NewMockDialer()
	m := NewManager(srv.URL, WithDialer(dialer), WithLogger(log.Discard()))

	h := &recordingHandler{}
	sess, err := m.Open(context.Background(), StartRequest{StudyID: "study-1"}, h)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if sess.ID != "sess-1" || sess.ParticipantID != "part-1" || sess.StudyID != "study-1" {
		t.Errorf("session = %+v", sess)
	}

	mock := dialer.Last()
	if want := "ws" + srv.URL[len("http"):] + "/ws/sess-1/study-1"; mock.URL != want {
		t.Errorf("dialed %q, want %q", mock.URL, want)
	}

	f, _ := protocol.NewAgentMessageFrame(protocol.AgentMessage{Content: "hi"})
	mock.SimulateFrame(f)
	if len(h.frames) != 1 || h.frames[0] != protocol.TypeAgentMessage {
		t.Errorf("frames = %v", h.frames)
	}

	start, _ := protocol.NewStartRecordingFrame()
	if err := m.Send(start); err != nil {
		t.Errorf("Send() error = %v", err)
	}
	if len(mock.Sent()) != 1 {
		t.Errorf("sent %d frames, want 1", len(mock.Sent()))
	}
}

func TestManager_OneTransportPerSession(t *testing.T) {
	srv := bootstrapServer(t, nil)
	dialer := transport.NewMockDialer()
	m := NewManager(srv.URL, WithDialer(dialer), WithLogger(log.Discard()))

	h := &recordingHandler{}
	if _, err := m.Open(context.Background(), StartRequest{StudyID: "s"}, h); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := m.Open(context.Background(), StartRequest{StudyID: "s"}, h); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open() error = %v, want ErrAlreadyOpen", err)
	}
	if dialer.Dials() != 1 {
		t.Errorf("Dials() = %d, want 1", dialer.Dials())
	}

	m.Close()
	if _, err := m.Open(context.Background(), StartRequest{StudyID: "s"}, h); err != nil {
		t.Errorf("Open() after Close error = %v", err)
	}
}

func TestManager_SingleConnectionError(t *testing.T) {
	srv := bootstrapServer(t, nil)
	dialer := transport.NewMockDialer()
	m := NewManager(srv.URL, WithDialer(dialer), WithLogger(log.Discard()))

	h := &recordingHandler{}
	if _, err := m.Open(context.Background(), StartRequest{StudyID: "s"}, h); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	mock := dialer.Last()
	mock.SimulateClose(transport.ErrClosedByPeer)
	mock.SimulateClose(transport.ErrClosedByPeer)

	if h.errCount() != 1 {
		t.Errorf("connection errors = %d, want 1", h.errCount())
	}
}

func TestManager_CloseSuppressesSignal(t *testing.T) {
	srv := bootstrapServer(t, nil)
	dialer := transport.NewMockDialer()
	m := NewManager(srv.URL, WithDialer(dialer), WithLogger(log.Discard()))

	h := &recordingHandler{}
	if _, err := m.Open(context.Background(), StartRequest{StudyID: "s"}, h); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mock := dialer.Last()

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !mock.Closed() {
		t.Error("transport should be closed")
	}

	f, _ := protocol.NewErrorFrame("late")
	mock.SimulateFrame(f)
	if h.errCount() != 0 || len(h.frames) != 0 {
		t.Errorf("handler saw traffic after Close: frames=%v errs=%d", h.frames, h.errCount())
	}

	start, _ := protocol.NewStartRecordingFrame()
	if err := m.Send(start); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send() after Close error = %v, want ErrNotOpen", err)
	}
}

func TestManager_OpenFailures(t *testing.T) {
	srv := bootstrapServer(t, nil)

	t.Run("bootstrap rejected", func(t *testing.T) {
		m := NewManager(srv.URL, WithDialer(transport.NewMockDialer()), WithLogger(log.Discard()))
		_, err := m.Open(context.Background(), StartRequest{StudyID: "missing"}, &recordingHandler{})

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Open() error = %v, want *APIError", err)
		}
		if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "Study not found" {
			t.Errorf("APIError = %+v", apiErr)
		}
	})

	t.Run("dial fails", func(t *testing.T) {
		dialer := transport.NewMockDialer()
		dialer.DialFunc = func(context.Context, string) error {
			return transport.NewConnectionError("refused", nil, true)
		}
		m := NewManager(srv.URL, WithDialer(dialer), WithLogger(log.Discard()))

		_, err := m.Open(context.Background(), StartRequest{StudyID: "s"}, &recordingHandler{})
		var connErr *transport.ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("Open() error = %v, want *transport.ConnectionError", err)
		}

		// A failed open leaves the manager reusable.
		dialer.DialFunc = nil
		if _, err := m.Open(context.Background(), StartRequest{StudyID: "s"}, &recordingHandler{}); err != nil {
			t.Errorf("retry Open() error = %v", err)
		}
	})

	t.Run("missing study", func(t *testing.T) {
		m := NewManager(srv.URL, WithDialer(transport.NewMockDialer()), WithLogger(log.Discard()))
		if _, err := m.Open(context.Background(), StartRequest{}, &recordingHandler{}); !errors.Is(err, ErrMissingStudyID) {
			t.Errorf("Open() error = %v, want ErrMissingStudyID", err)
		}
	})
}

func TestManager_ReportProgress(t *testing.T) {
	progress := make(chan ProgressReport, 1)
	srv := bootstrapServer(t, progress)
	m := NewManager(srv.URL, WithDialer(transport.NewMockDialer()), WithLogger(log.Discard()))

	if err := m.ReportProgress(context.Background(), ProgressReport{ExitReason: ExitUserInitiated}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("ReportProgress() without session error = %v, want ErrNotOpen", err)
	}

	if _, err := m.Open(context.Background(), StartRequest{StudyID: "study-1"}, &recordingHandler{}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	err := m.ReportProgress(context.Background(), ProgressReport{
		ExitReason:        ExitConnectionLost,
		ConversationState: "questioning",
		Messages:          []ProgressMessage{{Role: "agent", Content: "Q1"}},
	})
	if err != nil {
		t.Fatalf("ReportProgress() error = %v", err)
	}

	got := <-progress
	if got.SessionID != "sess-1" || got.ParticipantID != "part-1" || got.StudyID != "study-1" {
		t.Errorf("report ids = %+v", got)
	}
	if got.ExitReason != ExitConnectionLost || len(got.Messages) != 1 {
		t.Errorf("report = %+v", got)
	}
}
