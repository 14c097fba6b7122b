package backendsim

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-screener/pkg/protocol"
	"github.com/teslashibe/go-screener/pkg/session"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithReplyDelay(0),
	}, opts...)
	s := NewServer(opts...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.Serve(ln)
	t.Cleanup(func() { s.Shutdown() })

	return s, ln.Addr().String()
}

func post(t *testing.T, s *Server, path, body string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func startSession(t *testing.T, s *Server) session.Session {
	t.Helper()
	resp, body := post(t, s, "/api/sessions/start", `{"study_id":"study-1","participant_name":"Ada"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d: %s", resp.StatusCode, body)
	}
	var sess session.Session
	if err := json.Unmarshal(body, &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess
}

func TestStartSession(t *testing.T) {
	s := NewServer(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	sess := startSession(t, s)
	if sess.ID == "" || sess.ParticipantID == "" || sess.CreatedAt == "" {
		t.Errorf("session = %+v", sess)
	}
	if _, ok := s.Info(sess.ID); !ok {
		t.Error("session not recorded")
	}

	resp, body := post(t, s, "/api/sessions/start", `{}`)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "study_id") {
		t.Errorf("missing study: status=%d body=%s", resp.StatusCode, body)
	}
}

func TestSaveProgress(t *testing.T) {
	s := NewServer(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	sess := startSession(t, s)

	resp, _ := post(t, s, "/api/interviews/save-progress",
		`{"session_id":"`+sess.ID+`","exit_reason":"user_initiated","messages":[]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	info, _ := s.Info(sess.ID)
	if len(info.ExitReasons) != 1 || info.ExitReasons[0] != session.ExitUserInitiated {
		t.Errorf("ExitReasons = %v", info.ExitReasons)
	}

	resp, _ = post(t, s, "/api/interviews/save-progress", `{"session_id":"nope"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d", resp.StatusCode)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := protocol.ParseFrame(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, ws *websocket.Conn, f protocol.Frame, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, f.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketExchange(t *testing.T) {
	s, addr := newTestServer(t)
	sess := startSession(t, s)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/"+sess.ID+"/study-1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	greeting, err := readFrame(t, ws).AgentMessage()
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if greeting.Content != DefaultGreeting || greeting.Audio == "" || *greeting.QuestionNumber != 0 {
		t.Errorf("greeting = %+v", greeting)
	}

	{
		f, err := protocol.NewStartRecordingFrame()
		writeFrame(t, ws, f, err)
	}
	if f := readFrame(t, ws); f.Type != protocol.TypeRecordingStarted {
		t.Errorf("ack = %s", f.Type)
	}
	{
		f, err := protocol.NewStopRecordingFrame()
		writeFrame(t, ws, f, err)
	}
	if f := readFrame(t, ws); f.Type != protocol.TypeRecordingStopped {
		t.Errorf("ack = %s", f.Type)
	}

	{
		f, err := protocol.NewAudioDataFrame("")
		writeFrame(t, ws, f, err)
	}
	errFrame, err := readFrame(t, ws).ServerError()
	if err != nil || errFrame.Content != NotUnderstood {
		t.Errorf("empty audio reply = %+v, %v", errFrame, err)
	}

	{
		f, err := protocol.NewTextMessageFrame("Yes, I consent to proceed.")
		writeFrame(t, ws, f, err)
	}
	echo, err := readFrame(t, ws).UserMessage()
	if err != nil || echo.Content != "Yes, I consent to proceed." {
		t.Fatalf("echo = %+v, %v", echo, err)
	}
	q1, err := readFrame(t, ws).AgentMessage()
	if err != nil || *q1.QuestionNumber != 1 || q1.Content != DefaultQuestions[0] {
		t.Errorf("first question = %+v, %v", q1, err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		in, out := s.Stats()
		if in == 4 && out == 6 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Stats() = %d in, %d out, want 4 in, 6 out", in, out)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	_, addr := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/nope/study-1", nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %+v", resp)
	}
}
