package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New("")
	m.FrameReceived("agent_message")
	m.FrameSent("audio_data")
	m.Intent("submit", true)
	m.Intent("repeat_last", false)
	m.Playback("interrupted")
	m.Failure("server_error")
	m.SessionEnded("completed")
	m.SetQuestionNumber(3)

	out := scrape(t, m)
	for _, want := range []string{
		`screener_frames_total{direction="in",type="agent_message"} 1`,
		`screener_frames_total{direction="out",type="audio_data"} 1`,
		`screener_intents_total{intent="repeat_last",outcome="rejected"} 1`,
		`screener_intents_total{intent="submit",outcome="accepted"} 1`,
		`screener_playbacks_total{outcome="interrupted"} 1`,
		`screener_failures_total{kind="server_error"} 1`,
		`screener_sessions_total{outcome="completed"} 1`,
		`screener_question_number 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FrameReceived("x")
	m.FrameSent("x")
	m.Intent("x", true)
	m.Playback("x")
	m.Failure("x")
	m.SessionEnded("x")
	m.SetQuestionNumber(1)
	m.ObserverConnected(1)
}
