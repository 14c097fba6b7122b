package backendsim_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/teslashibe/go-screener/pkg/audioio"
	"github.com/teslashibe/go-screener/pkg/backendsim"
	"github.com/teslashibe/go-screener/pkg/interview"
	"github.com/teslashibe/go-screener/pkg/session"
)

type harness struct {
	sim  *backendsim.Server
	ctrl *interview.Controller
	dev  *audioio.MockDevice
}

func newHarness(t *testing.T, questions ...string) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := []backendsim.Option{backendsim.WithLogger(logger), backendsim.WithReplyDelay(0)}
	if len(questions) > 0 {
		opts = append(opts, backendsim.WithQuestions(questions...))
	}
	sim := backendsim.NewServer(opts...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go sim.Serve(ln)

	mgr := session.NewManager("http://"+ln.Addr().String(), session.WithLogger(logger))

	dev := audioio.NewMockDevice()
	dev.AutoComplete = true

	ctrl := interview.New(mgr, dev,
		interview.WithProgressReporter(mgr),
		interview.WithLogger(logger),
	)

	t.Cleanup(func() {
		ctrl.Close()
		sim.Shutdown()
	})

	if err := ctrl.Start(context.Background(), session.StartRequest{StudyID: "study-1"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h := &harness{sim: sim, ctrl: ctrl, dev: dev}
	h.await(t, "greeting", func(s interview.State) bool { return s.AgentTurns == 1 && s.WaitingForUser() })
	return h
}

func (h *harness) await(t *testing.T, what string, cond func(interview.State) bool) interview.State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s := h.ctrl.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; phase=%s turn=%s mode=%q q#%d failure=%v",
				what, s.Phase, s.Turn, s.Mode, s.QuestionNumber, s.LastFailure)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	h.dev.QueueUtterance(text)
	if err := h.ctrl.BeginUserTurn(context.Background()); err != nil {
		t.Fatalf("BeginUserTurn() error = %v", err)
	}
	if err := h.ctrl.EndUserTurn(context.Background()); err != nil {
		t.Fatalf("EndUserTurn() error = %v", err)
	}
}

func question(n int) func(interview.State) bool {
	return func(s interview.State) bool {
		return s.Phase == interview.PhaseQuestioning && s.QuestionNumber == n && s.WaitingForUser()
	}
}

func TestFullInterview(t *testing.T) {
	h := newHarness(t, "Q1?", "Q2?")

	if err := h.ctrl.ProceedWithConsent(); err != nil {
		t.Fatalf("ProceedWithConsent() error = %v", err)
	}
	s := h.await(t, "first question", question(1))
	if s.ShowTranscriptionConfirm() {
		t.Error("consent echo offered for confirmation")
	}

	h.say(t, "yes")
	s = h.await(t, "second question", question(2))
	if !s.ShowTranscriptionConfirm() {
		t.Error("answer not offered for confirmation")
	}
	if err := h.ctrl.ConfirmTranscription(); err != nil {
		t.Fatalf("ConfirmTranscription() error = %v", err)
	}

	h.say(t, "yes")
	h.await(t, "submission prompt", func(s interview.State) bool { return s.AwaitingSubmission() && s.WaitingForUser() })

	if err := h.ctrl.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	s = h.await(t, "completion", func(s interview.State) bool { return s.ConsentGiven() })

	if s.Session == nil {
		t.Fatal("no session in state")
	}
	info, ok := h.sim.Info(s.Session.ID)
	if !ok || info.Result == nil || !info.Result.Eligible {
		t.Errorf("simulator result = %+v", info.Result)
	}
	if got := h.dev.Overlaps(); got != 0 {
		t.Errorf("Overlaps() = %d", got)
	}

	// Backend already saved the final result; only the start was reported.
	deadline := time.Now().Add(2 * time.Second)
	for {
		info, _ = h.sim.Info(s.Session.ID)
		if len(info.ExitReasons) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no progress reported")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if info.ExitReasons[0] != session.ExitInterviewStarted {
		t.Errorf("ExitReasons = %v", info.ExitReasons)
	}
}

func TestRepeatPreviousQuestion(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.ProceedWithConsent(); err != nil {
		t.Fatalf("ProceedWithConsent() error = %v", err)
	}
	h.await(t, "first question", question(1))
	h.say(t, "yes")
	h.await(t, "second question", question(2))

	if err := h.ctrl.RequestRepeatLast(); err != nil {
		t.Fatalf("RequestRepeatLast() error = %v", err)
	}
	s := h.await(t, "repeated first question", question(1))
	if !s.JustRepeatedLastQuestion() {
		t.Error("JustRepeatedLastQuestion() = false")
	}
	for _, m := range s.Transcript {
		if m.Role == interview.RoleUser && m.Content == "yes" {
			t.Error("retracted answer still in transcript")
		}
	}

	h.say(t, "yes")
	s = h.await(t, "second question again", question(2))
	if s.JustRepeatedLastQuestion() || !s.CanRepeatLast() {
		t.Errorf("justRepeated=%v canRepeatLast=%v", s.JustRepeatedLastQuestion(), s.CanRepeatLast())
	}
}

func TestUnintelligibleAudio(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.ProceedWithConsent(); err != nil {
		t.Fatalf("ProceedWithConsent() error = %v", err)
	}
	h.await(t, "first question", question(1))

	h.say(t, "")
	s := h.await(t, "server error", func(s interview.State) bool { return s.LastFailure != nil })
	if s.LastFailure.Kind != interview.FailureServer || s.LastFailure.Message != backendsim.NotUnderstood {
		t.Errorf("LastFailure = %+v", s.LastFailure)
	}
	if !s.CanBeginTurn() {
		t.Errorf("participant cannot retry: turn=%s", s.Turn)
	}
}

func TestDeclinedConsent(t *testing.T) {
	h := newHarness(t)

	h.say(t, "no thank you")
	s := h.await(t, "completion", func(s interview.State) bool {
		return s.Phase == interview.PhaseCompleted && s.ConsentRejected
	})
	if s.ConsentGiven() || s.Eligibility != nil {
		t.Errorf("eligibility = %s", s.Eligibility)
	}
}

func TestResetClosesSession(t *testing.T) {
	h := newHarness(t)

	sess := h.ctrl.Snapshot().Session
	if err := h.ctrl.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if s := h.ctrl.Snapshot(); s.Phase != interview.PhaseNotStarted || s.ConnectionLost {
		t.Errorf("after Reset: phase=%s lost=%v", s.Phase, s.ConnectionLost)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, _ := h.sim.Info(sess.ID)
		if slices.Contains(info.ExitReasons, session.ExitUserInitiated) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ExitReasons = %v", info.ExitReasons)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := h.ctrl.Start(context.Background(), session.StartRequest{StudyID: "study-1"}); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	h.await(t, "new greeting", func(s interview.State) bool { return s.AgentTurns == 1 && s.WaitingForUser() })
}
