package backendsim

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/teslashibe/go-screener/pkg/audioio"
	"github.com/teslashibe/go-screener/pkg/protocol"
)

// Default script text.
const (
	DefaultGreeting = "Hello, thank you for your interest in this study. " +
		"Before we begin, do you consent to answer a few screening questions?"
	DefaultSubmitPrompt = "That was the last question. Say submit when you are ready to submit your responses."
	DefaultClosing      = "Thank you. Your responses have been submitted."
	DefaultDeclined     = "Thank you for your time. We will not continue without your consent."
	DefaultConsentRetry = "Please tell me whether you consent to continue."

	// NotUnderstood is sent as an error frame for an empty transcription.
	NotUnderstood = "Could not understand audio. Please try again."
)

// DefaultQuestions is the scripted screening questionnaire.
var DefaultQuestions = []string{
	"Are you eighteen years of age or older?",
	"Have you been diagnosed with type two diabetes?",
	"Are you currently taking insulin?",
}

type stage int

const (
	stageConsent stage = iota
	stageQuestions
	stageSubmission
	stageDone
)

// Eligibility is the result reported in interview_complete.
type Eligibility struct {
	Eligible      bool     `json:"eligible"`
	CriteriaMet   int      `json:"criteria_met"`
	CriteriaTotal int      `json:"criteria_total"`
	Answers       []string `json:"answers"`
}

// script is one participant's scripted interview. It is not safe for
// concurrent use; each connection owns one.
type script struct {
	questions []string
	speech    func(text string) []byte

	stage   stage
	current int
	answers []string
}

func newScript(questions []string, speech func(string) []byte) *script {
	return &script{
		questions: questions,
		speech:    speech,
		answers:   make([]string, len(questions)),
	}
}

func (s *script) say(text string, qn int, requiresResponse bool) protocol.AgentMessage {
	msg := protocol.NewSpokenAgentMessage(text, s.speech(text))
	msg.RequiresResponse = requiresResponse
	msg.QuestionNumber = protocol.Int(qn)
	msg.TotalQuestions = protocol.Int(len(s.questions))
	return msg
}

func (s *script) greeting() protocol.AgentMessage {
	return s.say(DefaultGreeting, 0, true)
}

func (s *script) ask() protocol.AgentMessage {
	return s.say(s.questions[s.current], s.current+1, true)
}

func (s *script) submitPrompt() protocol.AgentMessage {
	msg := s.say(DefaultSubmitPrompt, len(s.questions), true)
	msg.AwaitingSubmission = true
	return msg
}

// reply is what the script sends back for one participant turn.
type reply struct {
	agent    *protocol.AgentMessage
	complete *protocol.InterviewComplete
	result   *Eligibility
}

func (s *script) respond(text string) reply {
	lower := strings.ToLower(text)

	switch s.stage {
	case stageConsent:
		switch {
		case declines(lower):
			s.stage = stageDone
			msg := s.say(DefaultDeclined, 0, false)
			msg.IsFinal = true
			return reply{agent: &msg, complete: &protocol.InterviewComplete{ConsentRejected: true, AlreadySaved: true}}
		case affirms(lower):
			s.stage = stageQuestions
			s.current = 0
			msg := s.ask()
			return reply{agent: &msg}
		default:
			msg := s.say(DefaultConsentRetry, 0, true)
			return reply{agent: &msg}
		}

	case stageQuestions:
		switch {
		case strings.Contains(lower, "previous"):
			s.current = max(s.current-1, 0)
		case strings.Contains(lower, "repeat"):
		default:
			s.answers[s.current] = text
			s.current++
			if s.current == len(s.questions) {
				s.stage = stageSubmission
				msg := s.submitPrompt()
				return reply{agent: &msg}
			}
		}
		msg := s.ask()
		return reply{agent: &msg}

	case stageSubmission:
		switch {
		case strings.Contains(lower, "previous"):
			s.stage = stageQuestions
			s.current = len(s.questions) - 1
			msg := s.ask()
			return reply{agent: &msg}
		case strings.Contains(lower, "submit"):
			s.stage = stageDone
			msg := s.say(DefaultClosing, len(s.questions), false)
			msg.IsFinal = true
			result := s.evaluate()
			return reply{agent: &msg, complete: &protocol.InterviewComplete{AlreadySaved: true}, result: &result}
		default:
			msg := s.submitPrompt()
			return reply{agent: &msg}
		}
	}
	return reply{}
}

func (s *script) evaluate() Eligibility {
	e := Eligibility{CriteriaTotal: len(s.questions), Answers: append([]string(nil), s.answers...)}
	for _, a := range s.answers {
		if affirms(strings.ToLower(a)) {
			e.CriteriaMet++
		}
	}
	e.Eligible = e.CriteriaMet == e.CriteriaTotal
	return e
}

func affirms(lower string) bool {
	for _, w := range []string{"yes", "consent", "agree", "sure"} {
		if strings.Contains(lower, w) {
			return !declines(lower)
		}
	}
	return false
}

func declines(lower string) bool {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!'
	})
	for _, f := range fields {
		if f == "no" || f == "not" || f == "don't" || f == "decline" {
			return true
		}
	}
	return false
}

// Transcribe turns an audio_data payload into text. WAV audio is
// described by its length; anything else is read as UTF-8 text.
func Transcribe(encoded string) string {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	if chunk, err := audioio.DecodeWAV(data); err == nil {
		if len(chunk.Samples) == 0 {
			return ""
		}
		return fmt.Sprintf("(%.1fs of audio)", chunk.Duration())
	}
	return strings.TrimSpace(string(data))
}

// TextSpeech returns text as its own "speech".
func TextSpeech(text string) []byte {
	return []byte(text)
}

// SilentSpeech returns a WAV of silence whose length follows the text,
// so real speakers have something playable.
func SilentSpeech(sampleRate int) func(string) []byte {
	return func(text string) []byte {
		words := len(strings.Fields(text))
		samples := make([]int16, words*sampleRate/4)
		return audioio.EncodeWAV(samples, sampleRate, 1)
	}
}
