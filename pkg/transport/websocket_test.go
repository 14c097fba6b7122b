package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-screener/pkg/protocol"
)

// echoServer replies to every text frame with a user_message carrying the
// received frame type, and closes normally on "bye".
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := protocol.ParseFrame(data)
			if err != nil {
				continue
			}
			if msg, _ := f.TextMessage(); msg != nil && msg.Content == "bye" {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			reply, _ := protocol.NewUserMessageFrame(string(f.Type))
			conn.WriteMessage(websocket.TextMessage, []byte(`{"oops"`))
			conn.WriteMessage(websocket.TextMessage, reply.Bytes())
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocket_SendReceiveInOrder(t *testing.T) {
	srv := echoServer(t)

	frames := make(chan protocol.Frame, 8)
	tr, err := NewWebSocketDialer().Dial(context.Background(), wsURL(srv), Handlers{
		OnFrame: func(f protocol.Frame) { frames <- f },
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer tr.Close()

	start, _ := protocol.NewStartRecordingFrame()
	stop, _ := protocol.NewStopRecordingFrame()
	audio, _ := protocol.NewAudioDataFrame("QUJD")

	for _, f := range []protocol.Frame{start, stop, audio} {
		if err := tr.Send(f); err != nil {
			t.Fatalf("Send(%s) error = %v", f.Type, err)
		}
	}

	want := []string{"start_recording", "stop_recording", "audio_data"}
	for i, w := range want {
		select {
		case f := <-frames:
			msg, err := f.UserMessage()
			if err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
			if msg.Content != w {
				t.Errorf("frame %d content = %q, want %q", i, msg.Content, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestWebSocket_RemoteCloseSignalsOnce(t *testing.T) {
	srv := echoServer(t)

	closes := make(chan error, 2)
	tr, err := NewWebSocketDialer().Dial(context.Background(), wsURL(srv), Handlers{
		OnClose: func(err error) { closes <- err },
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer tr.Close()

	bye, _ := protocol.NewTextMessageFrame("bye")
	if err := tr.Send(bye); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case err := <-closes:
		if !errors.Is(err, ErrClosedByPeer) {
			t.Errorf("OnClose error = %v, want ErrClosedByPeer", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}

	// Local Close after a remote close must not signal again.
	tr.Close()
	select {
	case err := <-closes:
		t.Errorf("unexpected second OnClose: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := tr.Send(bye); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after close error = %v, want ErrClosed", err)
	}
}

func TestWebSocket_LocalCloseIsSilent(t *testing.T) {
	srv := echoServer(t)

	closes := make(chan error, 1)
	tr, err := NewWebSocketDialer().Dial(context.Background(), wsURL(srv), Handlers{
		OnClose: func(err error) { closes <- err },
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	tr.Close()

	select {
	case err := <-closes:
		t.Errorf("OnClose called after local Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocket_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewWebSocketDialer(WithHandshakeTimeout(time.Second)).Dial(context.Background(), wsURL(srv), Handlers{})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial() error = %v, want *ConnectionError", err)
	}
	if connErr.Retryable {
		t.Error("404 should not be retryable")
	}
}

func TestMock(t *testing.T) {
	var got []protocol.FrameType
	var closeErr error

	d := NewMockDialer()
	tr, err := d.Dial(context.Background(), "ws://test", Handlers{
		OnFrame: func(f protocol.Frame) { got = append(got, f.Type) },
		OnClose: func(err error) { closeErr = err },
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	m := d.Last()
	f, _ := protocol.NewErrorFrame("boom")
	m.SimulateFrame(f)
	if len(got) != 1 || got[0] != protocol.TypeError {
		t.Errorf("delivered = %v", got)
	}

	start, _ := protocol.NewStartRecordingFrame()
	tr.Send(start)
	if types := m.SentTypes(); len(types) != 1 || types[0] != protocol.TypeStartRecording {
		t.Errorf("SentTypes() = %v", types)
	}

	m.SimulateClose(ErrClosedByPeer)
	m.SimulateClose(ErrClosedByPeer)
	if !errors.Is(closeErr, ErrClosedByPeer) {
		t.Errorf("OnClose error = %v", closeErr)
	}
	if err := tr.Send(start); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after close error = %v, want ErrClosed", err)
	}
}
