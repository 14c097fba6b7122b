package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-screener/pkg/protocol"
)

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	config Config
	logger *slog.Logger
}

// NewWebSocketDialer creates a dialer with the given options.
func NewWebSocketDialer(opts ...Option) *WebSocketDialer {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebSocketDialer{
		config: cfg,
		logger: cfg.Logger.With("component", "transport.websocket"),
	}
}

// Dial connects and starts the reader and keepalive goroutines.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, h Handlers) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.config.HandshakeTimeout,
	}

	d.logger.Info("connecting", "url", url)

	conn, resp, err := dialer.DialContext(ctx, url, d.config.Header)
	if err != nil {
		if resp != nil {
			return nil, NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return nil, NewConnectionError("dial failed", err, true)
	}

	ws := &WebSocket{
		conn:     conn,
		config:   d.config,
		logger:   d.logger.With("url", url),
		handlers: h,
		done:     make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.config.ReadTimeout))
	})

	go ws.readLoop()
	go ws.pingLoop()

	d.logger.Info("connected", "url", url)
	return ws, nil
}

// WebSocket is a Transport over a single gorilla/websocket connection.
type WebSocket struct {
	conn     *websocket.Conn
	config   Config
	logger   *slog.Logger
	handlers Handlers

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}

	framesIn  atomic.Int64
	framesOut atomic.Int64
}

// Send writes one frame as a text message.
func (w *WebSocket) Send(f protocol.Frame) error {
	if w.closed.Load() {
		return ErrClosed
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, f.Bytes()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSendFailed, f.Type, err)
	}

	w.framesOut.Add(1)
	w.logger.Debug("frame sent", "frame_type", f.Type)
	return nil
}

// Close sends a close frame and tears the connection down.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)

		w.writeMu.Lock()
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		w.writeMu.Unlock()

		err = w.conn.Close()
		w.logger.Info("disconnected",
			"frames_in", w.framesIn.Load(),
			"frames_out", w.framesOut.Load(),
		)
	})
	return err
}

// Stats returns the number of frames received and sent.
func (w *WebSocket) Stats() (in, out int64) {
	return w.framesIn.Load(), w.framesOut.Load()
}

func (w *WebSocket) readLoop() {
	for {
		_ = w.conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))

		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.terminate(err)
			return
		}

		w.framesIn.Add(1)

		f, err := protocol.ParseFrame(data)
		if err != nil {
			w.logger.Warn("failed to parse frame", "error", err)
			continue
		}

		w.logger.Debug("frame received", "frame_type", f.Type)
		if w.handlers.OnFrame != nil {
			w.handlers.OnFrame(f)
		}
	}
}

// terminate reports a connection end that was not caused by Close.
func (w *WebSocket) terminate(err error) {
	remote := false
	w.closeOnce.Do(func() {
		remote = true
		w.closed.Store(true)
		close(w.done)
		w.conn.Close()
	})
	if !remote {
		return
	}

	var connErr *ConnectionError
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		w.logger.Info("connection closed by server")
		connErr = NewConnectionError("closed by server", ErrClosedByPeer, false)
	} else {
		w.logger.Error("read error", "error", err)
		connErr = NewConnectionError("read failed", err, true)
	}

	if w.handlers.OnClose != nil {
		w.handlers.OnClose(connErr)
	}
}

func (w *WebSocket) pingLoop() {
	if w.config.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.config.WriteTimeout))
			w.writeMu.Unlock()
			if err != nil {
				w.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

var (
	_ Dialer    = (*WebSocketDialer)(nil)
	_ Transport = (*WebSocket)(nil)
)
