package transport

import (
	"context"
	"sync"

	"github.com/teslashibe/go-screener/pkg/protocol"
)

// Mock is an in-memory Transport for testing.
type Mock struct {
	mu       sync.Mutex
	handlers Handlers
	sent     []protocol.Frame
	closed   bool

	// SendFunc overrides Send when set.
	SendFunc func(f protocol.Frame) error

	// URL is the address the mock was dialed with.
	URL string
}

// NewMock creates a Mock delivering to h.
func NewMock(h Handlers) *Mock {
	return &Mock{handlers: h}
}

// Send records the frame.
func (m *Mock) Send(f protocol.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.SendFunc != nil {
		if err := m.SendFunc(f); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, f)
	return nil
}

// Close marks the mock closed. OnClose is not invoked.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Sent returns a copy of all frames sent so far.
func (m *Mock) Sent() []protocol.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.Frame(nil), m.sent...)
}

// SentTypes returns the types of all frames sent so far.
func (m *Mock) SentTypes() []protocol.FrameType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]protocol.FrameType, len(m.sent))
	for i, f := range m.sent {
		types[i] = f.Type
	}
	return types
}

// SimulateFrame delivers an inbound frame synchronously.
func (m *Mock) SimulateFrame(f protocol.Frame) {
	m.mu.Lock()
	fn := m.handlers.OnFrame
	m.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

// SimulateClose reports a remote connection end.
func (m *Mock) SimulateClose(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	fn := m.handlers.OnClose
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// MockDialer hands out Mock transports.
type MockDialer struct {
	// DialFunc overrides Dial when set.
	DialFunc func(ctx context.Context, url string) error

	mu    sync.Mutex
	mocks []*Mock
}

// NewMockDialer creates a new MockDialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// Dial returns a new Mock wired to h.
func (d *MockDialer) Dial(ctx context.Context, url string, h Handlers) (Transport, error) {
	if d.DialFunc != nil {
		if err := d.DialFunc(ctx, url); err != nil {
			return nil, err
		}
	}
	m := NewMock(h)
	m.URL = url

	d.mu.Lock()
	d.mocks = append(d.mocks, m)
	d.mu.Unlock()
	return m, nil
}

// Last returns the most recently dialed Mock, or nil.
func (d *MockDialer) Last() *Mock {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.mocks) == 0 {
		return nil
	}
	return d.mocks[len(d.mocks)-1]
}

// Dials returns how many transports were opened.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mocks)
}

var (
	_ Transport = (*Mock)(nil)
	_ Dialer    = (*MockDialer)(nil)
)
