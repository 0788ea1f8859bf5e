package session

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	mu       sync.Mutex
	lines    [][]byte
	timeouts int
	stops    int

	onLineErr error
}

func (h *fakeHandler) OnLine(line []byte, elapsed time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, append([]byte{}, line...))
	return h.onLineErr
}

func (h *fakeHandler) OnTimeout() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeouts++
	return nil
}

func (h *fakeHandler) OnStop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return nil
}

func (h *fakeHandler) Lines() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte{}, h.lines...)
}

func (h *fakeHandler) Stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

func (h *fakeHandler) Timeouts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeouts
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSession_Deliver_And_Read_RoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	handler := &fakeHandler{}
	s := New(serverConn, handler, func(error) {})
	s.Open()
	defer s.Close()
	defer clientConn.Close()

	s.Deliver([]byte(`{"cmd":"dc"}`), nil)

	reader := bufio.NewReader(clientConn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"cmd":"dc"}`+"\n", line)
}

func TestSession_ReadLoop_DispatchesLinesToHandler(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	handler := &fakeHandler{}
	s := New(serverConn, handler, func(error) {})
	s.Open()
	defer s.Close()
	defer clientConn.Close()

	_, err := clientConn.Write([]byte(`{"cmd":"dc_ok","name":"a"}` + "\n"))
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return len(handler.Lines()) == 1 })
	assert.Equal(t, `{"cmd":"dc_ok","name":"a"}`, string(handler.Lines()[0]))
}

func TestSession_OnLineError_ClosesSession(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	handler := &fakeHandler{onLineErr: assert.AnError}
	var gotErr error
	s := New(serverConn, handler, func(err error) { gotErr = err })
	s.Open()
	defer clientConn.Close()

	_, err := clientConn.Write([]byte(`{"cmd":"bogus"}` + "\n"))
	require.NoError(t, err)

	waitFor(t, time.Second, s.IsClosed)
	assert.Equal(t, assert.AnError, gotErr)
}

func TestSession_PeerClose_CallsOnStop(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	handler := &fakeHandler{}
	s := New(serverConn, handler, func(error) {})
	s.Open()
	defer s.Close()

	clientConn.Close()

	waitFor(t, time.Second, func() bool { return handler.Stops() == 1 })
}

func TestSession_Close_IsIdempotent(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	handler := &fakeHandler{}
	s := New(serverConn, handler, func(error) {})
	s.Open()
	defer clientConn.Close()

	s.Close()
	s.Close()
	assert.True(t, s.IsClosed())
}

func TestSession_DeliverAfterClose_IsANoop(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	handler := &fakeHandler{}
	s := New(serverConn, handler, func(error) {})
	s.Open()
	defer clientConn.Close()

	s.Close()
	s.Deliver([]byte(`{"cmd":"dc"}`), nil)
}

func TestSession_DeadlineWatcher_FiresOnTimeout(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	handler := &fakeHandler{}
	s := New(serverConn, handler, func(error) {})
	s.Open()
	defer s.Close()
	defer clientConn.Close()

	short := 20 * time.Millisecond
	s.Deliver([]byte(`{"cmd":"dc"}`), &short)

	go func() {
		reader := bufio.NewReader(clientConn)
		reader.ReadString('\n')
	}()

	waitFor(t, time.Second, func() bool { return handler.Timeouts() == 1 })
}
