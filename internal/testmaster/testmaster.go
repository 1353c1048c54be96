// Package testmaster is test-only infrastructure: an in-memory fake master
// that drives a Runner end-to-end without a real websocket connection, so
// the runner package's scenario tests run fast and deterministically.
package testmaster

import (
	"errors"
	"sync"
	"time"

	"github.com/swarmload/worker/internal/protocol"
	"github.com/swarmload/worker/internal/runner"
)

// errClosed is returned once the fake socket has been closed.
var errClosed = errors.New("testmaster: closed")

// recvPollInterval bounds how long a Recv call on the fake socket blocks
// before returning a timeout. It plays the role of
// transport.DefaultRecvTimeout (300ms) at a much shorter 20ms.
const recvPollInterval = 20 * time.Millisecond

// socket implements runner.Socket over two in-process channels.
type socket struct {
	toWorker   <-chan protocol.Message
	fromWorker chan<- protocol.Message

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *socket) Send(m protocol.Message) error {
	select {
	case <-s.closed:
		return errClosed
	default:
	}
	select {
	case s.fromWorker <- m:
		return nil
	case <-s.closed:
		return errClosed
	}
}

func (s *socket) Recv() (protocol.Message, error) {
	select {
	case m := <-s.toWorker:
		return m, nil
	case <-time.After(recvPollInterval):
		return protocol.Message{}, errTimedOut
	case <-s.closed:
		return protocol.Message{}, errClosed
	}
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// errTimedOut mirrors transport.ErrTimedOut's message so runner's
// string-based timeout detection treats it identically.
var errTimedOut = errors.New("transport: recv timed out")

var _ runner.Socket = (*socket)(nil)

// Master is a fake master: it hands out a runner.Socket to wire into a
// Runner under test, and exposes Send*/Recv helpers from the master's point
// of view.
type Master struct {
	toWorker   chan protocol.Message
	fromWorker chan protocol.Message
	socket     *socket
}

// New builds a Master ready to be wired into a Runner via Socket().
func New() *Master {
	toWorker := make(chan protocol.Message, 32)
	fromWorker := make(chan protocol.Message, 256)
	return &Master{
		toWorker:   toWorker,
		fromWorker: fromWorker,
		socket: &socket{
			toWorker:   toWorker,
			fromWorker: fromWorker,
			closed:     make(chan struct{}),
		},
	}
}

// Socket returns the runner.Socket the Runner under test should use.
func (m *Master) Socket() runner.Socket {
	return m.socket
}

// Send pushes one message from the master to the worker.
func (m *Master) Send(msg protocol.Message) {
	m.toWorker <- msg
}

// SendSpawn sends a spawn message targeting userCount users at spawnRate
// per second.
func (m *Master) SendSpawn(nodeID string, userCount int, spawnRate float64) {
	m.Send(protocol.NewMessage(protocol.MsgSpawn, nodeID, map[string]any{
		"user_count": float64(userCount),
		"spawn_rate": spawnRate,
	}))
}

// SendStop sends a stop message.
func (m *Master) SendStop(nodeID string) {
	m.Send(protocol.NewMessage(protocol.MsgStop, nodeID, nil))
}

// SendQuit sends a quit message.
func (m *Master) SendQuit(nodeID string) {
	m.Send(protocol.NewMessage(protocol.MsgQuit, nodeID, nil))
}

// SendAck sends a handshake ack.
func (m *Master) SendAck(nodeID string) {
	m.Send(protocol.NewMessage(protocol.MsgAck, nodeID, nil))
}

// SendHeartbeat sends a liveness heartbeat from the master.
func (m *Master) SendHeartbeat(nodeID string) {
	m.Send(protocol.NewMessage(protocol.MsgHeartbeat, nodeID, nil))
}

// Recv waits up to timeout for the next message the worker sent, returning
// ok=false on timeout.
func (m *Master) Recv(timeout time.Duration) (protocol.Message, bool) {
	select {
	case msg := <-m.fromWorker:
		return msg, true
	case <-time.After(timeout):
		return protocol.Message{}, false
	}
}

// RecvType waits up to timeout for the next message the worker sent of the
// given type, discarding any other message types observed along the way
// (e.g. heartbeats interleaved with the message under test).
func (m *Master) RecvType(want protocol.MessageType, timeout time.Duration) (protocol.Message, bool) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.Message{}, false
		}
		msg, ok := m.Recv(remaining)
		if !ok {
			return protocol.Message{}, false
		}
		if msg.Type == want {
			return msg, true
		}
	}
}

// Close tears down the fake transport.
func (m *Master) Close() error {
	return m.socket.Close()
}
