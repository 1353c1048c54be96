// Package transport carries the control protocol and the stats stream over
// a single bidirectional message socket to the master.
//
// The underlying library (gorilla/websocket) documents that a *websocket.Conn
// is not safe for concurrent use beyond "one reader goroutine + one writer
// goroutine" — this package is deliberately more conservative than that,
// wrapping every socket call (send AND receive) in one mutex. The receive
// path additionally bounds itself to RecvTimeout so a sender (in particular
// the heartbeater) is never starved of the lock for longer than that
// window.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/swarmload/worker/internal/protocol"
)

// DefaultRecvTimeout bounds how long a single Recv call may block before
// returning ErrTimedOut. At a
// 1000ms heartbeat interval this gives a sender at least 3 chances per cycle
// to acquire the lock.
const DefaultRecvTimeout = 300 * time.Millisecond

// writeWait bounds how long a single Send may take to hand its frame to the
// OS socket buffer.
const writeWait = 10 * time.Second

// ErrTimedOut is returned by Recv when no message arrived within
// RecvTimeout, or when the frame that arrived could not be decoded and was
// dropped. It is not an error condition — callers should treat it as
// "nothing to do this tick" and loop.
var ErrTimedOut = errors.New("transport: recv timed out")

// ErrClosed is returned by Send/Recv once the transport has been closed,
// and wraps any unexpected close detected by Recv.
var ErrClosed = errors.New("transport: closed")

// Transport exposes Send/Recv/Close over one underlying socket connection to
// the master.
type Transport struct {
	conn        *websocket.Conn
	codec       protocol.Codec
	logger      *zap.Logger
	recvTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// Option configures a Transport constructed by New or Dial.
type Option func(*Transport)

// WithRecvTimeout overrides DefaultRecvTimeout.
func WithRecvTimeout(d time.Duration) Option {
	return func(t *Transport) { t.recvTimeout = d }
}

// New wraps an already-established websocket connection.
func New(conn *websocket.Conn, codec protocol.Codec, logger *zap.Logger, opts ...Option) *Transport {
	t := &Transport{
		conn:        conn,
		codec:       codec,
		logger:      logger.Named("transport"),
		recvTimeout: DefaultRecvTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial opens a new websocket connection to the master at url and wraps it.
func Dial(ctx context.Context, url string, header http.Header, codec protocol.Codec, logger *zap.Logger, opts ...Option) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return New(conn, codec, logger, opts...), nil
}

// Send encodes and writes m. Safe to call concurrently from any goroutine —
// it blocks until the socket mutex is free and the frame has been handed to
// the OS.
func (t *Transport) Send(m protocol.Message) error {
	b, err := t.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Recv blocks for at most RecvTimeout waiting for the next message. It must
// only be called from one dedicated reader goroutine at a time — concurrent
// Recv calls race on the shared read deadline the same way concurrent sends
// would race on the shared write deadline.
//
// Returns ErrTimedOut (not a failure) when nothing arrived in time, or when
// the frame that arrived could not be decoded (it is logged and dropped).
// Any other error means the underlying socket is no longer usable.
func (t *Transport) Recv() (protocol.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return protocol.Message{}, ErrClosed
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(t.recvTimeout)); err != nil {
		return protocol.Message{}, fmt.Errorf("transport: set read deadline: %w", err)
	}

	_, b, err := t.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return protocol.Message{}, ErrTimedOut
		}
		return protocol.Message{}, fmt.Errorf("%w: %w", ErrClosed, err)
	}

	msg, err := t.codec.Decode(b)
	if err != nil {
		t.logger.Warn("dropping undecodable message", zap.Int("bytes", len(b)), zap.Error(err))
		return protocol.Message{}, ErrTimedOut
	}
	return msg, nil
}

// Close is idempotent and safe against concurrent Send/Recv: it takes the
// same mutex, so an in-flight Send or Recv completes (or times out) before
// the socket is torn down.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}
