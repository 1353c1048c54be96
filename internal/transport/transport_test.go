package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swarmload/worker/internal/protocol"
)

var upgrader = websocket.Upgrader{}

// echoServer upgrades every connection and echoes back binary frames
// verbatim, so tests can drive both ends of the Transport.
func echoServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, b); err != nil {
				return
			}
		}
	}))
	wsURL := "ws" + srv.URL[len("http"):]
	return srv, wsURL
}

func dial(t *testing.T, url string) *Transport {
	t.Helper()
	tr, err := Dial(context.Background(), url, nil, protocol.ProtoCodec{}, zap.NewNop(), WithRecvTimeout(50*time.Millisecond))
	require.NoError(t, err)
	return tr
}

func TestTransport_SendRecvRoundTrip(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	tr := dial(t, url)
	defer tr.Close()

	want := protocol.NewMessage(protocol.MsgHeartbeat, "host_abc", map[string]any{
		"state": "running",
	})
	require.NoError(t, tr.Send(want))

	got, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.Data, got.Data)
}

func TestTransport_RecvTimesOutWhenIdle(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	tr := dial(t, url)
	defer tr.Close()

	start := time.Now()
	_, err := tr.Recv()
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestTransport_CloseIsIdempotentAndUnblocksCallers(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	tr := dial(t, url)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Recv()
	assert.ErrorIs(t, err, ErrClosed)

	err = tr.Send(protocol.NewMessage(protocol.MsgHeartbeat, "host_abc", nil))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTransport_ConcurrentSendsDoNotCorruptFrames(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	tr := dial(t, url)
	defer tr.Close()

	const n = 20
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			done <- tr.Send(protocol.NewMessage(protocol.MsgHeartbeat, "host_abc", map[string]any{
				"count": float64(i),
			}))
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}

	seen := 0
	deadline := time.Now().Add(2 * time.Second)
	for seen < n && time.Now().Before(deadline) {
		msg, err := tr.Recv()
		if err == ErrTimedOut {
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, protocol.MsgHeartbeat, msg.Type)
		seen++
	}
	assert.Equal(t, n, seen)
}
