package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsAddr(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recvFrame(t *testing.T, frames <-chan string) string {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

// The client must keep delivering frames after the venue drops the
// connection: the first session is cut after one frame and the second
// session's frame has to reach the sink through the rebuilt read loop.
func TestClientResumesAfterConnectionDrop(t *testing.T) {
	var sessions atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		switch sessions.Add(1) {
		case 1:
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":1}`))
			_ = conn.Close()
		default:
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":2}`))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	defer srv.Close()

	frames := make(chan string, 8)
	sink := func(ctx context.Context, raw []byte) error {
		frames <- string(raw)
		return nil
	}

	client := NewClient(wsAddr(srv), sink, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	defer client.Close()

	require.Equal(t, `{"seq":1}`, recvFrame(t, frames))
	require.Equal(t, `{"seq":2}`, recvFrame(t, frames))
	require.GreaterOrEqual(t, sessions.Load(), int32(2))
}

// Subscriptions issued before a drop are replayed on the next session.
func TestClientRestoresSubscriptionsAfterReconnect(t *testing.T) {
	var sessions atomic.Int32
	subs := make(chan string, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := sessions.Add(1)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subs <- string(raw)
		if n == 1 {
			_ = conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := NewClient(wsAddr(srv), func(ctx context.Context, raw []byte) error { return nil }, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	defer client.Close()
	require.NoError(t, client.Subscribe([]string{"market"}, []string{"BTC-USDT"}))

	first := recvFrame(t, subs)
	require.Contains(t, first, `"market"`)

	// The first session closes after reading the command; the replayed
	// command must arrive on the second session unchanged.
	require.Equal(t, first, recvFrame(t, subs))
	require.GreaterOrEqual(t, sessions.Load(), int32(2))
}

func TestClientConnectAfterCloseFails(t *testing.T) {
	client := NewClient("ws://127.0.0.1:0", func(ctx context.Context, raw []byte) error { return nil }, testLogger())
	require.NoError(t, client.Close())
	require.Error(t, client.Connect(context.Background()))
}
