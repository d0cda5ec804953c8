package comfy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type frameServer struct {
	*httptest.Server
	connections atomic.Int32
	closed      chan int32
}

// newFrameServer accepts push connections, writes frames to each and then
// waits for the client to go away.
func newFrameServer(t *testing.T, frames ...string) *frameServer {
	t.Helper()
	fs := &frameServer{closed: make(chan int32, 8)}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("clientId") == "" {
			t.Errorf("missing clientId query")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		n := fs.connections.Add(1)
		for _, f := range frames {
			kind := websocket.TextMessage
			if strings.HasPrefix(f, "binary:") {
				kind = websocket.BinaryMessage
				f = strings.TrimPrefix(f, "binary:")
			}
			if err := conn.WriteMessage(kind, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				fs.closed <- n
				return
			}
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *frameServer) channel() *Channel {
	client := NewClient(Options{BaseURL: fs.URL, ClientID: "test_client"})
	return client.NewChannel()
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return ""
	}
}

func TestChannelDispatchesInOrderAndDropsMalformed(t *testing.T) {
	srv := newFrameServer(t,
		`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":1}}}}`,
		`{"type":"progress","data":`,
		`binary:\x00\x00\x00\x01PNG`,
		`{"type":"crystools.monitor","data":{}}`,
		`{"type":"progress","data":{"value":4,"max":8,"prompt_id":"job-1"}}`,
		`{"type":"executing","data":{"node":"9","prompt_id":"job-1"}}`,
		`{"type":"executing","data":{"node":null,"prompt_id":"job-1"}}`,
	)
	events := make(chan string, 16)
	disconnect, err := srv.channel().Connect(context.Background(), Callbacks{
		OnStatus:   func(s StatusData) { events <- "status" },
		OnError:    func(error) { events <- "error" },
		OnProgress: func(p ProgressData) { events <- "progress" },
		OnExecuting: func(e ExecutingData) {
			if e.Done() {
				events <- "done"
				return
			}
			events <- "executing " + *e.Node
		},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer disconnect()

	want := []string{"status", "error", "progress", "executing 9", "done"}
	for _, w := range want {
		if got := recv(t, events); got != w {
			t.Fatalf("event = %q, want %q", got, w)
		}
	}
}

func TestChannelConnectClosesPrevious(t *testing.T) {
	srv := newFrameServer(t)
	ch := srv.channel()

	first, err := ch.Connect(context.Background(), Callbacks{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer first()
	second, err := ch.Connect(context.Background(), Callbacks{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer second()

	select {
	case <-srv.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("first connection was not closed")
	}
	select {
	case <-srv.closed:
		t.Fatalf("second connection closed as well")
	case <-time.After(50 * time.Millisecond):
	}
	if got := srv.connections.Load(); got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}
}

func TestChannelDisconnectIsIdempotent(t *testing.T) {
	srv := newFrameServer(t)
	closed := make(chan error, 2)

	disconnect, err := srv.channel().Connect(context.Background(), Callbacks{
		OnClose: func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	disconnect()
	disconnect()

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close error = %v, want nil for a requested close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnClose not called")
	}
	select {
	case <-closed:
		t.Fatalf("OnClose called twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelClosesWithContext(t *testing.T) {
	srv := newFrameServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := srv.channel().Connect(ctx, Callbacks{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	cancel()

	select {
	case <-srv.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("connection survived context cancellation")
	}
}

func TestChannelConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewClient(Options{BaseURL: base}).NewChannel().Connect(context.Background(), Callbacks{})
	if !IsConnectivity(err) {
		t.Fatalf("error = %v, want ConnectivityError", err)
	}
}
