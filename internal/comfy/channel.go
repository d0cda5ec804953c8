package comfy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
)

// Callbacks receive decoded push events in arrival order from a single
// goroutine. Nil callbacks are skipped.
type Callbacks struct {
	OnStatus    func(StatusData)
	OnProgress  func(ProgressData)
	OnExecuting func(ExecutingData)
	OnExecuted  func(ExecutedData)
	OnFailure   func(ExecutionErrorData)
	// OnError is told about frames that were dropped as malformed.
	OnError func(error)
	// OnClose runs once when the connection ends for any reason.
	OnClose func(error)
}

// Channel holds at most one live push connection. Connecting again closes
// the previous connection first.
type Channel struct {
	url    string
	dialer *websocket.Dialer
	logger *infra.Logger

	mu     sync.Mutex
	active *session
}

// NewChannel returns a channel handle for the client's push endpoint.
func (c *Client) NewChannel() *Channel {
	return NewChannel(c.WebSocketURL(), nil, c.logger)
}

// NewChannel returns a channel handle for a push endpoint url. A nil dialer
// uses a copy of websocket.DefaultDialer.
func NewChannel(wsURL string, dialer *websocket.Dialer, logger *infra.Logger) *Channel {
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 10 * time.Second
		dialer = &d
	}
	return &Channel{url: wsURL, dialer: dialer, logger: infra.OrDiscard(logger)}
}

// URL returns the push endpoint.
func (ch *Channel) URL() string { return ch.url }

type session struct {
	conn    *websocket.Conn
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func (s *session) stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// Connect dials the push endpoint and starts dispatching events to cb. The
// returned function closes the connection; it is safe to call more than once
// and from inside a callback. Once it returns, at most the event already being
// dispatched is still delivered. The connection also closes when ctx is done.
func (ch *Channel) Connect(ctx context.Context, cb Callbacks) (func(), error) {
	ch.mu.Lock()
	if prev := ch.active; prev != nil {
		ch.active = nil
		prev.stop()
	}
	ch.mu.Unlock()

	conn, resp, err := ch.dialer.DialContext(ctx, ch.url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, &ConnectivityError{Op: "channel", Err: fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)}
		}
		return nil, &ConnectivityError{Op: "channel", Err: err}
	}

	s := &session{conn: conn, done: make(chan struct{})}
	ch.mu.Lock()
	if prev := ch.active; prev != nil {
		prev.stop()
	}
	ch.active = s
	ch.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.stop()
		case <-s.done:
		}
	}()
	go ch.readLoop(s, cb)

	ch.logger.Debug().Str("url", ch.url).Msg("comfy: channel connected")
	return func() {
		s.stop()
		ch.mu.Lock()
		if ch.active == s {
			ch.active = nil
		}
		ch.mu.Unlock()
	}, nil
}

// Close stops the live connection, if any.
func (ch *Channel) Close() {
	ch.mu.Lock()
	s := ch.active
	ch.active = nil
	ch.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

func (ch *Channel) readLoop(s *session, cb Callbacks) {
	defer close(s.done)
	var closeErr error
	defer func() {
		if cb.OnClose != nil {
			cb.OnClose(closeErr)
		}
	}()

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.stopped.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeErr = &ConnectivityError{Op: "channel", Err: err}
				ch.logger.Warn().Err(err).Msg("comfy: channel dropped")
			}
			s.stop()
			return
		}
		if s.stopped.Load() {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			ch.logger.Warn().Err(err).Int("bytes", len(data)).Msg("comfy: dropped malformed frame")
			if cb.OnError != nil {
				cb.OnError(err)
			}
			continue
		}
		dispatch(ev, cb)
	}
}

func dispatch(ev Event, cb Callbacks) {
	switch ev.Type {
	case EventStatus:
		if cb.OnStatus != nil {
			cb.OnStatus(*ev.Status)
		}
	case EventProgress:
		if cb.OnProgress != nil {
			cb.OnProgress(*ev.Progress)
		}
	case EventExecuting:
		if cb.OnExecuting != nil {
			cb.OnExecuting(*ev.Executing)
		}
	case EventExecuted:
		if cb.OnExecuted != nil {
			cb.OnExecuted(*ev.Executed)
		}
	case EventExecutionError:
		if cb.OnFailure != nil {
			cb.OnFailure(*ev.Failure)
		}
	}
}

// IsConnectivity reports whether err is a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
