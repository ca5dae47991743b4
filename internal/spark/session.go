package spark

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
)

// ErrCancelled is returned by Wait after Cancel.
var ErrCancelled = errors.New("session cancelled")

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Session is one streaming generation. The terminal transition happens exactly once and
// no delta is delivered after it.
type Session struct {
	op      string
	logger  *zap.Logger
	onDelta func(string) error

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	text  strings.Builder
	err   error
	done  chan struct{}

	// deliverMu is held while onDelta runs so Cancel can wait for an in-flight call.
	deliverMu sync.Mutex
}

func newSession(op string, logger *zap.Logger, onDelta func(string) error) *Session {
	return &Session{
		op:      op,
		logger:  logger,
		onDelta: onDelta,
		state:   StateConnecting,
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns the accumulated text and the terminal error.
func (s *Session) Wait() (string, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String(), s.err
}

// Cancel closes the connection. Once it returns no further delta is delivered.
// It must not be called from inside OnDelta; return an error from the callback instead.
func (s *Session) Cancel() {
	s.cancelWith(ErrCancelled)
}

func (s *Session) cancelWith(err error) {
	s.finish(StateCancelled, err)
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

// finish performs the single terminal transition.
func (s *Session) finish(state State, err error) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.err = err
	conn := s.conn
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		conn.Close()
	}
	return true
}

func (s *Session) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.conn = conn
	s.state = StateStreaming
	return true
}

// deliver appends delta and hands it to onDelta. It reports false once the session is over.
func (s *Session) deliver(delta string) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return false
	}
	s.text.WriteString(delta)
	s.mu.Unlock()

	if s.onDelta == nil {
		return true
	}
	if err := s.onDelta(delta); err != nil {
		s.finish(StateCancelled, err)
		return false
	}
	return true
}

func (s *Session) run(ctx context.Context, dialer *websocket.Dialer, target string, payload []byte) {
	stop := context.AfterFunc(ctx, func() { s.cancelWith(ctx.Err()) })
	defer stop()

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if ctx.Err() != nil {
			s.cancelWith(ctx.Err())
			return
		}
		msg := "cannot connect to inference service"
		if resp != nil {
			msg = fmt.Sprintf("handshake rejected: %s", http.StatusText(resp.StatusCode))
			resp.Body.Close()
		}
		s.finish(StateFailed, apperr.Transport(s.op, msg, err))
		return
	}
	if !s.attach(conn) {
		conn.Close()
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.finish(StateFailed, apperr.Transport(s.op, "send request frame failed", err))
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.finish(StateFailed, apperr.Transport(s.op, "connection closed before completion", err))
			return
		}
		frame, err := decodeFrame(data)
		if err != nil {
			s.logger.Warn("skip malformed frame", zap.String("op", s.op), zap.Int("size", len(data)), zap.Error(err))
			continue
		}
		if frame.Header.Code != 0 {
			s.logger.Warn("vendor error",
				zap.String("op", s.op),
				zap.Int("code", frame.Header.Code),
				zap.String("sid", frame.Header.SID),
			)
			s.finish(StateFailed, apperr.Vendor(s.op, frame.Header.Code, frame.Header.Message))
			return
		}
		for _, t := range frame.Payload.Choices.Text {
			if t.Content == "" {
				continue
			}
			if !s.deliver(t.Content) {
				return
			}
		}
		if frame.Header.Status == statusFinal {
			s.finish(StateCompleted, nil)
			return
		}
	}
}
