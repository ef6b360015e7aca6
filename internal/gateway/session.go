// Package gateway implements broker.Session over a websocket connection to a
// broker gateway that speaks JSON frames of the form {m, i, n, o}.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/broker"
)

const (
	handshakeTimeout = 10 * time.Second
	loginTimeout     = 10 * time.Second
)

type link struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closing atomic.Bool
	done    chan struct{}
}

// Session is a websocket broker session. It never reconnects on its own: a
// read failure is reported through Inbound.OnDisconnected.
type Session struct {
	logger *zap.Logger
	seq    atomic.Int64

	mu   sync.Mutex
	link *link
}

func NewSession(logger *zap.Logger) *Session {
	return &Session{logger: logger.With(zap.String("component", "gateway"))}
}

// Dial connects to endpoint, logs in when creds carry an API key and starts
// the read loop.
func (s *Session) Dial(ctx context.Context, endpoint string, creds broker.Credentials, in broker.Inbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != nil {
		return nil
	}

	s.logger.Info("gateway.dialing", zap.String("url", endpoint))
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}
	l := &link{conn: conn, done: make(chan struct{})}

	if creds.APIKey != "" {
		if err := s.login(ctx, l, creds); err != nil {
			_ = conn.Close()
			return err
		}
	}

	s.link = l
	go s.readLoop(l, in)
	s.logger.Info("gateway.connected", zap.String("url", endpoint))
	return nil
}

// login sends AuthenticateUser and waits for its reply before the read loop
// starts.
func (s *Session) login(ctx context.Context, l *link, creds broker.Credentials) error {
	req, err := NewLogin(creds)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if err := s.write(l, FrameRequest, OpAuthenticate, req); err != nil {
		return err
	}

	deadline := time.Now().Add(loginTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetReadDeadline(deadline)
	defer func() { _ = l.conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if !strings.EqualFold(f.N, OpAuthenticate) {
			continue
		}
		var reply loginReply
		if err := f.Decode(&reply); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		if !reply.Authenticated {
			return fmt.Errorf("%w: %s", ErrAuthentication, reply.Error)
		}
		return nil
	}
}

// Close sends a close frame and waits for the read loop to exit. It does not
// report a disconnect.
func (s *Session) Close() error {
	s.mu.Lock()
	l := s.link
	s.link = nil
	s.mu.Unlock()
	if l == nil {
		return nil
	}

	l.closing.Store(true)
	l.writeMu.Lock()
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	l.writeMu.Unlock()
	err := l.conn.Close()
	<-l.done
	s.logger.Info("gateway.closed")
	return err
}

func (s *Session) readLoop(l *link, in broker.Inbound) {
	defer close(l.done)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if l.closing.Load() {
				return
			}
			s.logger.Warn("gateway.read_failed", zap.Error(err))
			s.mu.Lock()
			if s.link == l {
				s.link = nil
			}
			s.mu.Unlock()
			_ = l.conn.Close()
			in.OnDisconnected(err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Error("gateway.bad_frame", zap.Error(err))
			continue
		}
		if err := dispatch(in, f); err != nil {
			s.logger.Error("gateway.bad_payload", zap.String("operation", f.N), zap.Error(err))
		}
	}
}

func (s *Session) send(ctx context.Context, m FrameType, op string, payload any) error {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return broker.ErrNotConnected
	}
	deadline, _ := ctx.Deadline()
	return s.writeBy(l, deadline, m, op, payload)
}

func (s *Session) write(l *link, m FrameType, op string, payload any) error {
	return s.writeBy(l, time.Time{}, m, op, payload)
}

// writeBy sends one frame; a zero deadline means none.
func (s *Session) writeBy(l *link, deadline time.Time, m FrameType, op string, payload any) error {
	seq := s.seq.Add(2)
	f, err := newFrame(m, seq, op, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", op, err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	s.logger.Debug("gateway.send", zap.String("operation", op), zap.Int64("sequence", seq))
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(deadline)
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", op, err)
	}
	return nil
}

var _ broker.Session = (*Session)(nil)
