package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RelayOpener opens streams over a WebSocket relay that carries one JSON
// frame per text message. Useful for local model simulators and sidecars
// that terminate the model connection themselves.
type RelayOpener struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewRelayOpener creates an opener dialing url.
func NewRelayOpener(url string, header http.Header, logger *slog.Logger) *RelayOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayOpener{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		writeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// Open dials the relay.
func (o *RelayOpener) Open(ctx context.Context) (Stream, error) {
	conn, resp, err := o.dialer.DialContext(ctx, o.url, o.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay %s: http %d: %w", o.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial relay %s: %w", o.url, err)
	}
	o.logger.Debug("Relay stream opened", "url", o.url)
	return &relayStream{conn: conn, writeTimeout: o.writeTimeout}, nil
}

type relayStream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closed       bool
	closeErr     error
}

func (s *relayStream) Send(ctx context.Context, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write relay frame: %w", err)
	}
	return nil
}

func (s *relayStream) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			var netErr *websocket.CloseError
			if errors.As(err, &netErr) {
				return nil, fmt.Errorf("relay closed: %w", err)
			}
			if s.isClosed() {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read relay frame: %w", err)
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *relayStream) isClosed() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closed
}

func (s *relayStream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closed = true
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.writeTimeout))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
