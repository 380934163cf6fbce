package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/sonic-trainer/internal/domain"
	"github.com/ashureev/sonic-trainer/internal/session"
	"github.com/coder/websocket"
)

const (
	defaultVoice     = "matthew"
	defaultTextVoice = "Joanna"
	recordTimeout    = 2 * time.Second
)

var (
	errSessionNotFound = errors.New("session not found")
	errSessionBusy     = errors.New("session busy, try again")
)

type owned struct {
	sess *session.Session
	lane *lane
}

// conn is one client connection and the sessions it owns.
type conn struct {
	ctx      context.Context
	h        *Handler
	ws       *websocket.Conn
	clientID string
	logger   *slog.Logger

	writeMu sync.Mutex
	closed  bool

	mu       sync.Mutex
	sessions map[string]*owned

	// tracks lanes and background tasks so teardown can wait for them
	tasks sync.WaitGroup
}

func newConn(ctx context.Context, h *Handler, ws *websocket.Conn, clientID string, logger *slog.Logger) *conn {
	return &conn{
		ctx:      ctx,
		h:        h,
		ws:       ws,
		clientID: clientID,
		logger:   logger,
		sessions: make(map[string]*owned),
	}
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Debug("WebSocket closed by client")
			} else {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(event{Type: typeError, Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case typeStartSession:
			c.handleStart(msg)
		case typeSendAudio:
			c.handleAudio(msg)
		case typeSendText:
			c.handleText(msg)
		case typeEndSession:
			c.handleEnd(msg)
		case typeTestConnection:
			c.handleTestConnection()
		case typePing:
			c.send(event{Type: typePong})
		default:
			c.send(event{Type: typeError, Message: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

// Deliver forwards session output to the client.
func (c *conn) Deliver(o session.Output) {
	switch o.Kind {
	case session.OutputAssistantText:
		c.send(event{Type: typeAssistantText, SessionID: o.SessionID, Text: o.Text})
	case session.OutputUserTranscript:
		c.send(event{Type: typeUserTranscript, SessionID: o.SessionID, Text: o.Text})
	case session.OutputAssistantAudio:
		c.send(event{Type: typeAssistantAudio, SessionID: o.SessionID, Audio: o.Audio})
	case session.OutputStreamError:
		c.send(event{Type: typeSessionError, SessionID: o.SessionID, Message: "model stream failed: " + o.Text})
		c.finish(o.SessionID)
	case session.OutputStreamEnded:
		c.send(event{Type: typeSessionError, SessionID: o.SessionID, Message: "model stream ended"})
		c.finish(o.SessionID)
	}
}

func (c *conn) handleStart(msg wsMessage) {
	mode, err := session.ParseMode(msg.Mode)
	if err != nil {
		c.send(event{Type: typeSessionError, Message: err.Error()})
		return
	}
	voice := msg.Voice
	if voice == "" {
		voice = defaultVoice
		if mode == session.ModeText {
			voice = defaultTextVoice
		}
	}

	s, err := c.h.registry.Create(session.CreateRequest{
		ClientID: c.clientID,
		Scenario: msg.Scenario,
		Voice:    voice,
		Mode:     mode,
		Sink:     c,
	})
	if err != nil {
		c.logger.Warn("Failed to create session", "error", err)
		c.send(event{Type: typeSessionError, Message: "Failed to start session: " + err.Error()})
		return
	}

	l := c.newLane()
	c.mu.Lock()
	c.sessions[s.ID] = &owned{sess: s, lane: l}
	c.mu.Unlock()

	c.recordCreated(s)
	l.submit(func() { c.startSession(s) })
}

func (c *conn) startSession(s *session.Session) {
	if err := s.Start(c.ctx); err != nil {
		c.h.registry.Remove(s.ID)
		c.forget(s.ID)
		if errors.Is(err, session.ErrEnded) || errors.Is(err, session.ErrInvalidState) {
			c.logger.Debug("Session ended before start completed", "session_id", s.ID)
			return
		}
		c.logger.Warn("Failed to start session", "session_id", s.ID, "error", err)
		c.recordState(s.ID, domain.StateFailed, err.Error())
		c.send(event{Type: typeSessionError, SessionID: s.ID, Message: "Failed to start session: " + err.Error()})
		return
	}

	c.recordState(s.ID, domain.StateActive, "")
	c.send(event{
		Type:      typeSessionStarted,
		SessionID: s.ID,
		Scenario:  requestedScenario(s),
		Voice:     s.Voice,
		Mode:      string(s.Mode),
	})
}

func (c *conn) handleAudio(msg wsMessage) {
	o, err := c.lookup(msg.SessionID)
	if err != nil {
		c.send(event{Type: typeError, SessionID: msg.SessionID, Message: err.Error()})
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil || len(chunk) == 0 {
		c.send(event{Type: typeError, SessionID: msg.SessionID, Message: "invalid audio payload"})
		return
	}

	queued := o.lane.offer(func() {
		if !o.sess.SendAudioChunk(c.ctx, chunk) {
			c.logger.Debug("Audio chunk not sent", "session_id", o.sess.ID)
		}
	})
	if !queued {
		c.logger.Warn("Dropping audio chunk, session lane full", "session_id", o.sess.ID, "bytes", len(chunk))
	}
}

func (c *conn) handleText(msg wsMessage) {
	o, err := c.lookup(msg.SessionID)
	if err != nil {
		c.send(event{Type: typeError, SessionID: msg.SessionID, Message: err.Error()})
		return
	}
	if msg.Text == "" {
		c.send(event{Type: typeError, SessionID: msg.SessionID, Message: "empty text"})
		return
	}

	queued := o.lane.offer(func() {
		s := o.sess
		if s.Mode == session.ModeText {
			reply, err := s.Reply(c.ctx, msg.Text)
			if err != nil {
				c.send(event{Type: typeSessionError, SessionID: s.ID, Message: err.Error()})
				return
			}
			ev := event{Type: typeAIResponse, SessionID: s.ID, Text: reply.Text}
			if len(reply.Audio) > 0 {
				ev.Audio = base64.StdEncoding.EncodeToString(reply.Audio)
			}
			c.send(ev)
			return
		}
		if err := s.SendText(c.ctx, msg.Text); err != nil {
			c.logger.Warn("Failed to send text", "session_id", s.ID, "error", err)
			c.send(event{Type: typeSessionError, SessionID: s.ID, Message: err.Error()})
		}
	})
	if !queued {
		c.send(event{Type: typeError, SessionID: msg.SessionID, Message: errSessionBusy.Error()})
	}
}

func (c *conn) handleEnd(msg wsMessage) {
	if !c.finish(msg.SessionID) {
		c.send(event{Type: typeError, SessionID: msg.SessionID, Message: errSessionNotFound.Error()})
	}
}

// finish releases an owned session and ends it in the background. The end
// does not wait behind the session's lane: it cancels a pending open, then
// lets the queued tasks drain before reporting session_ended. It reports
// false when the connection does not own id.
func (c *conn) finish(id string) bool {
	c.mu.Lock()
	o, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
		c.tasks.Add(1)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	o.lane.close()
	go func() {
		defer c.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.h.opts.TeardownTimeout)
		defer cancel()

		if err := o.sess.End(ctx); err != nil {
			c.logger.Warn("Session ended with errors", "session_id", id, "error", err)
		}
		select {
		case <-o.lane.done:
		case <-ctx.Done():
			c.logger.Warn("Session lane did not drain before deadline", "session_id", id)
		}
		c.release(o.sess)
		c.send(event{Type: typeSessionEnded, SessionID: id})
	}()
	return true
}

func (c *conn) endSession(ctx context.Context, s *session.Session) {
	if err := s.End(ctx); err != nil {
		c.logger.Warn("Session ended with errors", "session_id", s.ID, "error", err)
	}
	c.release(s)
}

// release drops an ended session from the registry and closes its ledger row.
func (c *conn) release(s *session.Session) {
	if dropped, streamErr := s.DispatchStats(); dropped > 0 || streamErr != nil {
		c.logger.Info("Model stream summary", "session_id", s.ID, "dropped_frames", dropped, "stream_error", streamErr)
	}
	c.h.registry.Remove(s.ID)
	c.recordState(s.ID, domain.StateEnded, "")
}

func (c *conn) handleTestConnection() {
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		res := testResult{Type: typeTestResult}
		if c.h.prober == nil {
			res.ServerOK = true
			res.AWSError = "model backend probe not configured"
			res.Timestamp = time.Now().Format(time.RFC3339)
		} else {
			ctx, cancel := context.WithTimeout(c.ctx, c.h.opts.ProbeTimeout)
			res.ProbeResult = c.h.prober.Probe(ctx)
			cancel()
		}
		c.send(res)
	}()
}

// teardown ends every session the connection still owns. Nothing is sent to
// the client after it starts.
func (c *conn) teardown() {
	c.writeMu.Lock()
	c.closed = true
	c.writeMu.Unlock()

	c.mu.Lock()
	remaining := c.sessions
	c.sessions = make(map[string]*owned)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.h.opts.TeardownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, o := range remaining {
		o.lane.close()
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			c.endSession(ctx, s)
		}(o.sess)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("Timed out waiting for session lanes to drain")
	}
	if len(remaining) > 0 {
		c.logger.Info("Ended sessions on disconnect", "count", len(remaining))
	}
}

func (c *conn) newLane() *lane {
	l := newLane(c.h.opts.LaneQueueSize)
	c.tasks.Add(1)
	go func() {
		<-l.done
		c.tasks.Done()
	}()
	return l
}

func (c *conn) lookup(id string) (*owned, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.sessions[id]
	if !ok {
		return nil, errSessionNotFound
	}
	return o, nil
}

func (c *conn) forget(id string) {
	c.mu.Lock()
	o, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()
	if ok {
		o.lane.close()
	}
}

func (c *conn) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode client event", "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.h.opts.WriteTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Debug("WebSocket write error", "error", err)
	}
}

func (c *conn) recordCreated(s *session.Session) {
	if c.h.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	err := c.h.recorder.RecordCreated(ctx, &domain.SessionRecord{
		SessionID: s.ID,
		ClientID:  s.ClientID,
		Scenario:  s.Scenario,
		Voice:     s.Voice,
		Mode:      string(s.Mode),
		State:     domain.StateCreated,
		StartedAt: s.CreatedAt,
	})
	if err != nil {
		c.logger.Warn("Failed to record session", "session_id", s.ID, "error", err)
	}
}

func (c *conn) recordState(id, state, failure string) {
	if c.h.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.h.recorder.RecordState(ctx, id, state, failure, time.Now()); err != nil {
		c.logger.Warn("Failed to record session state", "session_id", id, "state", state, "error", err)
	}
}

// requestedScenario is the scenario key as the client sent it, or the
// resolved key when the client sent none.
func requestedScenario(s *session.Session) string {
	if s.RequestedScenario != "" {
		return s.RequestedScenario
	}
	return s.Scenario
}
