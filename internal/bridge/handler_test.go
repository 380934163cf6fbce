package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/sonic-trainer/internal/domain"
	"github.com/ashureev/sonic-trainer/internal/identity"
	"github.com/ashureev/sonic-trainer/internal/model"
	"github.com/ashureev/sonic-trainer/internal/model/modeltest"
	"github.com/ashureev/sonic-trainer/internal/protocol"
	"github.com/ashureev/sonic-trainer/internal/scenario"
	"github.com/ashureev/sonic-trainer/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type fakeRecorder struct {
	mu     sync.Mutex
	states map[string][]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{states: make(map[string][]string)}
}

func (f *fakeRecorder) RecordCreated(_ context.Context, rec *domain.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[rec.SessionID] = append(f.states[rec.SessionID], rec.State)
	return nil
}

func (f *fakeRecorder) RecordState(_ context.Context, id, state, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = append(f.states[id], state)
	return nil
}

func (f *fakeRecorder) history(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.states[id]...)
}

type fakeProber struct{}

func (fakeProber) Probe(context.Context) model.ProbeResult {
	return model.ProbeResult{ServerOK: true, Transport: "fake", AWSRegion: "us-east-1"}
}

type fixture struct {
	t        *testing.T
	srv      *httptest.Server
	registry *session.Registry
	opener   *modeltest.Opener
	recorder *fakeRecorder
	handler  *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	opener := &modeltest.Opener{}
	reg := session.NewRegistry(session.Deps{
		Catalog: scenario.MustLoad(),
		Opener:  opener,
		Logger:  logger,
	}, session.DefaultConfig())
	rec := newFakeRecorder()

	h := NewHandler(reg, fakeProber{}, rec, Options{IsDev: true, LaneQueueSize: 8, Logger: logger})
	srv := httptest.NewServer(identity.Middleware(nil, true)(h))
	t.Cleanup(srv.Close)

	return &fixture{t: t, srv: srv, registry: reg, opener: opener, recorder: rec, handler: h}
}

func (f *fixture) dial() *websocket.Conn {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http"), nil)
	if err != nil {
		f.t.Fatalf("Dial failed: %v", err)
	}
	f.t.Cleanup(func() { _ = c.CloseNow() })

	if ev := f.read(c); ev.Type != typeConnected || ev.Status != connectedStatus {
		f.t.Fatalf("expected connected event, got %+v", ev)
	}
	return c
}

func (f *fixture) write(c *websocket.Conn, msg wsMessage) {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, msg); err != nil {
		f.t.Fatalf("write %s: %v", msg.Type, err)
	}
}

func (f *fixture) read(c *websocket.Conn) event {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var ev event
	if err := wsjson.Read(ctx, c, &ev); err != nil {
		f.t.Fatalf("read: %v", err)
	}
	return ev
}

func (f *fixture) start(c *websocket.Conn, scenarioKey, voice string) event {
	f.t.Helper()
	f.write(c, wsMessage{Type: typeStartSession, Scenario: scenarioKey, Voice: voice})
	ev := f.read(c)
	if ev.Type != typeSessionStarted {
		f.t.Fatalf("expected session_started, got %+v", ev)
	}
	return ev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func TestStartSessionEchoesScenarioAndVoice(t *testing.T) {
	f := newFixture(t)
	c := f.dial()

	ev := f.start(c, scenario.SMBProspecting, "Joanna")
	if ev.Scenario != scenario.SMBProspecting || ev.Voice != "Joanna" || ev.Mode != "voice" || ev.SessionID == "" {
		t.Fatalf("unexpected session_started: %+v", ev)
	}

	want, _ := scenario.MustLoad().Lookup(scenario.SMBProspecting)
	events := f.opener.Last().Events()
	if events[2].ContentStart.Role != protocol.RoleSystem || events[3].TextInput.Content != want.Prompt {
		t.Fatal("system content does not carry the smb-prospecting prompt")
	}
	if got := f.recorder.history(ev.SessionID); len(got) != 2 || got[0] != domain.StateCreated || got[1] != domain.StateActive {
		t.Fatalf("unexpected ledger states: %v", got)
	}
}

func TestAudioRoundTrip(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	id := f.start(c, scenario.VMwareMigration, "matthew").SessionID
	stream := f.opener.Last()

	chunk := []byte{0x00, 0x01, 0x02, 0x03}
	f.write(c, wsMessage{Type: typeSendAudio, SessionID: id, Audio: base64.StdEncoding.EncodeToString(chunk)})
	waitFor(t, "audio input frame", func() bool { return contains(stream.Names(), protocol.NameAudioInput) })

	stream.PushEvent(protocol.Event{ContentStart: &protocol.ContentStart{Role: protocol.RoleUser}})
	stream.PushEvent(protocol.Event{TextOutput: &protocol.TextOutput{Content: "We run about forty hosts."}})
	stream.PushEvent(protocol.Event{ContentStart: &protocol.ContentStart{
		Role:                  protocol.RoleAssistant,
		AdditionalModelFields: `{"generationStage":"SPECULATIVE"}`,
	}})
	stream.PushEvent(protocol.Event{TextOutput: &protocol.TextOutput{Content: "What's your licensing cost today?"}})
	audio := base64.StdEncoding.EncodeToString([]byte{9, 8, 7, 6})
	stream.PushEvent(protocol.Event{AudioOutput: &protocol.AudioOutput{Content: audio}})

	want := []event{
		{Type: typeUserTranscript, SessionID: id, Text: "We run about forty hosts."},
		{Type: typeAssistantText, SessionID: id, Text: "What's your licensing cost today?"},
		{Type: typeAssistantAudio, SessionID: id, Audio: audio},
	}
	for i, w := range want {
		if got := f.read(c); got != w {
			t.Fatalf("event %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestEndSessionTearsDown(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	id := f.start(c, "", "matthew").SessionID
	stream := f.opener.Last()

	f.write(c, wsMessage{Type: typeEndSession, SessionID: id})
	if ev := f.read(c); ev.Type != typeSessionEnded || ev.SessionID != id {
		t.Fatalf("expected session_ended, got %+v", ev)
	}
	if f.registry.Len() != 0 || !stream.Closed() {
		t.Fatal("session not removed and closed")
	}
	names := stream.Names()
	if names[len(names)-1] != protocol.NameSessionEnd {
		t.Fatalf("last frame %q, want sessionEnd", names[len(names)-1])
	}
	if got := f.recorder.history(id); got[len(got)-1] != domain.StateEnded {
		t.Fatalf("unexpected ledger states: %v", got)
	}

	f.write(c, wsMessage{Type: typeEndSession, SessionID: id})
	if ev := f.read(c); ev.Type != typeError || ev.Message != errSessionNotFound.Error() {
		t.Fatalf("expected not found on second end, got %+v", ev)
	}
}

// pendingStart sends start_session against a gated opener and returns the
// session ID once Open is waiting on the gate.
func (f *fixture) pendingStart(c *websocket.Conn) string {
	f.t.Helper()
	f.opener.Gate = make(chan struct{})
	f.write(c, wsMessage{Type: typeStartSession, Scenario: scenario.SMBProspecting})
	select {
	case <-f.opener.Opened():
	case <-time.After(3 * time.Second):
		f.t.Fatal("model stream never requested")
	}
	infos := f.registry.Snapshot()
	if len(infos) != 1 {
		f.t.Fatalf("expected 1 registered session, got %d", len(infos))
	}
	return infos[0].ID
}

func TestEndDuringPendingOpen(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	id := f.pendingStart(c)

	f.write(c, wsMessage{Type: typeEndSession, SessionID: id})
	if ev := f.read(c); ev.Type != typeSessionEnded || ev.SessionID != id {
		t.Fatalf("expected session_ended, got %+v", ev)
	}
	if f.registry.Len() != 0 {
		t.Fatal("ended session still registered")
	}
	if f.opener.Last() != nil {
		t.Fatal("model stream opened for an ended session")
	}
	if got := f.recorder.history(id); got[len(got)-1] != domain.StateEnded {
		t.Fatalf("unexpected ledger states: %v", got)
	}

	// Nothing from the abandoned start may follow.
	f.write(c, wsMessage{Type: typePing})
	if ev := f.read(c); ev.Type != typePong {
		t.Fatalf("expected pong, got %+v", ev)
	}
}

func TestEndDoesNotStallReadsOnFullLane(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	id := f.pendingStart(c)

	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	for range 12 {
		f.write(c, wsMessage{Type: typeSendAudio, SessionID: id, Audio: audio})
	}
	f.write(c, wsMessage{Type: typeEndSession, SessionID: id})
	f.write(c, wsMessage{Type: typePing})

	var gotPong, gotEnded bool
	for range 2 {
		switch ev := f.read(c); ev.Type {
		case typePong:
			gotPong = true
		case typeSessionEnded:
			gotEnded = ev.SessionID == id
		default:
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	if !gotPong || !gotEnded {
		t.Fatalf("pong=%v session_ended=%v", gotPong, gotEnded)
	}
	waitFor(t, "registry cleanup", func() bool { return f.registry.Len() == 0 })
}

func TestModelStreamEndEndsSession(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	id := f.start(c, scenario.SMBProspecting, "matthew").SessionID
	stream := f.opener.Last()

	stream.Finish()
	ev := f.read(c)
	if ev.Type != typeSessionError || ev.SessionID != id || ev.Message != "model stream ended" {
		t.Fatalf("expected session_error, got %+v", ev)
	}
	if ev := f.read(c); ev.Type != typeSessionEnded || ev.SessionID != id {
		t.Fatalf("expected session_ended, got %+v", ev)
	}
	if f.registry.Len() != 0 || !stream.Closed() {
		t.Fatal("session not removed and closed")
	}
	if got := f.recorder.history(id); got[len(got)-1] != domain.StateEnded {
		t.Fatalf("unexpected ledger states: %v", got)
	}

	f.write(c, wsMessage{Type: typeSendAudio, SessionID: id, Audio: "AAAA"})
	if ev := f.read(c); ev.Type != typeError || ev.Message != errSessionNotFound.Error() {
		t.Fatalf("expected not found after stream end, got %+v", ev)
	}
}

func TestStartSessionEchoesRequestedScenario(t *testing.T) {
	f := newFixture(t)
	c := f.dial()

	ev := f.start(c, "not-a-scenario", "matthew")
	if ev.Scenario != "not-a-scenario" {
		t.Fatalf("scenario = %q, want the key the client sent", ev.Scenario)
	}
	s, ok := f.registry.Get(ev.SessionID)
	if !ok || s.Scenario != scenario.SituationalFluency {
		t.Fatal("unknown scenario did not fall back to situational-fluency")
	}

	ev = f.start(c, "", "matthew")
	if ev.Scenario != scenario.SituationalFluency {
		t.Fatalf("empty scenario echoed as %q", ev.Scenario)
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	f := newFixture(t)
	c := f.dial()

	f.write(c, wsMessage{Type: typeSendAudio, SessionID: "session_404", Audio: "AAAA"})
	ev := f.read(c)
	if ev.Type != typeError || ev.SessionID != "session_404" || ev.Message != errSessionNotFound.Error() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSessionsAreOwnedByTheirConnection(t *testing.T) {
	f := newFixture(t)
	a := f.dial()
	b := f.dial()
	id := f.start(a, "", "matthew").SessionID

	f.write(b, wsMessage{Type: typeEndSession, SessionID: id})
	if ev := f.read(b); ev.Type != typeError || ev.Message != errSessionNotFound.Error() {
		t.Fatalf("foreign end should be not found, got %+v", ev)
	}
	if _, ok := f.registry.Get(id); !ok {
		t.Fatal("foreign connection ended someone else's session")
	}
}

func TestStartFailureReportsSessionError(t *testing.T) {
	f := newFixture(t)
	f.opener.Err = errors.New("AccessDeniedException")
	c := f.dial()

	f.write(c, wsMessage{Type: typeStartSession, Scenario: scenario.SMBProspecting})
	ev := f.read(c)
	if ev.Type != typeSessionError || !strings.Contains(ev.Message, "AccessDeniedException") {
		t.Fatalf("expected session_error, got %+v", ev)
	}
	waitFor(t, "registry cleanup", func() bool { return f.registry.Len() == 0 })
	if got := f.recorder.history(ev.SessionID); got[len(got)-1] != domain.StateFailed {
		t.Fatalf("unexpected ledger states: %v", got)
	}
}

func TestInvalidModeIsRejected(t *testing.T) {
	f := newFixture(t)
	c := f.dial()

	f.write(c, wsMessage{Type: typeStartSession, Mode: "video"})
	if ev := f.read(c); ev.Type != typeSessionError {
		t.Fatalf("expected session_error, got %+v", ev)
	}
	if f.registry.Len() != 0 {
		t.Fatal("session created for invalid mode")
	}
}

func TestDisconnectEndsEverySession(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	f.start(c, scenario.SMBProspecting, "matthew")
	f.start(c, scenario.VMwareMigration, "tiffany")
	if f.registry.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", f.registry.Len())
	}

	_ = c.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, "sessions to end", func() bool { return f.registry.Len() == 0 })

	for i, stream := range f.opener.Streams() {
		if !stream.Closed() {
			t.Fatalf("stream %d left open", i)
		}
		names := stream.Names()
		if names[len(names)-2] != protocol.NamePromptEnd || names[len(names)-1] != protocol.NameSessionEnd {
			t.Fatalf("stream %d teardown = %v", i, names)
		}
	}
}

func TestTestConnectionAndPing(t *testing.T) {
	f := newFixture(t)
	c := f.dial()

	f.write(c, wsMessage{Type: typePing})
	if ev := f.read(c); ev.Type != typePong {
		t.Fatalf("expected pong, got %+v", ev)
	}

	f.write(c, wsMessage{Type: typeTestConnection})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var res testResult
	if err := wsjson.Read(ctx, c, &res); err != nil {
		t.Fatal(err)
	}
	if res.Type != typeTestResult || !res.ServerOK || res.Transport != "fake" {
		t.Fatalf("unexpected test_result: %+v", res)
	}
}

func TestMalformedMessages(t *testing.T) {
	f := newFixture(t)
	c := f.dial()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if ev := f.read(c); ev.Type != typeError || ev.Message != "invalid message" {
		t.Fatalf("unexpected event %+v", ev)
	}

	f.write(c, wsMessage{Type: "dance"})
	if ev := f.read(c); ev.Type != typeError || !strings.Contains(ev.Message, "dance") {
		t.Fatalf("unexpected event %+v", ev)
	}

	id := f.start(c, "", "matthew").SessionID
	f.write(c, wsMessage{Type: typeSendAudio, SessionID: id, Audio: "%%%"})
	if ev := f.read(c); ev.Type != typeError || ev.Message != "invalid audio payload" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestTextModeReply(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	reg := session.NewRegistry(session.Deps{
		Catalog:   scenario.MustLoad(),
		Responder: responderFunc(func(string) (string, error) { return "Tell me about downtime.", nil }),
		Logger:    logger,
	}, session.DefaultConfig())
	h := NewHandler(reg, nil, nil, Options{IsDev: true, Logger: logger})
	srv := httptest.NewServer(h)
	defer srv.Close()
	f := &fixture{t: t, srv: srv, registry: reg}
	c := f.dial()

	f.write(c, wsMessage{Type: typeStartSession, Scenario: scenario.VMwareMigration, Mode: "text"})
	started := f.read(c)
	if started.Type != typeSessionStarted || started.Mode != "text" || started.Voice != defaultTextVoice {
		t.Fatalf("unexpected start: %+v", started)
	}

	f.write(c, wsMessage{Type: typeSendText, SessionID: started.SessionID, Text: "We can cut your licensing bill."})
	ev := f.read(c)
	if ev.Type != typeAIResponse || ev.Text != "Tell me about downtime." || ev.Audio != "" {
		t.Fatalf("unexpected ai_response: %+v", ev)
	}
}

func TestTextIsRejectedWhenLaneIsFull(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	reg := session.NewRegistry(session.Deps{
		Catalog: scenario.MustLoad(),
		Responder: responderFunc(func(string) (string, error) {
			entered <- struct{}{}
			<-release
			return "Go on.", nil
		}),
		Logger: logger,
	}, session.DefaultConfig())
	h := NewHandler(reg, nil, nil, Options{IsDev: true, LaneQueueSize: 1, Logger: logger})
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer close(release)
	f := &fixture{t: t, srv: srv, registry: reg}
	c := f.dial()

	f.write(c, wsMessage{Type: typeStartSession, Mode: "text"})
	id := f.read(c).SessionID

	f.write(c, wsMessage{Type: typeSendText, SessionID: id, Text: "first"})
	<-entered
	f.write(c, wsMessage{Type: typeSendText, SessionID: id, Text: "second"})
	f.write(c, wsMessage{Type: typeSendText, SessionID: id, Text: "third"})
	if ev := f.read(c); ev.Type != typeError || ev.SessionID != id || ev.Message != errSessionBusy.Error() {
		t.Fatalf("expected busy error, got %+v", ev)
	}

	f.write(c, wsMessage{Type: typePing})
	if ev := f.read(c); ev.Type != typePong {
		t.Fatalf("expected pong, got %+v", ev)
	}
}

type responderFunc func(string) (string, error)

func (f responderFunc) Respond(_ context.Context, prompt string) (string, error) { return f(prompt) }

func TestShutdownClosesConnections(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	f.start(c, "", "matthew")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	// Keep reading so the client answers the server's close frame.
	go func() {
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}()
	if err := f.handler.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if f.registry.Len() != 0 {
		t.Fatal("shutdown left sessions registered")
	}
	if !f.opener.Last().Closed() {
		t.Fatal("shutdown left the model stream open")
	}
}
