package commands

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"
)

// 100ms of 16 kHz, 16-bit mono PCM.
const defaultChunkBytes = 3200

var errSessionFailed = errors.New("session failed")

type talkOptions struct {
	Scenario   string
	Voice      string
	Mode       string
	AudioFile  string
	Says       []string
	SaveAudio  string
	ChunkBytes int
	Pace       time.Duration
	Linger     time.Duration
}

var talkOpts talkOptions

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Run a practice session from the terminal",
	Long: `Open a session on the server, send speech or text, and print the
conversation as it arrives.

Audio input must be raw 16 kHz, 16-bit, mono little-endian PCM.

Examples:
  trainerctl talk --scenario smb-prospecting --audio pitch.pcm
  trainerctl talk --mode text --say "Hi, do you have a minute?"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if talkOpts.AudioFile == "" && len(talkOpts.Says) == 0 {
			return fmt.Errorf("nothing to say, use --audio or --say")
		}
		wsURL, err := websocketURL(serverURL)
		if err != nil {
			return err
		}
		return runTalk(cmd.Context(), wsURL, talkOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := talkCmd.Flags()
	f.StringVar(&talkOpts.Scenario, "scenario", "", "scenario key (server default when empty)")
	f.StringVar(&talkOpts.Voice, "voice", "", "voice ID")
	f.StringVar(&talkOpts.Mode, "mode", "voice", "session mode: voice or text")
	f.StringVar(&talkOpts.AudioFile, "audio", "", "raw PCM file to stream")
	f.StringArrayVar(&talkOpts.Says, "say", nil, "text to send (repeatable)")
	f.StringVar(&talkOpts.SaveAudio, "save-audio", "", "write assistant audio to this file")
	f.IntVar(&talkOpts.ChunkBytes, "chunk", defaultChunkBytes, "audio chunk size in bytes")
	f.DurationVar(&talkOpts.Pace, "pace", 100*time.Millisecond, "delay between audio chunks")
	f.DurationVar(&talkOpts.Linger, "linger", 3*time.Second, "time to wait for replies before ending")
}

// websocketURL maps the server base URL to its /ws endpoint.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

type outgoing struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
	Voice     string `json:"voice,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Text      string `json:"text,omitempty"`
}

type incoming struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Scenario  string `json:"scenario"`
	Voice     string `json:"voice"`
	Mode      string `json:"mode"`
	Message   string `json:"message"`
	Text      string `json:"text"`
	Audio     string `json:"audio"`
}

func runTalk(ctx context.Context, wsURL string, opts talkOptions, out io.Writer) error {
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = defaultChunkBytes
	}
	var audio []byte
	if opts.AudioFile != "" {
		var err error
		if audio, err = os.ReadFile(opts.AudioFile); err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
	}
	var saved io.WriteCloser
	if opts.SaveAudio != "" {
		f, err := os.Create(opts.SaveAudio)
		if err != nil {
			return fmt.Errorf("create audio output: %w", err)
		}
		defer func() { _ = f.Close() }()
		saved = f
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "done") }()
	ws.SetReadLimit(4 << 20)

	control := make(chan incoming, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(control)
		for {
			var ev incoming
			if err := wsjson.Read(ctx, ws, &ev); err != nil {
				readErr <- err
				return
			}
			printEvent(out, ev)
			if ev.Type == "assistant_audio" || (ev.Type == "ai_response" && ev.Audio != "") {
				if saved != nil {
					if pcm, err := base64.StdEncoding.DecodeString(ev.Audio); err == nil {
						_, _ = saved.Write(pcm)
					}
				}
				if ev.Type == "assistant_audio" {
					continue
				}
			}
			select {
			case control <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	await := func(types ...string) (incoming, error) {
		for {
			select {
			case ev, ok := <-control:
				if !ok {
					select {
					case err := <-readErr:
						return incoming{}, fmt.Errorf("connection closed: %w", err)
					default:
						return incoming{}, ctx.Err()
					}
				}
				if ev.Type == "session_error" {
					return ev, fmt.Errorf("%w: %s", errSessionFailed, ev.Message)
				}
				for _, t := range types {
					if ev.Type == t {
						return ev, nil
					}
				}
			case <-ctx.Done():
				return incoming{}, ctx.Err()
			}
		}
	}

	if _, err := await("connected"); err != nil {
		return err
	}
	if err := wsjson.Write(ctx, ws, outgoing{
		Type:     "start_session",
		Scenario: opts.Scenario,
		Voice:    opts.Voice,
		Mode:     opts.Mode,
	}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	started, err := await("session_started")
	if err != nil {
		return err
	}
	id := started.SessionID

	for off := 0; off < len(audio); off += opts.ChunkBytes {
		end := min(off+opts.ChunkBytes, len(audio))
		msg := outgoing{Type: "send_audio", SessionID: id, Audio: base64.StdEncoding.EncodeToString(audio[off:end])}
		if err := wsjson.Write(ctx, ws, msg); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		if opts.Pace > 0 {
			select {
			case <-time.After(opts.Pace):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	for _, text := range opts.Says {
		if err := wsjson.Write(ctx, ws, outgoing{Type: "send_text", SessionID: id, Text: text}); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
		if started.Mode == "text" {
			if _, err := await("ai_response"); err != nil {
				return err
			}
		}
	}

	if opts.Linger > 0 {
		select {
		case <-time.After(opts.Linger):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := wsjson.Write(ctx, ws, outgoing{Type: "end_session", SessionID: id}); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	_, err = await("session_ended")
	return err
}

func printEvent(out io.Writer, ev incoming) {
	switch ev.Type {
	case "connected":
		fmt.Fprintln(out, systemStyle.Render(ev.Status))
	case "session_started":
		fmt.Fprintln(out, systemStyle.Render(fmt.Sprintf("session %s started (%s, %s, %s)", ev.SessionID, ev.Scenario, ev.Voice, ev.Mode)))
	case "user_transcript":
		fmt.Fprintln(out, userStyle.Render("you: ")+ev.Text)
	case "assistant_text", "ai_response":
		fmt.Fprintln(out, assistantStyle.Render("customer: ")+ev.Text)
	case "session_ended":
		fmt.Fprintln(out, systemStyle.Render("session "+ev.SessionID+" ended"))
	case "session_error", "error":
		fmt.Fprintln(out, errorStyle.Render("error: ")+ev.Message)
	}
}
