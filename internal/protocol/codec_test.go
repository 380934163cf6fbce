package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeWrapsPayloadInEventEnvelope(t *testing.T) {
	data, err := Encode(SessionStartEvent(InferenceConfiguration{MaxTokens: 1024, TopP: 0.9, Temperature: 0.7}))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var got map[string]map[string]map[string]map[string]float64
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("frame is not the expected shape: %v (%s)", err, data)
	}
	cfg := got["event"]["sessionStart"]["inferenceConfiguration"]
	if cfg["maxTokens"] != 1024 || cfg["topP"] != 0.9 || cfg["temperature"] != 0.7 {
		t.Fatalf("unexpected inference configuration: %v", cfg)
	}
}

func TestEncodeSessionEndIsEmptyObject(t *testing.T) {
	data, err := Encode(SessionEndEvent())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"event":{"sessionEnd":{}}}` {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func TestEncodeRejectsEmptyAndAmbiguousEvents(t *testing.T) {
	if _, err := Encode(Event{}); !errors.Is(err, ErrEmptyEvent) {
		t.Fatalf("expected ErrEmptyEvent for empty event, got %v", err)
	}
	ev := PromptEndEvent("p")
	ev.SessionEnd = &SessionEnd{}
	if _, err := Encode(ev); !errors.Is(err, ErrEmptyEvent) {
		t.Fatalf("expected ErrEmptyEvent for two payloads, got %v", err)
	}
}

func TestPromptStartCarriesOutputAudioConfiguration(t *testing.T) {
	data, err := Encode(PromptStartEvent("prompt-1", "Joanna"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	ev, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	audio := ev.PromptStart.AudioOutputConfiguration
	if audio.SampleRateHertz != 24000 || audio.SampleSizeBits != 16 || audio.ChannelCount != 1 {
		t.Fatalf("unexpected audio format: %+v", audio)
	}
	if audio.VoiceID != "Joanna" || audio.Encoding != "base64" {
		t.Fatalf("unexpected voice/encoding: %+v", audio)
	}
	if ev.PromptStart.TextOutputConfiguration.MediaType != "text/plain" {
		t.Fatalf("unexpected text media type: %+v", ev.PromptStart.TextOutputConfiguration)
	}
}

func TestAudioContentStartIsUserAt16kHz(t *testing.T) {
	ev := AudioContentStartEvent("p", "audio-1")
	if ev.ContentStart.Role != RoleUser || ev.ContentStart.Type != ContentAudio {
		t.Fatalf("unexpected role/type: %+v", ev.ContentStart)
	}
	if ev.ContentStart.AudioInputConfiguration.SampleRateHertz != 16000 {
		t.Fatalf("unexpected input rate: %d", ev.ContentStart.AudioInputConfiguration.SampleRateHertz)
	}
}

func TestDecodeInboundFrames(t *testing.T) {
	ev, err := Decode([]byte(`{"event":{"textOutput":{"role":"USER","content":"hello there"}}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.Name() != NameTextOutput || ev.TextOutput.Role != RoleUser || ev.TextOutput.Content != "hello there" {
		t.Fatalf("unexpected event: %+v", ev.TextOutput)
	}

	ev, err = Decode([]byte(`{"event":{"contentStart":{"type":"TEXT","role":"ASSISTANT","additionalModelFields":"{\"generationStage\":\"SPECULATIVE\"}"}}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !IsSpeculative(ev.ContentStart.AdditionalModelFields) {
		t.Fatalf("expected speculative stage in %q", ev.ContentStart.AdditionalModelFields)
	}
}

func TestDecodeUnknownEventIsNotAnError(t *testing.T) {
	ev, err := Decode([]byte(`{"event":{"usageEvent":{"totalTokens":12}}}`))
	if err != nil {
		t.Fatalf("unknown event should decode: %v", err)
	}
	if ev.Name() != "usageEvent" || ev.Unknown != "usageEvent" {
		t.Fatalf("unexpected event name %q", ev.Name())
	}
}

func TestDecodeMalformedFrames(t *testing.T) {
	cases := map[string]string{
		"truncated":        `{"event":{"textOutput":{"content":"hel`,
		"not json":         `garbage`,
		"no envelope":      `{"textOutput":{}}`,
		"two events":       `{"event":{"promptEnd":{},"sessionEnd":{}}}`,
		"payload not obj":  `{"event":{"textOutput":"hi"}}`,
		"wrong field type": `{"event":{"textOutput":{"content":42}}}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
		})
	}
}

func TestAudioInputKeepsBase64Text(t *testing.T) {
	data, err := Encode(AudioInputEvent("p", "a", "AAEC"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(data), `"content":"AAEC"`) {
		t.Fatalf("audio payload not carried as base64 text: %s", data)
	}
}

func TestIsSpeculativeFailsSafe(t *testing.T) {
	cases := map[string]bool{
		``:                                    false,
		`not-json`:                            false,
		`{"generationStage":"FINAL"}`:         false,
		`{"generationStage":"speculative"}`:   true,
		`{"generationStage":"SPECULATIVE"}`:   true,
		`{"generationStage":["SPECULATIVE"]}`: false,
	}
	for fields, want := range cases {
		if got := IsSpeculative(fields); got != want {
			t.Errorf("IsSpeculative(%q) = %v, want %v", fields, got, want)
		}
	}
}
