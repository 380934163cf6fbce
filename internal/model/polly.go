package model

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	ptypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
)

// SynthesizeSpeechAPI is the Polly operation used by [PollySynthesizer].
// The [polly.Client] type satisfies it.
type SynthesizeSpeechAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollySynthesizer renders fallback replies as neural mp3 speech.
type PollySynthesizer struct {
	client SynthesizeSpeechAPI
}

// NewPollySynthesizer wraps a Polly client.
func NewPollySynthesizer(client SynthesizeSpeechAPI) *PollySynthesizer {
	return &PollySynthesizer{client: client}
}

// Synthesize returns mp3 audio for text spoken by voice.
func (p *PollySynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		OutputFormat: ptypes.OutputFormatMp3,
		VoiceId:      ptypes.VoiceId(voice),
		Engine:       ptypes.EngineNeural,
	})
	if err != nil {
		return nil, classify("synthesize speech", err)
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read audio stream: %w", err)
	}
	return audio, nil
}
