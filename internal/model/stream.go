// Package model adapts the remote speech-to-speech model, the fallback text
// model and speech synthesis onto small interfaces the session layer drives.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	// ErrStreamClosed is returned by Send after Close.
	ErrStreamClosed = errors.New("model: stream closed")
	// ErrThrottled marks requests rejected for rate or quota reasons.
	ErrThrottled = errors.New("model: throttled")
	// ErrUnavailable marks transient service-side failures.
	ErrUnavailable = errors.New("model: service unavailable")
)

// Stream is one open duplex stream to the model. Send and Receive may be
// called from different goroutines; Send calls must not be concurrent with
// each other. Receive returns io.EOF once the model ends the stream.
type Stream interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Opener opens model streams. The context bounds the life of the stream,
// not just the open call.
type Opener interface {
	Open(ctx context.Context) (Stream, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Stream, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context) (Stream, error) { return f(ctx) }

// Synthesizer turns text into encoded speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Responder produces a single text completion for a prompt.
type Responder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// ErrorCode returns the AWS error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func classify(op string, err error) error {
	switch ErrorCode(err) {
	case "ThrottlingException", "ServiceQuotaExceededException", "TooManyRequestsException":
		return fmt.Errorf("%s: %w: %w", op, ErrThrottled, err)
	case "ServiceUnavailableException", "ModelNotReadyException", "ModelTimeoutException",
		"InternalServerException", "ModelStreamErrorException":
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
