package model

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// DefaultStreamModelID is the speech-to-speech model used when none is configured.
const DefaultStreamModelID = "amazon.nova-sonic-v1:0"

// BidirectionalStreamAPI is the Bedrock Runtime operation used by
// [BedrockOpener]. The [bedrockruntime.Client] type satisfies it.
type BidirectionalStreamAPI interface {
	InvokeModelWithBidirectionalStream(ctx context.Context, params *bedrockruntime.InvokeModelWithBidirectionalStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithBidirectionalStreamOutput, error)
}

// BedrockOpener opens bidirectional streams on Amazon Bedrock Runtime.
type BedrockOpener struct {
	client  BidirectionalStreamAPI
	modelID string
	logger  *slog.Logger
}

// NewBedrockOpener creates an opener for modelID ("" selects the default model).
func NewBedrockOpener(client BidirectionalStreamAPI, modelID string, logger *slog.Logger) *BedrockOpener {
	if modelID == "" {
		modelID = DefaultStreamModelID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockOpener{client: client, modelID: modelID, logger: logger}
}

// Open starts a new bidirectional stream.
func (o *BedrockOpener) Open(ctx context.Context) (Stream, error) {
	out, err := o.client.InvokeModelWithBidirectionalStream(ctx, &bedrockruntime.InvokeModelWithBidirectionalStreamInput{
		ModelId: aws.String(o.modelID),
	})
	if err != nil {
		return nil, classify("open bedrock stream", err)
	}
	o.logger.Debug("Bedrock stream opened", "model_id", o.modelID)
	return newBedrockStream(out.GetStream()), nil
}

// eventStream is the subset of the generated event stream the adapter uses.
type eventStream interface {
	Send(ctx context.Context, event types.InvokeModelWithBidirectionalStreamInput) error
	Events() <-chan types.InvokeModelWithBidirectionalStreamOutput
	Close() error
	Err() error
}

type bedrockStream struct {
	es        eventStream
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newBedrockStream(es eventStream) *bedrockStream {
	return &bedrockStream{es: es, closed: make(chan struct{})}
}

func (s *bedrockStream) Send(ctx context.Context, frame []byte) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}
	err := s.es.Send(ctx, &types.InvokeModelWithBidirectionalStreamInputMemberChunk{
		Value: types.BidirectionalInputPayloadPart{Bytes: frame},
	})
	if err != nil {
		return classify("send frame", err)
	}
	return nil
}

func (s *bedrockStream) Receive(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, io.EOF
		case ev, ok := <-s.es.Events():
			if !ok {
				if err := s.es.Err(); err != nil {
					return nil, classify("receive frame", err)
				}
				return nil, io.EOF
			}
			if chunk, isChunk := ev.(*types.InvokeModelWithBidirectionalStreamOutputMemberChunk); isChunk {
				return chunk.Value.Bytes, nil
			}
		}
	}
}

func (s *bedrockStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.es.Close()
	})
	return s.closeErr
}
