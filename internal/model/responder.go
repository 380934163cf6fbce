package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// DefaultResponderModelID is the text model used for fallback replies.
const DefaultResponderModelID = "anthropic.claude-3-sonnet-20240229-v1:0"

var errEmptyCompletion = errors.New("model: completion has no text")

// InvokeModelAPI is the Bedrock Runtime operation used by [BedrockResponder].
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockResponder asks a Bedrock-hosted Anthropic model for one reply.
type BedrockResponder struct {
	client      InvokeModelAPI
	modelID     string
	maxTokens   int
	temperature float64
}

// NewBedrockResponder creates a responder for modelID ("" selects the default).
func NewBedrockResponder(client InvokeModelAPI, modelID string) *BedrockResponder {
	if modelID == "" {
		modelID = DefaultResponderModelID
	}
	return &BedrockResponder{
		client:      client,
		modelID:     modelID,
		maxTokens:   300,
		temperature: 0.7,
	}
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	Messages         []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Respond sends prompt as a single user message and returns the trimmed reply.
func (r *BedrockResponder) Respond(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        r.maxTokens,
		Temperature:      r.temperature,
		Messages:         []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	out, err := r.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(r.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", classify("invoke model", err)
	}

	var resp messagesResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", errEmptyCompletion
	}
	text := strings.TrimSpace(resp.Content[0].Text)
	if text == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}
