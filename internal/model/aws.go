package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/polly"
)

// Clients bundles the AWS service clients the trainer uses.
type Clients struct {
	Config  aws.Config
	Bedrock *bedrockruntime.Client
	Polly   *polly.Client
}

// NewClients loads the default AWS credential chain for region.
func NewClients(ctx context.Context, region string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Clients{
		Config:  cfg,
		Bedrock: bedrockruntime.NewFromConfig(cfg),
		Polly:   polly.NewFromConfig(cfg),
	}, nil
}

// ProbeResult is the report returned to a client's test-connection request.
type ProbeResult struct {
	ServerOK         bool   `json:"server_ok"`
	Transport        string `json:"transport"`
	AWSRegion        string `json:"aws_region"`
	AWSCredentials   bool   `json:"aws_credentials"`
	AWSConnection    bool   `json:"aws_connection"`
	BedrockAvailable bool   `json:"bedrock_available"`
	PollyAvailable   bool   `json:"polly_available"`
	AWSError         string `json:"aws_error,omitempty"`
	Timestamp        string `json:"timestamp"`
}

// Prober checks that the configured backends are reachable enough to use.
type Prober struct {
	clients   *Clients
	transport string
	region    string
	logger    *slog.Logger
}

// NewProber creates a prober. clients may be nil when AWS is not configured.
func NewProber(clients *Clients, transport, region string, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{clients: clients, transport: transport, region: region, logger: logger}
}

// Probe resolves credentials and reports which clients are usable.
func (p *Prober) Probe(ctx context.Context) ProbeResult {
	res := ProbeResult{
		ServerOK:  true,
		Transport: p.transport,
		AWSRegion: p.region,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if p.clients == nil || p.clients.Config.Credentials == nil {
		res.AWSError = "aws clients not configured"
		return res
	}

	creds, err := p.clients.Config.Credentials.Retrieve(ctx)
	if err != nil {
		p.logger.Warn("Credential probe failed", "error", err)
		res.AWSError = err.Error()
		return res
	}
	res.AWSCredentials = creds.HasKeys()
	res.AWSConnection = res.AWSCredentials
	res.BedrockAvailable = p.clients.Bedrock != nil
	res.PollyAvailable = p.clients.Polly != nil
	return res
}
