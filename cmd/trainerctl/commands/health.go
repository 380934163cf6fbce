package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/sonic-trainer/internal/grpchealth"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
)

var grpcAddr string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Long: `Query GET /health on the server. With --grpc, also query the
grpc.health.v1.Health service at the given address.

Examples:
  trainerctl health
  trainerctl health --grpc localhost:9090`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		out := cmd.OutOrStdout()
		if err := printHTTPHealth(ctx, out, serverURL); err != nil {
			return err
		}
		if grpcAddr == "" {
			return nil
		}

		resp, err := grpchealth.Check(ctx, grpcAddr, grpchealth.Service)
		if err != nil {
			return err
		}
		body, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
		if err != nil {
			return fmt.Errorf("render grpc health: %w", err)
		}
		fmt.Fprintln(out, labelStyle.Render("gRPC"))
		fmt.Fprintln(out, string(body))
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC health address (host:port)")
}

type healthReport struct {
	Status             string            `json:"status"`
	Service            string            `json:"service"`
	ActiveSessionCount int               `json:"active_session_count"`
	Timestamp          string            `json:"timestamp"`
	AWSRegion          string            `json:"aws_region"`
	HasAWSCredentials  bool              `json:"has_aws_credentials"`
	Checks             map[string]string `json:"checks"`
}

func printHTTPHealth(ctx context.Context, out io.Writer, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var h healthReport
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("decode health (status %d): %w", resp.StatusCode, err)
	}

	fmt.Fprintln(out, titleStyle.Render(h.Service)+" "+statusStyle(h.Status == "healthy").Render(h.Status))
	fmt.Fprintf(out, "%s %d\n", labelStyle.Render("active sessions:"), h.ActiveSessionCount)
	fmt.Fprintf(out, "%s %s (credentials: %t)\n", labelStyle.Render("aws region:"), h.AWSRegion, h.HasAWSCredentials)
	for name, state := range h.Checks {
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render(name+":"), statusStyle(state == "ok").Render(state))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: %s", resp.Status)
	}
	return nil
}
