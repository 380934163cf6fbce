// Package main provides trainerctl, a command-line client for the sales
// practice server.
//
// Usage:
//
//	trainerctl [flags] <command> [args]
//
// Commands:
//
//	health    - Check the HTTP (and optionally gRPC) health endpoints
//	scenarios - List the built-in role-play scenarios
//	talk      - Run a practice session from the terminal
package main

import (
	"fmt"
	"os"

	"github.com/ashureev/sonic-trainer/cmd/trainerctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
