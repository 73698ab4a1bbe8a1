// Package cmd implements the command-line interface for inboxdigest.
//
// This package provides the following commands:
//   - serve: Start the HTTP API (and optionally the MCP endpoint)
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
// Every serve flag falls back to an environment variable when it is not set
// explicitly, and a .env file in the working directory is loaded first.
package cmd
