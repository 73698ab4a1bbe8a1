package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the inboxdigest application
var rootCmd = &cobra.Command{
	Use:   "inboxdigest",
	Short: "Summarizes Gmail messages with Gemini",
	Long: `inboxdigest is a backend that signs users in with Google, lists their
Gmail messages and summarizes them, one at a time or in batches, with Gemini.

It serves a JSON API for a browser frontend and, optionally, the same
operations as MCP tools for AI assistants.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxdigest version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateKeyCmd())
}
