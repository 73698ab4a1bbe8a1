package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxdigest/internal/session"
)

func newGenerateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-key",
		Short: "Generate a session encryption key",
		Long: `Generate a random AES-256 key for encrypting sessions at rest.

The key is printed base64 encoded, ready for --session-encryption-key or
SESSION_ENCRYPTION_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := session.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}
