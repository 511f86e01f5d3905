package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show admin API URL with access token",
	Long: `Show the admin API URL with the access token of the running server.

Use this when you've scrolled past the startup message or need to
share the stats link.

Example:
  vgoat token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(tokenFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: vgoat serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := string(data)
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: vgoat serve")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Admin API: http://localhost:%d/api/experiments?token=%s\n", cfg.Port, token)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Or send it as a header: Authorization: Bearer %s\n", token)
	return nil
}
