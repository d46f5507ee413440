package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell <host>",
	Short: "Attach an interactive console to the host's shell",
	Long: `Opens a session to the named host and connects your terminal to it,
raw mode and all. Press Ctrl-] to detach; the remote shell keeps running
until the session is closed.

Examples:
  drover shell local
  drover shell web1`,
	Args: cobra.ExactArgs(1),
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	host, err := resolveHost(args[0])
	if err != nil {
		return err
	}

	sess, err := openSession(cmd.Context(), host)
	if err != nil {
		return err
	}
	defer sess.Close()

	typed, err := sess.Console()
	if err != nil {
		return err
	}
	fmt.Printf("\ndetached from %s (%d bytes sent)\n", host.Name, len(typed))
	return nil
}
