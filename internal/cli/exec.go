package cli

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/drover-sh/drover/internal/session"
)

var (
	execTimeout time.Duration
	execExpect  string
	execNoWait  bool
)

var execCmd = &cobra.Command{
	Use:   "exec <host> <command>...",
	Short: "Run a command in the host's shell and print its output",
	Long: `Opens a session to the named host, sends each command in turn, waits
for the prompt and prints the collected output.

Use "local" as the host to run against $SHELL on this machine.

Examples:
  drover exec local 'uname -a'
  drover exec web1 'systemctl status nginx' --timeout 30s
  drover exec router 'reload' --expect 'confirm \[y/n\]' --timeout 10s
  drover exec web1 'nohup ./job.sh &' --no-wait`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "per-command timeout (default from host config)")
	execCmd.Flags().StringVar(&execExpect, "expect", "", "regex to wait for instead of the prompt")
	execCmd.Flags().BoolVar(&execNoWait, "no-wait", false, "send commands without waiting for output")
}

func runExec(cmd *cobra.Command, args []string) error {
	host, err := resolveHost(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sess, err := openSession(ctx, host)
	if err != nil {
		return err
	}
	defer sess.Close()

	// Swallow the banner and first prompt before the real commands.
	if !execNoWait {
		if _, _, err := sess.Flush(sessionTimeout(sess, execTimeout)); err != nil {
			return fmt.Errorf("waiting for prompt: %w", err)
		}
	}

	var spec session.PatternSpec
	if execExpect != "" {
		re, err := regexp.Compile(execExpect)
		if err != nil {
			return fmt.Errorf("bad --expect pattern: %w", err)
		}
		spec = session.Patterns(session.Regexp(re))
	}

	for _, command := range args[1:] {
		out, errOut, err := runOne(sess, command, spec)
		if err != nil {
			return err
		}
		if out != "" {
			fmt.Fprint(os.Stdout, out)
		}
		if errOut != "" {
			fmt.Fprint(os.Stderr, errOut)
		}
	}
	return nil
}

func runOne(sess *session.Session, command string, spec session.PatternSpec) (string, string, error) {
	if execNoWait {
		_, _, err := sess.CmdExpect(command, session.Nothing(), 0)
		return "", "", err
	}
	if !spec.Empty() {
		return sess.CmdExpect(command, spec, sessionTimeout(sess, execTimeout))
	}
	if execTimeout > 0 {
		return sess.CmdExpect(command, sess.Prompt(), execTimeout)
	}
	return sess.Cmd(command)
}

func sessionTimeout(sess *session.Session, flag time.Duration) time.Duration {
	if flag > 0 {
		return flag
	}
	return sess.Timeout()
}
