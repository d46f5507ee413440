package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drover-sh/drover/internal/config"
	"github.com/drover-sh/drover/internal/model"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List configured hosts",
	Args:  cobra.NoArgs,
	RunE:  runHosts,
}

var hostsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a host to the config",
	Long: `Adds a host entry. With --addr the host is reached over SSH; with
--command it is a local process under a pty; with neither it is the
local shell.

Examples:
  drover hosts add web1 --addr web1.example.com --user deploy --key ~/.ssh/id_ed25519
  drover hosts add console --command 'telnet' --args '10.0.0.9 9600'`,
	Args: cobra.ExactArgs(1),
	RunE: runHostsAdd,
}

var hostsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a host from the config",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsRemove,
}

var (
	addAddr     string
	addPort     int
	addUser     string
	addKey      string
	addCommand  string
	addArgs     string
	addPrompt   string
	addTimeout  int
	addInsecure bool
)

func init() {
	rootCmd.AddCommand(hostsCmd)
	hostsCmd.AddCommand(hostsAddCmd)
	hostsCmd.AddCommand(hostsRemoveCmd)

	hostsAddCmd.Flags().StringVar(&addAddr, "addr", "", "ssh address")
	hostsAddCmd.Flags().IntVar(&addPort, "port", 0, "ssh port (default 22)")
	hostsAddCmd.Flags().StringVar(&addUser, "user", "", "ssh user")
	hostsAddCmd.Flags().StringVar(&addKey, "key", "", "ssh private key path")
	hostsAddCmd.Flags().StringVar(&addCommand, "command", "", "local command to run under a pty")
	hostsAddCmd.Flags().StringVar(&addArgs, "args", "", "arguments for --command, space separated")
	hostsAddCmd.Flags().StringVar(&addPrompt, "prompt", "", "prompt regex override")
	hostsAddCmd.Flags().IntVar(&addTimeout, "timeout", 0, "default command timeout, seconds")
	hostsAddCmd.Flags().BoolVar(&addInsecure, "insecure-host-key", false, "skip known_hosts verification")
}

func runHosts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDRIVER\tTARGET\tPROMPT")
	for _, h := range cfg.Hosts {
		target := h.Command
		if h.EffectiveDriver() == model.DriverSSH {
			target = sshTarget(h)
		}
		if target == "" {
			target = "$SHELL"
		}
		prompt := h.Prompt
		if prompt == "" {
			prompt = "(default)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.Name, h.EffectiveDriver(), target, prompt)
	}
	return w.Flush()
}

func sshTarget(h model.Host) string {
	target := h.Addr
	if h.User != "" {
		target = h.User + "@" + target
	}
	if h.Port != 0 && h.Port != 22 {
		target = fmt.Sprintf("%s:%d", target, h.Port)
	}
	return target
}

func runHostsAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, ok := config.FindHost(cfg, name); ok {
		return fmt.Errorf("host %q already exists", name)
	}

	host := model.Host{
		Name:            name,
		Addr:            addAddr,
		Port:            addPort,
		User:            addUser,
		Command:         addCommand,
		Prompt:          addPrompt,
		TimeoutSec:      addTimeout,
		InsecureHostKey: addInsecure,
	}
	if addKey != "" {
		host.Auth = model.AuthConfig{Method: model.AuthKey, KeyPath: addKey}
	}
	if addArgs != "" {
		host.Args = strings.Fields(addArgs)
	}

	cfg.Hosts = append(cfg.Hosts, host)
	if err := config.Save(flagConfig, cfg); err != nil {
		return err
	}
	fmt.Printf("added host %q\n", name)
	return nil
}

func runHostsRemove(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	kept := cfg.Hosts[:0]
	found := false
	for _, h := range cfg.Hosts {
		if h.Name == name {
			found = true
			continue
		}
		kept = append(kept, h)
	}
	if !found {
		return fmt.Errorf("unknown host %q", name)
	}
	cfg.Hosts = kept

	if err := config.Save(flagConfig, cfg); err != nil {
		return err
	}
	fmt.Printf("removed host %q\n", name)
	return nil
}
