package cli

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drover-sh/drover/internal/channel"
	"github.com/drover-sh/drover/internal/model"
)

var cpCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "Copy a file to or from an SSH host over SFTP",
	Long: `Copies a single file between the local machine and an SSH host. The
remote side is written host:path, like scp.

Examples:
  drover cp web1:/var/log/nginx/error.log ./error.log
  drover cp ./deploy.tar.gz web1:/tmp/deploy.tar.gz`,
	Args: cobra.ExactArgs(2),
	RunE: runCp,
}

func init() {
	rootCmd.AddCommand(cpCmd)
}

func runCp(cmd *cobra.Command, args []string) error {
	srcHost, srcPath := splitRemote(args[0])
	dstHost, dstPath := splitRemote(args[1])

	switch {
	case srcHost != "" && dstHost != "":
		return fmt.Errorf("remote-to-remote copy is not supported")
	case srcHost == "" && dstHost == "":
		return fmt.Errorf("neither side is remote; use plain cp for local copies")
	case srcHost != "":
		return download(cmd, srcHost, srcPath, dstPath)
	default:
		return upload(cmd, srcPath, dstHost, dstPath)
	}
}

// splitRemote parses host:path. A path with no colon, or a colon inside a
// path-like first segment (./x:y, /x:y), is local.
func splitRemote(arg string) (host, p string) {
	i := strings.Index(arg, ":")
	if i <= 0 {
		return "", arg
	}
	if strings.ContainsAny(arg[:i], "/.") {
		return "", arg
	}
	return arg[:i], arg[i+1:]
}

func dialSFTP(cmd *cobra.Command, hostName string) (*channel.SSH, error) {
	host, err := resolveHost(hostName)
	if err != nil {
		return nil, err
	}
	if host.EffectiveDriver() != model.DriverSSH {
		return nil, fmt.Errorf("host %q is not an ssh host", hostName)
	}
	ch, err := openChannel(cmd.Context(), host)
	if err != nil {
		return nil, err
	}
	return ch.(*channel.SSH), nil
}

func download(cmd *cobra.Command, hostName, remotePath, localPath string) error {
	ch, err := dialSFTP(cmd, hostName)
	if err != nil {
		return err
	}
	defer ch.Close()

	client, err := ch.SFTP()
	if err != nil {
		return fmt.Errorf("open sftp: %w", err)
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	if fi, err := os.Stat(localPath); err == nil && fi.IsDir() {
		localPath = filepath.Join(localPath, path.Base(remotePath))
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s:%s -> %s (%d bytes)\n", hostName, remotePath, localPath, n)
	return nil
}

func upload(cmd *cobra.Command, localPath, hostName, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	ch, err := dialSFTP(cmd, hostName)
	if err != nil {
		return err
	}
	defer ch.Close()

	client, err := ch.SFTP()
	if err != nil {
		return fmt.Errorf("open sftp: %w", err)
	}
	defer client.Close()

	if remotePath == "" {
		remotePath = path.Base(localPath)
	}
	if fi, err := client.Stat(remotePath); err == nil && fi.IsDir() {
		remotePath = path.Join(remotePath, filepath.Base(localPath))
	}
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return err
		}
	}

	dst, err := client.Create(remotePath)
	if err != nil {
		return err
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s:%s (%d bytes)\n", localPath, hostName, remotePath, n)
	return nil
}
