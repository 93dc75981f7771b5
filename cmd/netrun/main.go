// Command netrun opens an SSH session to a network device, runs one command
// and prints the raw output.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pascal71/netrun/internal/config"
	"github.com/pascal71/netrun/internal/logging"
	"github.com/pascal71/netrun/internal/runner"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// readPassword prompts on the controlling terminal; tests replace it.
var readPassword = func(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(prompt, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var cfg *config.Config
	cmd := newRootCmd(stdout, stderr, &cfg)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if cfg != nil && cfg.Debug {
			fmt.Fprintf(stderr, "Error: %+v\n", err)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer, loaded **config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "netrun [command...]",
		Short: "Run one CLI command on a network device over SSH",
		Long: "Connects to a network device over SSH, runs a single CLI command and writes the raw output to stdout.\n" +
			"The command defaults to --command; positional arguments replace it.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			*loaded = cfg
			if len(args) > 0 {
				cfg.Command = strings.Join(args, " ")
			}

			closeLog, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Out: stderr})
			if err != nil {
				return err
			}
			defer closeLog()

			if cfg.Password == "" && !cfg.HasKeyAuth() {
				if cfg.Password, err = readPassword(stderr); err != nil {
					return err
				}
			}

			return runner.New(stdout).Run(cmd.Context(), cfg.Descriptor(), cfg.Command, cfg.ClientOptions()...)
		},
	}
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	config.RegisterFlags(cmd.Flags())
	return cmd
}
