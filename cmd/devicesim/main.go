// Command devicesim serves a simulated network device CLI over SSH, for
// trying netrun without real hardware.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pascal71/netrun/internal/devicesim"
	"github.com/pascal71/netrun/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listen    string
		cfg       devicesim.Config
		responses []string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:          "devicesim",
		Short:        "Serve a simulated network device CLI over SSH",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			closeLog, err := logging.Setup(logging.Options{Level: logLevel})
			if err != nil {
				return err
			}
			defer closeLog()

			if cfg.Responses, err = parseResponses(responses); err != nil {
				return err
			}
			srv, err := devicesim.Start(listen, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), srv.Addr())

			<-cmd.Context().Done()
			slog.Info("Shutting down simulated device")
			return srv.Close()
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&listen, "listen", "l", "127.0.0.1:2222", "listen address")
	flags.StringVar(&cfg.Hostname, "hostname", "Router", "device hostname shown in the prompt")
	flags.StringVar(&cfg.PromptSuffix, "prompt-suffix", "#", "prompt terminator, e.g. \"#\" or \"> \"")
	flags.StringVarP(&cfg.Username, "user", "u", "admin", "accepted username")
	flags.StringVarP(&cfg.Password, "password", "p", "admin", "accepted password")
	flags.StringVar(&cfg.EnablePassword, "enable-password", "", "enable secret; when set the session starts in user mode")
	flags.StringVar(&cfg.Banner, "banner", "", "login banner")
	flags.StringArrayVarP(&responses, "response", "r",
		[]string{"show ip interface brief=Interface  IP-Address  Status"},
		"canned response as COMMAND=OUTPUT, \\n in OUTPUT starts a new line (repeatable)")
	flags.StringSliceVar(&cfg.Hang, "hang", nil, "commands after which no prompt is returned")
	flags.StringSliceVar(&cfg.Drop, "drop", nil, "commands that drop the connection")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}

func parseResponses(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		command, output, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(command) == "" {
			return nil, fmt.Errorf("invalid response %q, want COMMAND=OUTPUT", pair)
		}
		out[strings.TrimSpace(command)] = strings.ReplaceAll(output, `\n`, "\n")
	}
	return out, nil
}
