// httpmock CLI - standalone mock server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexliesenfeld/httpmock/pkg/config"
	"github.com/alexliesenfeld/httpmock/pkg/proxy"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
	"github.com/alexliesenfeld/httpmock/pkg/server"
)

// Build-time variables set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "httpmock",
		Short:   "Configurable mock server for HTTP-based tests",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	cfg := config.Default()
	var (
		forwardTarget string
		forwardPrefix string
		record        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mock server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := server.NewStandalone(cfg)
			if err != nil {
				return err
			}

			if forwardTarget != "" {
				b := rule.NewBuilder()
				if forwardPrefix != "" {
					b.PathPrefix(forwardPrefix)
				}
				fw, err := proxy.NewForwardingRule(forwardTarget, b)
				if err != nil {
					return err
				}
				if record {
					fw.WithRecording()
				}
				s.Core().Forward(fw)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "port to listen on (0 picks a free port)")
	cmd.Flags().BoolVar(&cfg.Expose, "expose", false, "bind to all interfaces instead of loopback")
	cmd.Flags().IntVar(&cfg.HistoryLimit, "history-limit", 0, "max requests kept in history (0 = default)")
	cmd.Flags().StringVar(&cfg.MockFilesDir, "mock-files-dir", "", "directory of YAML rule files to install at startup")
	cmd.Flags().StringVar(&cfg.RecordDir, "record-dir", "", "directory for recordings saved at shutdown")
	cmd.Flags().BoolVar(&cfg.EnableH2C, "http2", false, "additionally serve cleartext HTTP/2 (h2c)")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")
	cmd.Flags().StringVar(&forwardTarget, "forward", "", "forward unmatched-by-prefix requests to this base URL")
	cmd.Flags().StringVar(&forwardPrefix, "forward-prefix", "", "only forward requests whose path has this prefix")
	cmd.Flags().BoolVar(&record, "record", false, "record forwarded exchanges for playback")

	return cmd
}
