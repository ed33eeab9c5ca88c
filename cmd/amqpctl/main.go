package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danmuck/amqpengine/internal/config"
	"github.com/danmuck/amqpengine/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	configPath  string
	logLevel    string
	metricsAddr string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "amqpctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "amqpctl",
		Short:         "Run, exercise and inspect AMQP engine connections",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureRuntime()
			if opts.logLevel != "" && !logging.SetLevel(opts.logLevel) {
				return fmt.Errorf("unknown log level %q", opts.logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a TOML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (trace|debug|info|warn|error)")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")

	root.AddCommand(
		listenCmd(opts),
		sendCmd(opts),
		dumpCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}

// load resolves the config file, then applies command-line overrides.
func (o *rootOptions) load() (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if o.metricsAddr != "" {
		cfg.MetricsAddr = o.metricsAddr
	}
	if o.logLevel == "" && cfg.LogLevel != "" {
		logging.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "amqpctl %s (%s)\n", version, commit)
		},
	}
}

func applyTransportFlags(cfg *config.Config, addr, transport string) error {
	if addr = strings.TrimSpace(addr); addr != "" {
		cfg.Addr = addr
	}
	if transport = strings.ToLower(strings.TrimSpace(transport)); transport != "" {
		cfg.Transport = transport
	}
	return config.Validate(*cfg)
}
