package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/blur/internal/config"
	"github.com/dyluth/blur/internal/directory"
	"github.com/dyluth/blur/internal/printer"
	"github.com/dyluth/blur/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath string
	target     string
	timeout    time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blur",
	Short: "Blur - live code updates for running applications",
	Long: `Blur talks to the applications running a blur server on this machine.

It discovers them by probing the server port range, lists the functions and
classes they expose, fetches their source and sends replacement source that
is applied while the application keeps running.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: blur.yml or blur.toml in the working directory)")
	rootCmd.PersistentFlags().StringVarP(&target, "target", "t", "", "Target application name or port (default: the only discovered application)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Request timeout (default: client.timeout from config)")
}

// loadConfig loads the config named by --config and applies --timeout.
func loadConfig() (*config.BlurConfig, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{"Fix the config file, or pass --config with another one"},
		)
	}
	if timeout > 0 {
		cfg.Client.Timeout = timeout
	}
	return cfg, nil
}

// discover builds a directory of the running applications.
func discover(ctx context.Context, cfg *config.BlurConfig) (*directory.Directory, error) {
	client := transport.NewClient(cfg.ClientOptions())
	dir := directory.New(client, cfg.Server.BasePort, cfg.Server.PortCount)

	if err := dir.RefreshServers(ctx); err != nil {
		return nil, fmt.Errorf("failed to probe servers: %w", err)
	}

	if cfg.Registry != nil {
		opts, err := redis.ParseURL(cfg.Registry.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse registry URL: %w", err)
		}
		registry, err := directory.NewRedisRegistry(opts, cfg.Registry.Namespace, cfg.Registry.TTL)
		if err != nil {
			return nil, err
		}
		defer registry.Close()

		if err := dir.RefreshFromRegistry(ctx, registry); err != nil {
			printer.Warning("Registry lookup failed: %v\n", err)
		}
	}
	return dir, nil
}

// resolveTarget picks the --target, or the only discovered application.
func resolveTarget(dir *directory.Directory) (string, error) {
	if target != "" {
		return target, nil
	}

	names := dir.ServerNames()
	switch len(names) {
	case 1:
		return names[0], nil
	case 0:
		return "", printer.Error(
			"no applications found",
			"No running application answered on the blur port range.",
			[]string{"Start an application with BLUR_APP set, e.g.:\n  BLUR_APP=Alpha blur demo"},
		)
	default:
		ports := make(map[string]string, len(names))
		for name, port := range dir.Servers() {
			ports[name] = fmt.Sprintf("port %d", port)
		}
		return "", printer.ErrorWithContext(
			"multiple applications found",
			"Several applications are running a blur server.",
			ports,
			[]string{
				"Choose one with --target <name>",
				"List them with:\n  blur apps",
			},
		)
	}
}

// request sends command to the target application and returns the raw reply.
func request(cmd *cobra.Command, command string) (string, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	dir, err := discover(ctx, cfg)
	if err != nil {
		return "", err
	}
	name, err := resolveTarget(dir)
	if err != nil {
		return "", err
	}

	reply, err := dir.Send(ctx, command, name)
	if err != nil {
		return "", requestError(name, err)
	}
	return reply, nil
}

func requestError(name string, err error) error {
	switch {
	case errors.Is(err, directory.ErrUnknownServer):
		return printer.Error(
			"unknown application",
			fmt.Sprintf("No application called %q was discovered.", name),
			[]string{"List the running applications with:\n  blur apps"},
		)
	case errors.Is(err, transport.ErrTimedOut):
		return printer.Error(
			"request timed out",
			fmt.Sprintf("%s did not answer in time.", name),
			[]string{"Retry with a longer --timeout"},
		)
	case transport.IsRefused(err):
		return printer.Error(
			"connection refused",
			fmt.Sprintf("Nothing is listening for %s any more.", name),
			[]string{"List the running applications with:\n  blur apps"},
		)
	}
	return fmt.Errorf("request to %s failed: %w", name, err)
}

// noReply reports a request the application did not answer.
func noReply(what string) error {
	return printer.Error(
		"no reply",
		fmt.Sprintf("The application did not answer the %s request.", what),
		[]string{"Check the application log for the [Statements] error"},
	)
}
