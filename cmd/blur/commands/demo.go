package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/blur/internal/demo"
	"github.com/dyluth/blur/internal/printer"
	"github.com/dyluth/blur/pkg/blur"
	"github.com/dyluth/blur/pkg/blurhost"
	"github.com/spf13/cobra"
)

var (
	demoApp      string
	demoInterval time.Duration
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a demo application with a blur server",
	Long: `Run a small application that serves blur requests and calls its blurred
functions and widget methods on a ticker, so live updates show up in the log.

Examples:
  # Terminal 1
  blur demo --app Alpha

  # Terminal 2
  blur functions
  blur code demo/widgets.Button.click --class`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if demoInterval <= 0 {
			return printer.Error(
				"invalid interval",
				fmt.Sprintf("--interval must be positive, got %s.", demoInterval),
				[]string{"Use a duration like --interval 5s"},
			)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if demoApp != "" {
			if err := os.Setenv(cfg.AppEnv, demoApp); err != nil {
				return fmt.Errorf("failed to set %s: %w", cfg.AppEnv, err)
			}
		}
		if cfg.AppName() == "" {
			return printer.Error(
				"no application name",
				fmt.Sprintf("%s is not set, so the demo cannot identify itself.", cfg.AppEnv),
				[]string{"Name the application with --app <name>"},
			)
		}

		net := blur.NewNetwork(cfg.NetworkOptions(cfg.AppName()))
		defer net.Close()

		app, err := demo.Build(net)
		if err != nil {
			return fmt.Errorf("failed to build demo: %w", err)
		}

		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		host, err := blurhost.Start(runCtx, net, cfg)
		if err != nil {
			return printer.Error(
				"failed to start blur server",
				err.Error(),
				[]string{
					fmt.Sprintf("Free a port in %d-%d", cfg.Server.BasePort, cfg.Server.BasePort+cfg.Server.PortCount-1),
					"Or widen server.port_count in the config",
				},
			)
		}

		printer.Success("%s serving blur requests on port %d\n", host.App(), host.Port())
		printer.Info("Press Ctrl+C to stop\n")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)

		done := make(chan struct{})
		go func() {
			defer close(done)
			app.Run(runCtx, demoInterval)
		}()

		sig := <-sigCh
		printer.Info("Received signal %v, shutting down...\n", sig)
		cancel()
		<-done

		if err := host.Close(); err != nil {
			return fmt.Errorf("failed to stop blur server: %w", err)
		}
		printer.Success("Demo stopped\n")
		return nil
	},
}

func init() {
	demoCmd.Flags().StringVar(&demoApp, "app", "", "Application name (sets the app environment variable)")
	demoCmd.Flags().DurationVar(&demoInterval, "interval", 5*time.Second, "Time between demo ticks")
	rootCmd.AddCommand(demoCmd)
}
