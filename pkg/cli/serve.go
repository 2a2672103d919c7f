package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/admin"
	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/logging"
	"github.com/interceptd/interceptd/pkg/manager"
	"github.com/interceptd/interceptd/pkg/store/file"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 15 * time.Second

var serveFlagVals struct {
	configFile string
	adminPort  int
	dataDir    string
	logLevel   string
	logFormat  string
}

// serveCmd runs the platform in the foreground.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy platform (foreground)",
	Long: `Start the proxy platform: every proxy from the configuration file is
registered and, if enabled, started; the control API binds its own port.
Press Ctrl-C for graceful shutdown.`,
	Example: `  # Start with a config file
  interceptd serve --config interceptd.yaml

  # Start with persistence and debug logging
  interceptd serve --config interceptd.yaml --data-dir ~/.interceptd --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveFlagVals.configFile, "config", "c", "", "Path to platform configuration file")
	serveCmd.Flags().IntVarP(&serveFlagVals.adminPort, "admin-port", "a", 0, "Control API port (overrides config)")
	serveCmd.Flags().StringVar(&serveFlagVals.dataDir, "data-dir", "", "Directory for persisted documents (overrides config)")
	serveCmd.Flags().StringVar(&serveFlagVals.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveFlagVals.logFormat, "log-format", "", "Log format: text, json")
}

func runServe() error {
	cfg := &config.Config{}
	if serveFlagVals.configFile != "" {
		loaded, err := config.LoadFile(serveFlagVals.configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if serveFlagVals.adminPort > 0 {
		cfg.Admin.Port = serveFlagVals.adminPort
	}
	if serveFlagVals.dataDir != "" {
		cfg.DataDir = serveFlagVals.dataDir
	}
	if serveFlagVals.logLevel != "" {
		cfg.Logging.Level = serveFlagVals.logLevel
	}
	if serveFlagVals.logFormat != "" {
		cfg.Logging.Format = serveFlagVals.logFormat
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: logging.ParseFormat(cfg.Logging.Format),
		Output: os.Stderr,
	})

	opts := []manager.Option{manager.WithLogger(log)}
	if cfg.DataDir != "" {
		fs, err := file.New(cfg.DataDir, file.WithLogger(log))
		if err != nil {
			return err
		}
		opts = append(opts, manager.WithFileStore(fs))
	}

	mgr := manager.New(opts...)
	if err := mgr.Load(cfg); err != nil {
		return err
	}

	api := admin.New(cfg.Admin.Port, mgr, admin.WithLogger(log))
	if err := api.Start(); err != nil {
		return err
	}

	log.Info("interceptd started", "proxies", len(mgr.Ports()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	stop()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Stop(shutdownCtx); err != nil {
		log.Warn("admin api shutdown", "error", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
