package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/config"
	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	"github.com/cuongbtq/analysis-tracker/shared/logger"
	"github.com/spf13/cobra"
)

const (
	configEnv     = "TRACKCTL_CONFIG"
	backendURLEnv = "TRACKCTL_BACKEND_URL"
)

// options carries the persistent flags and what PersistentPreRunE builds from them
type options struct {
	configPath  string
	baseURL     string
	logLevel    string
	historyPath string

	cfg    *config.Config
	logger *logger.Logger
}

// NewRootCommand builds the trackctl command tree
func NewRootCommand() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "trackctl",
		Short:         "Follow video analysis jobs from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if o.logger != nil {
				o.logger.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.configPath, "config", os.Getenv(configEnv), "Path to configuration file (env "+configEnv+")")
	flags.StringVar(&o.baseURL, "base-url", os.Getenv(backendURLEnv), "Analysis backend base URL (env "+backendURLEnv+")")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&o.historyPath, "history", "", "Path to the SQLite history database")

	root.AddCommand(
		newWatchCommand(o),
		newStatusCommand(o),
		newResultCommand(o),
		newHistoryCommand(o),
	)

	return root
}

// Execute runs trackctl and returns the process exit code
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func (o *options) load() error {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if o.baseURL != "" {
		cfg.Backend.BaseURL = o.baseURL
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	// stdout belongs to command output
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig(time.TimeOnly))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	o.cfg = cfg
	o.logger = appLogger
	return nil
}

// newBackend validates the backend settings and returns a client for them
func (o *options) newBackend() (*tracker.Client, error) {
	if err := o.cfg.ValidateCLIConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return tracker.NewClient(tracker.ClientConfig{
		BaseURL:        o.cfg.Backend.BaseURL,
		RequestTimeout: o.cfg.Backend.RequestTimeout,
		UserAgent:      "trackctl/" + o.cfg.App.Version,
	}, o.logger.Logger)
}

// resolveHistoryPath picks the --history flag, then a sqlite3 database from config.
// fallback is used when neither is set; an empty result disables history.
func (o *options) resolveHistoryPath(fallback bool) string {
	if o.historyPath != "" {
		return o.historyPath
	}
	if o.cfg.Database.Driver == "sqlite3" && o.cfg.Database.Path != "" {
		return o.cfg.Database.Path
	}
	if !fallback {
		return ""
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "trackctl-history.db"
	}
	return filepath.Join(home, ".trackctl", "history.db")
}

// uiLogger keeps log lines off the terminal while the progress view owns it
func (o *options) uiLogger() *slog.Logger {
	switch o.cfg.Logging.Output {
	case "stdout", "stderr", "":
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.logger.Logger
}
