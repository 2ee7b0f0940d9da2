package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ogulcanaydogan/ops-sentinel/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Ops Sentinel - operational alerting for tour operators",
	Long: `Ops Sentinel evaluates alert rules over each tenant's operational data,
caches the results, serves them through a paginated API, and delivers
notifications with priorities and retries.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.sentinel/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	return newLoggerWithWriter(cfg, logWriter(cfg.Logging))
}

func newLoggerWithWriter(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// logWriter picks the log destination. File output rotates through
// lumberjack and falls back to stderr when the directory cannot be made.
func logWriter(lc config.LoggingConfig) io.Writer {
	switch lc.Output {
	case "stdout":
		return os.Stdout
	case "file":
		if lc.File.Path == "" {
			fmt.Fprintln(os.Stderr, "warning: logging.output=file without logging.file.path, using stderr")
			return os.Stderr
		}
		if err := os.MkdirAll(filepath.Dir(lc.File.Path), 0o750); err != nil {
			fmt.Fprintf(os.Stderr, "warning: create log directory: %v, using stderr\n", err)
			return os.Stderr
		}
		return &lumberjack.Logger{
			Filename:   lc.File.Path,
			MaxSize:    lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAge:     lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		}
	default:
		return os.Stderr
	}
}
