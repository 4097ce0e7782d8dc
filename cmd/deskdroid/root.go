package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jadenj13/deskdroid/internals/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "deskdroid",
	Short: "Let a model drive a desktop through screenshots, a shell and a file editor",
	Long: `deskdroid runs a computer-use conversation: the model looks at the screen,
asks for mouse, keyboard, shell and file-editing actions, and sees the results
until it has nothing left to do.

Tools:
  - computer             xdotool mouse/keyboard control plus screenshots
  - bash                 one-shot shell commands
  - str_replace_editor   view, create and edit files`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		log = newLogger(cfg.Log)
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./deskdroid.yaml or ~/.deskdroid/deskdroid.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn or error",
	)
	rootCmd.PersistentFlags().StringVar(
		&logFormat, "log-format", "", "log format: text or json",
	)

	rootCmd.AddCommand(runCmd, configCmd, toolsCmd, slackCmd, versionCmd)
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
