package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/embla/internal/config"
)

var version = "dev" // set via ldflags at build time

// globals holds the state shared by all subcommands once the root's
// PersistentPreRunE has run.
type globals struct {
	configPath string
	logLevel   string

	cfg   *config.Config
	level *slog.LevelVar
	log   *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "embla",
		Short: "Icelandic voice assistant client",
		Long: `Embla listens for its activation phrase, streams the spoken question to a
speech recognizer, sends the transcript to a Greynir query server and plays
the spoken answer.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(g), newAskCmd(g), newHistoryCmd(g))
	return root
}

// load reads the config and installs the logger.
func (g *globals) load(stderr io.Writer) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; pass --config", g.configPath)
		}
		return err
	}
	if g.logLevel != "" {
		lvl := config.LogLevel(g.logLevel)
		if !lvl.IsValid() {
			return fmt.Errorf("invalid --log-level %q", g.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	g.cfg = cfg
	g.log, g.level = newLogger(stderr, cfg.Server.LogLevel)
	slog.SetDefault(g.log)
	return nil
}

// newLogger returns a text logger on w whose level can be changed through the
// returned LevelVar.
func newLogger(w io.Writer, level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level.SlogLevel())
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), lv
}
