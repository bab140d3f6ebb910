// Package main is the entry point for the scribe editor.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/scribe/internal/config"
	"github.com/dshills/scribe/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// globals holds the state shared by every subcommand, filled in by the root
// command's PersistentPreRunE.
type globals struct {
	configPath string
	logLevel   string
	logFile    string
	output     string
	noColor    bool

	cfg *config.Config
	log *logging.Logger
	out *printer
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "scribe",
		Short: "Scribe is a text editor that never loses your work",
		Long: `Scribe is a multi-cursor text editing engine with atomic saves,
crash recovery and a per-project time machine that commits every save
to a hidden git history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.log != nil {
				_ = g.log.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "path to configuration file")
	flags.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&g.logFile, "log-file", "", "write logs to this file")
	flags.StringVarP(&g.output, "output", "o", "text", "output format (text, yaml)")
	flags.BoolVar(&g.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newEditCmd(g),
		newHistoryCmd(g),
		newRecoverCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger and printer.
func (g *globals) setup(cmd *cobra.Command) error {
	switch g.output {
	case "text", "yaml":
	default:
		return fmt.Errorf("invalid output format %q (must be text or yaml)", g.output)
	}
	if g.noColor {
		color.NoColor = true
	}
	g.out = newPrinter(cmd.OutOrStdout(), g.output)

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFile != "" {
		cfg.Logging.File = g.logFile
	}
	g.cfg = cfg

	lcfg := logging.DefaultConfig()
	lcfg.Level = cfg.Logging.Level
	lcfg.File = cfg.Logging.File
	lcfg.Development = cfg.Logging.Development
	if lcfg.File == "" {
		// Logs would interleave with the editor's own output.
		lcfg.Level = "error"
	}
	log, err := logging.New(lcfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logging.SetDefault(log)
	g.log = log
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Scribe %s\n", version)
			fmt.Fprintf(w, "Commit: %s\n", commit)
			fmt.Fprintf(w, "Built: %s\n", date)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}
