package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/cortex/internal/config"
	"github.com/roach88/cortex/internal/cortex"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to a YAML config file
	URL     string // overrides the config file's url
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cortex CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cortex",
		Short: "Cortex row store operator tool",
		Long: `Inspect and maintain a cortex row store.

The store is selected by --url or by the url of the --config file:
  mem://                         in-memory, gone on exit
  pebble:///var/lib/cortex       pebble directory
  sqlite:///var/lib/cortex.db    sqlite database file
  postgres://user@host/db        postgres database`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.URL, "url", "", "store url, overrides the config file")

	cmd.AddCommand(NewStatCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewBlobCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the root command and exits with the code its error maps to.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(GetExitCode(err))
	}
}

// loadConfig reads --config, or the defaults, and applies --url.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		var err error
		if cfg, err = config.Load(o.Config); err != nil {
			return cfg, err
		}
	}
	if o.URL != "" {
		cfg.URL = o.URL
	}
	return cfg, nil
}

// open opens the configured store. The caller closes it.
func (o *RootOptions) open(cmd *cobra.Command) (*cortex.Cortex, config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, cfg, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	slog.Debug("opening store", "url", cfg.URL)
	cx, err := cortex.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, cfg, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return cx, cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func closeStore(cx *cortex.Cortex) {
	if err := cx.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}
