package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cortex/internal/savefile"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
}

// LoadResult reports a replay.
type LoadResult struct {
	File    string `json:"file"`
	Records int    `json:"records"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <savefile>",
		Short: "Replay a savefile into a store",
		Long: `Replay every record of a savefile, in order, into the configured store.
Plain and zstd-compressed savefiles are both accepted. The replay runs in
one transaction and fires no events: if any record fails, nothing is
applied.

Exit codes:
  0 - All records applied
  2 - Command error (unreadable file, failed record, etc.)

Examples:
  cortex load kind.sav --url sqlite:///var/lib/cortex.db
  cortex load backup.sav --url pebble:///var/lib/cortex --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}

	return cmd
}

func runLoad(opts *LoadOptions, path string, cmd *cobra.Command) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open savefile", err)
	}
	defer f.Close()

	r, err := savefile.NewReader(f)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read savefile", err)
	}
	defer r.Close()

	cx, _, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer closeStore(cx)

	n, err := cx.Replay(cmd.Context(), r)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}
	slog.Info("savefile replayed", "path", path, "records", n)

	return opts.formatter(cmd).Render(LoadResult{File: path, Records: n}, func(w io.Writer) {
		fmt.Fprintf(w, "replayed %d records from %s\n", n, path)
	})
}
