package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/cortex/internal/savefile"
	"github.com/roach88/cortex/internal/storage"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Value   string
	Int     bool
	MinTime uint64
	MaxTime uint64
	Limit   int
	Out     string
}

// DumpRow is one row in command output.
type DumpRow struct {
	Identity string `json:"iden"`
	Prop     string `json:"prop"`
	Value    any    `json:"value"`
	Time     uint64 `json:"time"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <prop>",
		Short: "Print the rows of a property",
		Long: `Print the rows stored under a property in ascending time order, optionally
restricted to one value and a time window. With --out the rows are also
written to a savefile that "cortex load" can replay into another store.

Examples:
  cortex dump kind --url sqlite:///var/lib/cortex.db
  cortex dump size --value 7 --int
  cortex dump kind --min-time 1700000000000 --out kind.sav`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Value, "value", "", "only rows with this value")
	cmd.Flags().BoolVar(&opts.Int, "int", false, "parse --value as an integer")
	cmd.Flags().Uint64Var(&opts.MinTime, "min-time", 0, "only rows stamped at or after this millisecond")
	cmd.Flags().Uint64Var(&opts.MaxTime, "max-time", 0, "only rows stamped before this millisecond")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many rows")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "also write the rows to this savefile")

	return cmd
}

// parseValue reads a command-line value. Integers need an explicit flag so
// that numeric strings stay strings.
func parseValue(s string, isInt bool) (storage.Value, error) {
	if !isInt {
		return storage.Str(s), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return storage.Int(n), nil
}

func toDumpRows(rows []storage.Row) []DumpRow {
	out := make([]DumpRow, len(rows))
	for i, r := range rows {
		var v any
		switch val := r.Value.(type) {
		case storage.Int:
			v = int64(val)
		case storage.Str:
			v = string(val)
		}
		out[i] = DumpRow{Identity: r.Identity.String(), Prop: r.Prop, Value: v, Time: r.Time}
	}
	return out
}

func runDump(opts *DumpOptions, prop string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	q := storage.Query{Prop: prop, MinTime: opts.MinTime, MaxTime: opts.MaxTime, Limit: opts.Limit}
	if cmd.Flags().Changed("value") {
		v, err := parseValue(opts.Value, opts.Int)
		if err != nil {
			return WrapExitError(ExitCommandError, "bad --value", err)
		}
		q.Value = v
	}

	cx, cfg, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer closeStore(cx)

	rows, err := cx.RowsByProperty(ctx, q)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", prop), err)
	}

	if opts.Out != "" {
		if err := writeSavefile(opts.Out, cfg.CompressSavefile, rows); err != nil {
			return WrapExitError(ExitCommandError, "failed to write savefile", err)
		}
		slog.Info("savefile written", "path", opts.Out, "rows", len(rows), "compressed", cfg.CompressSavefile)
	}

	out := toDumpRows(rows)
	return opts.formatter(cmd).Render(out, func(w io.Writer) {
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.Identity, r.Prop, r.Value, r.Time)
		}
	})
}

// writeSavefile stores rows as one add record.
func writeSavefile(path string, compress bool, rows []storage.Row) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w, err := savefile.NewWriter(f, compress)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		rec := savefile.Record{Op: savefile.OpAddRows, Rows: savefile.FromRows(rows)}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return w.Close()
}
