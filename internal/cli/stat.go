package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cortex/internal/storage"
)

// StatOptions holds flags for the stat command.
type StatOptions struct {
	*RootOptions
	Props []string
}

// PropCount is the number of rows stored under one property.
type PropCount struct {
	Prop string `json:"prop"`
	Rows int    `json:"rows"`
}

// StatResult describes a store.
type StatResult struct {
	URL     string      `json:"url"`
	Version int64       `json:"version"`
	Created uint64      `json:"created"`
	Blobs   int         `json:"blobs"`
	Props   []PropCount `json:"props,omitempty"`
}

// NewStatCommand creates the stat command.
func NewStatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Show store version, creation time and counts",
		Long: `Show the schema version, creation time and blob count of a store, and the
number of rows under each property named with --prop.

Examples:
  cortex stat --url sqlite:///var/lib/cortex.db
  cortex stat --config cortex.yaml --prop kind --prop size --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStat(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Props, "prop", "p", nil, "count rows of this property (repeatable)")

	return cmd
}

func runStat(opts *StatOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	cx, cfg, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer closeStore(cx)

	result := StatResult{URL: cfg.URL}
	if result.Version, err = cx.Version(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read version", err)
	}
	if result.Created, err = cx.Created(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read creation time", err)
	}
	keys, err := cx.BlobKeys(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list blobs", err)
	}
	result.Blobs = len(keys)
	for _, prop := range opts.Props {
		n, err := cx.SizeByProperty(ctx, storage.Query{Prop: prop})
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to count %s", prop), err)
		}
		result.Props = append(result.Props, PropCount{Prop: prop, Rows: n})
	}

	return opts.formatter(cmd).Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "url:     %s\n", result.URL)
		fmt.Fprintf(w, "version: %d\n", result.Version)
		fmt.Fprintf(w, "created: %s\n", time.UnixMilli(int64(result.Created)).UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "blobs:   %d\n", result.Blobs)
		for _, p := range result.Props {
			fmt.Fprintf(w, "rows:    %s=%d\n", p.Prop, p.Rows)
		}
	})
}
