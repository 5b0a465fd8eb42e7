package cli

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/roach88/cortex/internal/storage"
)

// BlobEntry is one blob in command output.
type BlobEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NewBlobCommand creates the blob command and its subcommands.
func NewBlobCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "List, read and change blobs",
		Long: `Blobs are small named byte values kept beside the rows. The store keeps
its own bookkeeping there under the "cortex:" prefix.

Examples:
  cortex blob list
  cortex blob get cortex:version
  cortex blob set sync:cursor 42
  cortex blob del sync:cursor`,
	}

	cmd.AddCommand(newBlobListCommand(rootOpts))
	cmd.AddCommand(newBlobGetCommand(rootOpts))
	cmd.AddCommand(newBlobSetCommand(rootOpts))
	cmd.AddCommand(newBlobDelCommand(rootOpts))

	return cmd
}

func newBlobListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List blob keys",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cx, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer closeStore(cx)

			keys, err := cx.BlobKeys(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list blobs", err)
			}
			if keys == nil {
				keys = []string{}
			}
			return opts.formatter(cmd).Render(keys, func(w io.Writer) {
				for _, k := range keys {
					fmt.Fprintln(w, k)
				}
			})
		},
	}
}

func newBlobGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <key>",
		Short:         "Print a blob",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cx, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer closeStore(cx)

			key := args[0]
			val, err := cx.GetBlob(cmd.Context(), key, nil)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read blob", err)
			}
			if val == nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("blob %q", key), storage.ErrNoSuchName)
			}
			return opts.formatter(cmd).Render(BlobEntry{Key: key, Value: string(val)}, func(w io.Writer) {
				fmt.Fprintf(w, "%s\n", val)
			})
		},
	}
}

func newBlobSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set <key> <value>",
		Short:         "Store a blob",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cx, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer closeStore(cx)

			entry := BlobEntry{Key: args[0], Value: args[1]}
			if err := cx.SetBlob(cmd.Context(), entry.Key, []byte(entry.Value)); err != nil {
				return WrapExitError(ExitCommandError, "failed to set blob", err)
			}
			return opts.formatter(cmd).Render(entry, func(w io.Writer) {
				fmt.Fprintf(w, "set %s\n", entry.Key)
			})
		},
	}
}

func newBlobDelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "del <key>",
		Short:         "Delete a blob and print its old value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cx, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer closeStore(cx)

			key := args[0]
			old, err := cx.DelBlob(cmd.Context(), key)
			if errors.Is(err, storage.ErrNoSuchName) {
				return WrapExitError(ExitFailure, fmt.Sprintf("blob %q", key), err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to delete blob", err)
			}
			return opts.formatter(cmd).Render(BlobEntry{Key: key, Value: string(old)}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %s (was %s)\n", key, old)
			})
		},
	}
}
