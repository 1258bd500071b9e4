package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/pma2020/pma-api/internal/tasks"
	"github.com/spf13/cobra"
)

// consoleSink prints progress events for commands run in the terminal
type consoleSink struct {
	out io.Writer
}

func (s consoleSink) Send(ctx context.Context, ev tasks.Event) error {
	percent := 0
	if ev.Total > 0 {
		percent = ev.Current * 100 / ev.Total
	}
	_, err := fmt.Fprintf(s.out, "[%3d%%] %s\n", percent, ev.Status)
	return err
}

func newUploadCmd(c *cli) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a dataset file as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.store()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open dataset: %w", err)
			}
			defer f.Close()

			if name == "" {
				name = filepath.Base(args[0])
			}

			id, err := a.Datasets.Upload(cmd.Context(), name, f, consoleSink{out: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored dataset %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (default the file name)")
	return cmd
}

func newMaterializeCmd(c *cli) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "materialize <dataset-id>",
		Short: "Write a stored dataset version back to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dataset id %q", args[0])
			}

			a, err := c.store()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = a.Config.Storage.DataDir
			}

			path, err := a.Datasets.Materialize(cmd.Context(), id, dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "target directory (default storage.data_dir)")
	return cmd
}

func newDatasetsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List stored dataset versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.store()
			if err != nil {
				return err
			}

			infos, err := a.Datasets.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tUPLOADED\tSIZE")
			for _, info := range infos {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\n", info.ID, info.DisplayName, info.VersionNumber,
					info.UploadDate.Format("2006-01-02 15:04:05"), info.SizeBytes)
			}
			return w.Flush()
		},
	}
}
