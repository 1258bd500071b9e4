package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBackupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Dump the database to the configured backup destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.store()
			if err != nil {
				return err
			}

			artifact, err := a.Backups.Backup(cmd.Context(), consoleSink{out: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", artifact.Name, artifact.SizeBytes)
			return nil
		},
	}
}

func newRestoreCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <artifact>",
		Short: "Restore the database from a backup artifact",
		Long: "Restore the database from a backup artifact. The artifact may be given as\n" +
			"a bare name, a file name or a URL whose last path segment is the name.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.store()
			if err != nil {
				return err
			}
			if err := a.Backups.Restore(cmd.Context(), args[0], consoleSink{out: cmd.ErrOrStderr()}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", args[0])
			return nil
		},
	}
}

func newBackupsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage backup artifacts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backup artifacts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.store()
			if err != nil {
				return err
			}

			artifacts, err := a.Backups.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENV\tCREATED\tSIZE\tLOCATION")
			for _, artifact := range artifacts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", artifact.Name, artifact.EnvTag,
					artifact.CreatedAt.Format("2006-01-02 15:04:05"), artifact.SizeBytes, artifact.PathOrKey)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <artifact>",
		Short: "Delete one backup artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.store()
			if err != nil {
				return err
			}
			if err := a.Backups.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	})

	var keep int
	var dryRun bool
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.store()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("keep") {
				keep = a.Config.Backup.RetentionCount
			}
			if keep < 1 {
				return fmt.Errorf("keep must be at least 1")
			}

			if dryRun {
				stats, err := a.Retention.Stats(cmd.Context(), keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d backups would be deleted (%d bytes)\n",
					stats.BackupsToDelete, stats.TotalBackups, stats.WillDeleteBytes)
				return nil
			}

			deleted, err := a.Retention.Enforce(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d backups\n", deleted)
			return nil
		},
	}
	prune.Flags().IntVar(&keep, "keep", 0, "number of backups to keep (default backup.retention_count)")
	prune.Flags().BoolVar(&dryRun, "dry-run", false, "only report what would be deleted")
	cmd.AddCommand(prune)

	return cmd
}
