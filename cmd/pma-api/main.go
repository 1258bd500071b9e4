package main

import (
	"fmt"
	"os"

	"github.com/pma2020/pma-api/internal/app"
	"github.com/pma2020/pma-api/internal/config"
	"github.com/spf13/cobra"
)

// cli carries the App shared by every subcommand. It is built once in the
// root command's pre-run hook.
type cli struct {
	configPath string
	verbose    bool
	app        *app.App
}

func main() {
	root, c := newRootCmd()
	err := root.Execute()
	c.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:           "pma-api",
		Short:         "PMA data API: dataset ingestion, backups and server lifecycle",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default ./configs/config.yaml or $CONFIG_PATH)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at the configured level instead of warnings only")

	root.AddCommand(
		newServeCmd(c),
		newStartCmd(c),
		newStopCmd(c),
		newStorePIDCmd(c),
		newLocatePIDCmd(c),
		newMigrateCmd(c),
		newUploadCmd(c),
		newMaterializeCmd(c),
		newDatasetsCmd(c),
		newBackupCmd(c),
		newRestoreCmd(c),
		newBackupsCmd(c),
		newTaskCmd(c),
		newTokenCmd(c),
	)
	return root, c
}

func (c *cli) init(cmd *cobra.Command) error {
	if c.configPath != "" {
		os.Setenv("CONFIG_PATH", c.configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// One-shot commands keep stdout for their own output
	if cmd.Name() != "serve" && !c.verbose {
		cfg.Logging.Level = "warn"
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close() {
	if c.app == nil {
		return
	}
	if err := c.app.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	c.app = nil
}

// store opens the database-backed services on first use
func (c *cli) store() (*app.App, error) {
	if err := c.app.OpenStore(); err != nil {
		return nil, err
	}
	return c.app, nil
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.store()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database at %s is up to date\n", a.DB.Path())
			return nil
		},
	}
}
