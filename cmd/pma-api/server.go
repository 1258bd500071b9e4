package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pma2020/pma-api/internal/app"
	"github.com/pma2020/pma-api/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var opts app.ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RunID = os.Getenv(server.RunIDEnv)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.app.Serve(ctx, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Dev, "dev", false, "run with development settings")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "task workers (default server.workers)")
	cmd.Flags().StringVar(&opts.PIDFile, "pid-file", "", "write the serving pid to this file")
	return cmd
}

func newStartCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch the server in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := c.app.Server.Start(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started pma-api (pid %d, run %s)\nLogs: %s\n",
				handle.PID, handle.RunID, c.app.Config.Server.ProcessLog)
			return nil
		},
	}
}

func newStopCmd(c *cli) *cobra.Command {
	var pid int
	var pidFile string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pidFile == "" {
				pidFile = c.app.Config.Server.PIDFile
			}
			return c.app.Server.Stop(pid, pidFile)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "process id to stop instead of reading the pid file")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "pid file (default server.pid_file)")
	return cmd
}

func newStorePIDCmd(c *cli) *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "store-pid",
		Short: "Write the running server's pid to the pid file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pidFile == "" {
				pidFile = c.app.Config.Server.PIDFile
			}
			return c.app.Server.PersistPID(pidFile)
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", "", "pid file (default server.pid_file)")
	return cmd
}

func newLocatePIDCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "locate-pid",
		Short: "Print the pid of the running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := c.app.Server.LocatePID()
			var lookupErr *server.ProcessLookupError
			if errors.As(err, &lookupErr) && lookupErr.Reason == server.ReasonNoRecord {
				return fmt.Errorf("server is not running")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pid)
			return nil
		},
	}
}
