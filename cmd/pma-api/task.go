package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pma2020/pma-api/internal/api"
	"github.com/pma2020/pma-api/internal/auth"
	"github.com/pma2020/pma-api/internal/config"
	"github.com/pma2020/pma-api/internal/tasks"
	"github.com/spf13/cobra"
)

func newTaskCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect asynchronous tasks",
	}

	var baseURL string
	var wait bool
	var interval time.Duration

	status := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the state of a task on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				baseURL = statusURL(c.app.Config)
			}
			client := tasks.NewClient(baseURL, nil)

			for {
				rec, err := client.State(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d/%d %s\n", rec.State, rec.Current, rec.Total, rec.Status)

				if !wait || rec.State.Terminal() {
					if rec.State == tasks.StateFailure {
						return fmt.Errorf("task %s failed", args[0])
					}
					return nil
				}

				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(interval):
				}
			}
		},
	}
	status.Flags().StringVar(&baseURL, "url", "", "server base URL (default tasks.status_url or the configured listen address)")
	status.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the task finishes")
	status.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --wait")
	cmd.AddCommand(status)

	return cmd
}

func statusURL(cfg *config.Config) string {
	if cfg.Tasks.StatusURL != "" {
		return cfg.Tasks.StatusURL
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

func newTokenCmd(c *cli) *cobra.Command {
	var subject string
	var scopes []string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the admin routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, scope := range scopes {
				if scope != auth.ScopeDatasets && scope != auth.ScopeBackups {
					return fmt.Errorf("unknown scope %q (want %s or %s)", scope, auth.ScopeDatasets, auth.ScopeBackups)
				}
			}

			token, expiresAt, err := api.NewJWTManager(c.app.Config).GenerateToken(subject, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "Scopes %s, expires %s\n", strings.Join(scopes, ","), expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeDatasets, auth.ScopeBackups}, "granted scopes")
	return cmd
}
