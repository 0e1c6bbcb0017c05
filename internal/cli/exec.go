package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/jobshell/internal/dispatch"
	"github.com/rescale/jobshell/internal/session"
	"github.com/rescale/jobshell/internal/status"
)

func newExecCmd() *cobra.Command {
	var user, password string

	cmd := &cobra.Command{
		Use:   "exec --user USER [--password PASS] -- <command line>",
		Short: "Log in, run one command, and log out",
		Long: `Run a single command in its own session.

The password is prompted for when --password is omitted and standard input
is a terminal. The exit status is non-zero if login or the command fails.

Example:
  jobshell exec --user alice -- poll id=57 out=run.zip interval=30`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			if password == "" {
				var err error
				if password, err = readPassword(user); err != nil {
					return err
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := ensureProxyPassword(cfg); err != nil {
				return err
			}
			d := newDispatcher(cfg, os.Stdout)
			defer d.Close(context.Background())

			conn := session.Connection{BaseURL: cfg.BaseURL, Username: user, Password: password}
			return execOne(GetContext(), d, conn, strings.Join(args, " "), newReporter(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

// execOne logs in with conn, runs line and reports both steps.
func execOne(ctx context.Context, d *dispatch.Dispatcher, conn session.Connection, line string, r *reporter) error {
	o := d.Login(ctx, conn)
	r.report(o)
	if o.Code != status.Login {
		return fmt.Errorf("login failed: %s", o.Code.Message())
	}

	o = d.Execute(ctx, line)
	r.report(o)
	if o.Code.IsError() {
		return fmt.Errorf("command failed: %s", o.Code.Message())
	}
	return nil
}
