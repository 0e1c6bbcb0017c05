package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rescale/jobshell/internal/dispatch"
	"github.com/rescale/jobshell/internal/status"
	"github.com/rescale/jobshell/internal/util/sanitize"
)

const maxLineSize = 1024 * 1024

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell (default)",
		Long: `Read commands from standard input and run them one at a time.

A prompt is shown when standard input is a terminal. The shell stops on
"exit", "quit" or end of input, logging out of any open session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShellCmd(cmd)
		},
	}
}

func runShellCmd(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureProxyPassword(cfg); err != nil {
		return err
	}
	ctx := GetContext()
	d := newDispatcher(cfg, os.Stdout)
	defer d.Close(context.Background())

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Fprintf(cmd.OutOrStdout(), "jobshell - server %s. Type \"help\" for commands.\n", cfg.BaseURL)
	}
	return runShell(ctx, d, os.Stdin, newReporter(cmd.OutOrStdout()), interactive)
}

// runShell executes lines from in until exit, end of input or
// cancellation. Failed commands do not stop the shell.
func runShell(ctx context.Context, d *dispatch.Dispatcher, in io.Reader, r *reporter, prompt bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for {
		if prompt {
			fmt.Fprint(r.out, "jobshell> ")
		}
		if !scanner.Scan() {
			break
		}
		o := d.Execute(ctx, sanitize.SanitizeLine(scanner.Text()))
		r.report(o)
		if o.Code == status.Exit || ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

func newRunCmd() *cobra.Command {
	var keepGoing bool

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run the commands in a file",
		Long: `Execute a command file line by line. Blank lines and lines starting
with "#" are skipped.

Execution stops at the first failing command unless --keep-going is set.
The exit status is non-zero if any command failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open command file: %w", err)
			}
			defer f.Close()

			if err := ensureProxyPassword(cfg); err != nil {
				return err
			}
			d := newDispatcher(cfg, os.Stdout)
			defer d.Close(context.Background())
			return runScript(GetContext(), d, f, newReporter(cmd.OutOrStdout()), keepGoing)
		},
	}

	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "Continue after a failing command")
	return cmd
}

// runScript executes a command file and returns an error when any command
// failed.
func runScript(ctx context.Context, d *dispatch.Dispatcher, in io.Reader, r *reporter, keepGoing bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	failed := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		o := d.Execute(ctx, sanitize.SanitizeLine(scanner.Text()))
		r.report(o)
		if o.Code == status.Exit {
			break
		}
		if o.Code.IsError() {
			failed++
			if !keepGoing {
				return fmt.Errorf("line %d: %s", lineNo, o.Code.Message())
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read command file: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d command(s) failed", failed)
	}
	return nil
}
