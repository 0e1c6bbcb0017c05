// Package cli provides the command-line interface for jobshell.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rescale/jobshell/internal/config"
	"github.com/rescale/jobshell/internal/dispatch"
	"github.com/rescale/jobshell/internal/logging"
	"github.com/rescale/jobshell/internal/notify"
	"github.com/rescale/jobshell/internal/poll"
	"github.com/rescale/jobshell/internal/progress"
	"github.com/rescale/jobshell/internal/version"
)

var (
	// Global flags
	cfgFile string
	baseURL string
	verbose bool
	logFile string

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command. Without a subcommand it starts the
// interactive shell.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jobshell",
		Short: "Command-line client for the job server",
		Long: `jobshell ` + version.Version + ` - Built: ` + version.BuildTime + `
Upload datasets and queries, run jobs, and retrieve their results
incrementally while they run.

Commands are written as "name key=value ...", for example:
  login user=alice pass=secret
  pushd name=corpus file=corpus.zip
  create id=12 qid=3,4 trav=f
  poll id=57 out=results/run.zip interval=10

Run "help" inside the shell for the full command list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetVerbose(verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShellCmd(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "Server base URL (overrides config and JOBSHELL_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (rotated)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	if logger != nil {
		_ = logger.Close()
	}
	return err
}

// GetContext returns the global CLI context with signal handling.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// GetLogger returns the CLI logger, creating it on first use.
func GetLogger(cfg *config.Config) *logging.Logger {
	if logger == nil {
		path := ""
		if cfg != nil {
			path = cfg.LogFile
		}
		logger = logging.NewLogger(os.Stderr, path)
	}
	return logger
}

// newDispatcher wires a dispatcher to the terminal: progress bars on
// stderr, poll spinners and command output on out.
func newDispatcher(cfg *config.Config, out io.Writer) *dispatch.Dispatcher {
	log := GetLogger(cfg)
	opts := dispatch.Options{
		Config:   cfg,
		Logger:   log,
		Out:      out,
		Progress: progress.NewTerminal(os.Stderr),
		Notifier: notify.NewNotifier(cfg.Notify.Enabled, log),
	}
	if f, ok := out.(*os.File); ok {
		opts.PollObserver = func() poll.Observer { return progress.NewPollUI(f) }
	}
	return dispatch.New(opts)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jobshell %s (built %s)\n", version.Version, version.BuildTime)
		},
	}
}
