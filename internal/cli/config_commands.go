package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rescale/jobshell/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage jobshell configuration",
		Long: `Configuration management commands for jobshell.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for jobshell.

The configuration is saved to ~/.config/jobshell/config unless --config is
given. Use --force to overwrite an existing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at: %s\n", path)
					fmt.Fprintln(cmd.OutOrStdout(), "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "jobshell Configuration Setup")
			fmt.Fprintln(cmd.OutOrStdout(), "============================")
			fmt.Fprintln(cmd.OutOrStdout())

			cfg := promptConfig(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// promptConfig asks for each setting, keeping the default on empty input.
func promptConfig(reader *bufio.Reader, out io.Writer) *config.Config {
	cfg := config.New()

	ask := func(label, def string) string {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" {
			return def
		}
		return input
	}

	cfg.BaseURL = ask("Server URL", cfg.BaseURL)
	cfg.AcceptLanguage = ask("Accept-Language", cfg.AcceptLanguage)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Polling (press Enter for defaults)")
	fmt.Fprintln(out, "----------------------------------")
	if v, err := strconv.ParseFloat(ask("Poll interval seconds", strconv.FormatFloat(cfg.Poll.Interval.Seconds(), 'f', -1, 64)), 64); err == nil && v > 0 {
		cfg.Poll.Interval = time.Duration(v * float64(time.Second))
	}
	notifyInput := strings.ToLower(ask("Desktop notification when a poll finishes? (y/n)", "n"))
	cfg.Notify.Enabled = notifyInput == "y" || notifyInput == "yes"

	fmt.Fprintln(out)
	proxyInput := strings.ToLower(ask("Configure proxy? (y/n)", "n"))
	if proxyInput == "y" || proxyInput == "yes" {
		fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
		cfg.HTTP.ProxyMode = ask("Proxy mode", "system")
		if cfg.HTTP.ProxyMode == "basic" || cfg.HTTP.ProxyMode == "ntlm" {
			cfg.HTTP.ProxyHost = ask("Proxy host", "")
			if v, err := strconv.Atoi(ask("Proxy port", "8080")); err == nil && v > 0 {
				cfg.HTTP.ProxyPort = v
			}
			cfg.HTTP.ProxyUser = ask("Proxy user (optional)", "")
		}
	}

	fmt.Fprintln(out)
	logInput := strings.ToLower(ask("Write a log file? (y/n)", "n"))
	if logInput == "y" || logInput == "yes" {
		cfg.LogFile = ask("Log file", config.DefaultLogFile())
	}

	return cfg
}

// configView is the YAML rendering of a configuration.
type configView struct {
	Server struct {
		BaseURL        string `yaml:"base_url"`
		TokenCookie    string `yaml:"token_cookie"`
		AcceptLanguage string `yaml:"accept_language"`
	} `yaml:"server"`
	HTTP struct {
		ConnectTimeout  string `yaml:"connect_timeout"`
		ResponseTimeout string `yaml:"response_timeout"`
		MaxRetries      int    `yaml:"max_retries"`
		ProxyMode       string `yaml:"proxy_mode"`
		ProxyHost       string `yaml:"proxy_host,omitempty"`
		ProxyPort       int    `yaml:"proxy_port,omitempty"`
		ProxyUser       string `yaml:"proxy_user,omitempty"`
		NoProxy         string `yaml:"no_proxy,omitempty"`
	} `yaml:"http"`
	Poll struct {
		Interval  string `yaml:"interval"`
		MaxRounds int    `yaml:"max_rounds"`
	} `yaml:"poll"`
	Notify struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"notify"`
	LogFile string `yaml:"log_file,omitempty"`
}

func newConfigView(cfg *config.Config) configView {
	var v configView
	v.Server.BaseURL = cfg.BaseURL
	v.Server.TokenCookie = cfg.TokenCookie
	v.Server.AcceptLanguage = cfg.AcceptLanguage
	v.HTTP.ConnectTimeout = cfg.HTTP.ConnectTimeout.String()
	v.HTTP.ResponseTimeout = cfg.HTTP.ResponseTimeout.String()
	v.HTTP.MaxRetries = cfg.HTTP.MaxRetries
	v.HTTP.ProxyMode = cfg.HTTP.ProxyMode
	v.HTTP.ProxyHost = cfg.HTTP.ProxyHost
	v.HTTP.ProxyPort = cfg.HTTP.ProxyPort
	v.HTTP.ProxyUser = cfg.HTTP.ProxyUser
	v.HTTP.NoProxy = cfg.HTTP.NoProxy
	v.Poll.Interval = cfg.Poll.Interval.String()
	v.Poll.MaxRounds = cfg.Poll.MaxRounds
	v.Notify.Enabled = cfg.Notify.Enabled
	v.LogFile = cfg.LogFile
	return v
}

// writeConfig renders cfg as "ini" or "yaml".
func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch strings.ToLower(format) {
	case "ini", "":
		return cfg.WriteINI(w)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newConfigView(cfg)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (expected ini or yaml)", format)
	}
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration.

Sources, highest priority first:
  1. Command-line flags (--url, --log-file)
  2. Environment (JOBSHELL_URL)
  3. Configuration file
  4. Defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "ini", "Output format: ini or yaml")
	return cmd
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}
