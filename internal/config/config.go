// Package config provides configuration management for jobshell.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// DefaultBaseURL is the server address used when none is configured.
// Login failures against any other address are reported as a bad address.
const DefaultBaseURL = "http://localhost:8080/jobserver"

// Config represents the client configuration.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\jobshell\config
//   - Unix: ~/.config/jobshell/config
//
// INI format:
//
//	[server]
//	base_url = http://localhost:8080/jobserver
//	token_cookie = JSESSIONID
//	accept_language = en-US,en;q=0.8
//
//	[http]
//	connect_timeout_seconds = 10
//	response_timeout_seconds = 60
//	max_retries = 0
//	proxy_mode = no-proxy
//
//	[poll]
//	interval_seconds = 5
//
//	[notify]
//	enabled = false
//
//	[log]
//	file = /var/log/jobshell.log
type Config struct {
	// BaseURL is the server address every request path is appended to.
	BaseURL string
	// TokenCookie is the name of the session-token cookie.
	TokenCookie string
	// AcceptLanguage is sent with every request.
	AcceptLanguage string

	HTTP   HTTPConfig
	Poll   PollConfig
	Notify NotifyConfig

	// LogFile, when set, receives a rotated copy of the log.
	LogFile string
}

// HTTPConfig holds transport settings.
type HTTPConfig struct {
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	// MaxRetries applies to idempotent API calls only. Zero disables retries.
	MaxRetries int

	ProxyMode     string // "no-proxy", "system", "basic", "ntlm"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string // never read from or written to the file
	NoProxy       string
}

// PollConfig holds defaults for the poll command.
type PollConfig struct {
	Interval time.Duration
	// MaxRounds stops a poll after that many rounds. Zero means unbounded.
	MaxRounds int
}

// NotifyConfig controls desktop notifications.
type NotifyConfig struct {
	Enabled bool
}

// Validation errors
var (
	ErrMissingBaseURL     = errors.New("base_url is required")
	ErrInvalidBaseURL     = errors.New("base_url must be an absolute http or https url")
	ErrMissingTokenCookie = errors.New("token_cookie is required")
	ErrInvalidTimeout     = errors.New("timeouts must be positive")
	ErrInvalidRetries     = errors.New("max_retries must be between 0 and 10")
	ErrInvalidInterval    = errors.New("poll interval_seconds must be positive")
	ErrInvalidProxyMode   = errors.New("proxy_mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost   = errors.New("proxy_host is required for basic and ntlm proxy modes")
)

// DefaultPath returns the default path for the config file.
func DefaultPath() (string, error) {
	var configDir string

	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		configDir = filepath.Join(userProfile, ".config", "jobshell")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", "jobshell")
	}

	return filepath.Join(configDir, "config"), nil
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		BaseURL:        DefaultBaseURL,
		TokenCookie:    "JSESSIONID",
		AcceptLanguage: "en-US,en;q=0.8",
		HTTP: HTTPConfig{
			ConnectTimeout:  10 * time.Second,
			ResponseTimeout: 60 * time.Second,
			MaxRetries:      0,
			ProxyMode:       "no-proxy",
		},
		Poll: PollConfig{
			Interval: 5 * time.Second,
		},
	}
}

// Load loads configuration from an INI file.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
// JOBSHELL_URL, when set, overrides the configured base URL.
func Load(path string) (*Config, error) {
	cfg := New()
	defer applyEnv(cfg)

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	server := iniFile.Section("server")
	cfg.BaseURL = server.Key("base_url").MustString(cfg.BaseURL)
	cfg.TokenCookie = server.Key("token_cookie").MustString(cfg.TokenCookie)
	cfg.AcceptLanguage = server.Key("accept_language").MustString(cfg.AcceptLanguage)

	h := iniFile.Section("http")
	cfg.HTTP.ConnectTimeout = seconds(h.Key("connect_timeout_seconds").MustFloat64(cfg.HTTP.ConnectTimeout.Seconds()))
	cfg.HTTP.ResponseTimeout = seconds(h.Key("response_timeout_seconds").MustFloat64(cfg.HTTP.ResponseTimeout.Seconds()))
	cfg.HTTP.MaxRetries = h.Key("max_retries").MustInt(cfg.HTTP.MaxRetries)
	cfg.HTTP.ProxyMode = h.Key("proxy_mode").MustString(cfg.HTTP.ProxyMode)
	cfg.HTTP.ProxyHost = h.Key("proxy_host").String()
	cfg.HTTP.ProxyPort = h.Key("proxy_port").MustInt(0)
	cfg.HTTP.ProxyUser = h.Key("proxy_user").String()
	cfg.HTTP.NoProxy = h.Key("no_proxy").String()

	poll := iniFile.Section("poll")
	cfg.Poll.Interval = seconds(poll.Key("interval_seconds").MustFloat64(cfg.Poll.Interval.Seconds()))
	cfg.Poll.MaxRounds = poll.Key("max_rounds").MustInt(0)

	cfg.Notify.Enabled = iniFile.Section("notify").Key("enabled").MustBool(false)
	cfg.LogFile = iniFile.Section("log").Key("file").String()

	return cfg, nil
}

// Save saves configuration to an INI file.
// Creates parent directories if they don't exist. The proxy password is not
// written.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile, err := cfg.toINI()
	if err != nil {
		return err
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// toINI renders cfg in the file format. The proxy password is never
// included.
func (cfg *Config) toINI() (*ini.File, error) {
	iniFile := ini.Empty()

	server, err := iniFile.NewSection("server")
	if err != nil {
		return nil, fmt.Errorf("failed to create server section: %w", err)
	}
	server.Key("base_url").SetValue(cfg.BaseURL)
	server.Key("token_cookie").SetValue(cfg.TokenCookie)
	server.Key("accept_language").SetValue(cfg.AcceptLanguage)

	h, err := iniFile.NewSection("http")
	if err != nil {
		return nil, fmt.Errorf("failed to create http section: %w", err)
	}
	h.Key("connect_timeout_seconds").SetValue(formatSeconds(cfg.HTTP.ConnectTimeout))
	h.Key("response_timeout_seconds").SetValue(formatSeconds(cfg.HTTP.ResponseTimeout))
	h.Key("max_retries").SetValue(fmt.Sprintf("%d", cfg.HTTP.MaxRetries))
	h.Key("proxy_mode").SetValue(cfg.HTTP.ProxyMode)
	if cfg.HTTP.ProxyHost != "" {
		h.Key("proxy_host").SetValue(cfg.HTTP.ProxyHost)
		h.Key("proxy_port").SetValue(fmt.Sprintf("%d", cfg.HTTP.ProxyPort))
	}
	if cfg.HTTP.ProxyUser != "" {
		h.Key("proxy_user").SetValue(cfg.HTTP.ProxyUser)
	}
	if cfg.HTTP.NoProxy != "" {
		h.Key("no_proxy").SetValue(cfg.HTTP.NoProxy)
	}

	poll, err := iniFile.NewSection("poll")
	if err != nil {
		return nil, fmt.Errorf("failed to create poll section: %w", err)
	}
	poll.Key("interval_seconds").SetValue(formatSeconds(cfg.Poll.Interval))
	poll.Key("max_rounds").SetValue(fmt.Sprintf("%d", cfg.Poll.MaxRounds))

	notify, err := iniFile.NewSection("notify")
	if err != nil {
		return nil, fmt.Errorf("failed to create notify section: %w", err)
	}
	notify.Key("enabled").SetValue(fmt.Sprintf("%t", cfg.Notify.Enabled))

	if cfg.LogFile != "" {
		logSection, err := iniFile.NewSection("log")
		if err != nil {
			return nil, fmt.Errorf("failed to create log section: %w", err)
		}
		logSection.Key("file").SetValue(cfg.LogFile)
	}

	return iniFile, nil
}

// WriteINI writes cfg in the file format to w.
func (cfg *Config) WriteINI(w io.Writer) error {
	iniFile, err := cfg.toINI()
	if err != nil {
		return err
	}
	_, err = iniFile.WriteTo(w)
	return err
}

// Validate checks if the configuration is usable.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBaseURL
	}
	if strings.TrimSpace(cfg.TokenCookie) == "" {
		return ErrMissingTokenCookie
	}
	if cfg.HTTP.ConnectTimeout <= 0 || cfg.HTTP.ResponseTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if cfg.HTTP.MaxRetries < 0 || cfg.HTTP.MaxRetries > 10 {
		return ErrInvalidRetries
	}
	if cfg.Poll.Interval <= 0 {
		return ErrInvalidInterval
	}

	switch strings.ToLower(cfg.HTTP.ProxyMode) {
	case "", "no-proxy", "system":
	case "basic", "ntlm":
		if cfg.HTTP.ProxyHost == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}

	return nil
}

// IsDefaultBaseURL reports whether addr is the built-in default server
// address, ignoring a trailing slash.
func IsDefaultBaseURL(addr string) bool {
	return strings.TrimSuffix(addr, "/") == strings.TrimSuffix(DefaultBaseURL, "/")
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("JOBSHELL_URL")); v != "" {
		cfg.BaseURL = v
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%g", d.Seconds())
}
