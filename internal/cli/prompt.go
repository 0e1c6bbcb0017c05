package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rescale/jobshell/internal/config"
	"github.com/rescale/jobshell/internal/http"
)

// proxyPasswordEnv supplies the proxy password non-interactively.
const proxyPasswordEnv = "JOBSHELL_PROXY_PASSWORD"

// readPassword prompts for a password on the terminal with echo disabled.
func readPassword(user string) (string, error) {
	return readSecret(fmt.Sprintf("Password for %s: ", user),
		"no terminal available for password prompt (use --password)")
}

func readSecret(prompt, noTTY string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New(noTTY)
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// ensureProxyPassword fills in the proxy password when a proxy user is
// configured. The password is never stored in the config file, so it comes
// from the environment or a prompt.
func ensureProxyPassword(cfg *config.Config) error {
	if !http.NeedsProxyPassword(cfg.HTTP) {
		return nil
	}
	if pw := os.Getenv(proxyPasswordEnv); pw != "" {
		cfg.HTTP.ProxyPassword = pw
		return nil
	}
	pw, err := readSecret(fmt.Sprintf("Proxy password for %s@%s: ", cfg.HTTP.ProxyUser, cfg.HTTP.ProxyHost),
		"proxy password required (set "+proxyPasswordEnv+")")
	if err != nil {
		return err
	}
	cfg.HTTP.ProxyPassword = pw
	return nil
}
