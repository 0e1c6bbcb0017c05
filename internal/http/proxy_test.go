package http

import (
	nethttp "net/http"
	"net/url"
	"testing"

	ntlmssp "github.com/Azure/go-ntlmssp"

	"github.com/rescale/jobshell/internal/config"
	"github.com/rescale/jobshell/internal/logging"
)

func TestProxyFuncWithBypass(t *testing.T) {
	proxyURL := &url.URL{Scheme: "http", Host: "proxy.corp:3128"}

	tests := []struct {
		name       string
		noProxy    string
		target     string
		wantBypass bool
	}{
		{"empty list proxies everything", "", "https://jobs.example.org/jobserver/login", false},
		{"wildcard subdomain", "*.example.org", "https://jobs.example.org/jobserver/login", true},
		{"bare domain matches root", "example.org", "https://example.org/jobserver", true},
		// httpproxy rule: a domain without a leading dot also matches subdomains.
		{"bare domain matches subdomain", "example.org", "https://jobs.example.org/jobserver", true},
		{"cidr", "10.0.0.0/8", "http://10.20.30.40:8080/jobserver", true},
		{"cidr miss", "10.0.0.0/8", "http://192.168.1.5:8080/jobserver", false},
		{"list miss", "*.internal.corp, 10.0.0.0/8", "https://jobs.example.net/jobserver", false},
		{"list hit", "*.internal.corp, 192.168.0.0/16, lab.corp", "http://lab.corp/jobserver", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxyFunc := proxyFuncWithBypass(proxyURL, tt.noProxy)
			req, err := nethttp.NewRequest(nethttp.MethodGet, tt.target, nil)
			if err != nil {
				t.Fatal(err)
			}
			got, err := proxyFunc(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantBypass && got != nil {
				t.Errorf("expected direct connection for %s, got proxy %v", tt.target, got)
			}
			if !tt.wantBypass {
				if got == nil {
					t.Fatalf("expected proxy for %s, got direct", tt.target)
				}
				if got.Host != "proxy.corp:3128" {
					t.Errorf("expected proxy host proxy.corp:3128, got %s", got.Host)
				}
			}
		})
	}
}

func TestApplyProxy(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		host      string
		wantProxy bool
		wantNTLM  bool
	}{
		{"no proxy", "no-proxy", "", false, false},
		{"empty mode", "", "proxy.corp", false, false},
		{"basic", "basic", "proxy.corp", true, false},
		{"basic without host", "basic", "", false, false},
		{"ntlm", "NTLM", "proxy.corp", true, true},
		{"ntlm without host", "ntlm", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New().HTTP
			cfg.ProxyMode = tt.mode
			cfg.ProxyHost = tt.host

			tr := newTransport(cfg)
			rt, err := applyProxy(tr, cfg, logging.Discard())
			if err != nil {
				t.Fatalf("applyProxy: %v", err)
			}
			if (tr.Proxy != nil) != tt.wantProxy {
				t.Errorf("proxy set = %v, want %v", tr.Proxy != nil, tt.wantProxy)
			}
			_, isNTLM := rt.(ntlmssp.Negotiator)
			if isNTLM != tt.wantNTLM {
				t.Errorf("ntlm negotiator = %v, want %v", isNTLM, tt.wantNTLM)
			}
			if proxyActive(cfg) != tt.wantProxy {
				t.Errorf("proxyActive = %v, want %v", proxyActive(cfg), tt.wantProxy)
			}
		})
	}
}

func TestNewTransport_Timeouts(t *testing.T) {
	cfg := config.New().HTTP
	tr := newTransport(cfg)
	if tr.ResponseHeaderTimeout != cfg.ResponseTimeout {
		t.Errorf("ResponseHeaderTimeout = %v, want %v", tr.ResponseHeaderTimeout, cfg.ResponseTimeout)
	}
	if tr.TLSHandshakeTimeout != cfg.ConnectTimeout {
		t.Errorf("TLSHandshakeTimeout = %v, want %v", tr.TLSHandshakeTimeout, cfg.ConnectTimeout)
	}
}
