package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/starttls-go/pkg/cert"
	"github.com/mash-protocol/starttls-go/pkg/discovery"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

// Config holds the server configuration. Every field can be set from the
// YAML file given with -config; flags on the command line take precedence.
type Config struct {
	ConfigFile string `yaml:"-"`

	Address       string        `yaml:"address"`
	CertDir       string        `yaml:"cert_dir"`
	ServerName    string        `yaml:"server_name"`
	LogLevel      string        `yaml:"log_level"`
	ProtocolLog   string        `yaml:"protocol_log"`
	MaxLineLength int           `yaml:"max_line_length"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`

	TLS  TLSSettings  `yaml:"tls"`
	MDNS MDNSSettings `yaml:"mdns"`
}

// TLSSettings configures the upgrade.
type TLSSettings struct {
	Protocol           string        `yaml:"protocol"`
	RequestCert        bool          `yaml:"request_cert"`
	RejectUnauthorized bool          `yaml:"reject_unauthorized"`
	ClientCA           string        `yaml:"client_ca"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
}

// MDNSSettings configures the DNS-SD announcement.
type MDNSSettings struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Interface string `yaml:"interface"`
}

// loadConfigFile overlays the YAML file at path onto cfg. Keys missing
// from the file keep their current values.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if cfg.CertDir == "" {
		return fmt.Errorf("cert_dir must not be empty")
	}
	if cfg.MaxLineLength < 0 {
		return fmt.Errorf("max_line_length must not be negative, got %d", cfg.MaxLineLength)
	}
	if cfg.TLS.RejectUnauthorized && !cfg.TLS.RequestCert {
		return fmt.Errorf("tls.reject_unauthorized requires tls.request_cert")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.MDNS.Enabled {
		if err := discovery.ValidateInstanceName(cfg.MDNS.Instance); err != nil {
			return fmt.Errorf("mdns.instance: %w", err)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ServerName == "" {
		cfg.ServerName = "localhost"
	}
	if cfg.MDNS.Instance == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "starttls-server"
		}
		cfg.MDNS.Instance = host
	}
}

// parseLevel maps the -log-level names onto slog levels.
func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

// loadIdentity returns the server certificate from the store in dir,
// generating a self-signed one for name on first start.
func loadIdentity(dir, name string) (*cert.Identity, error) {
	store := cert.NewFileStore(dir)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load certificates: %w", err)
	}
	id, err := cert.LoadOrGenerate(store, cert.Options{
		CommonName:   name,
		Organization: "starttls-go",
		DNSNames:     []string{name},
		IPAddresses:  []string{"127.0.0.1", "::1"},
	})
	if err != nil {
		return nil, fmt.Errorf("server certificate: %w", err)
	}
	return id, nil
}

// tlsConfig builds the upgrade configuration for id.
func tlsConfig(cfg *Config, id *cert.Identity) (*transport.TLSConfig, error) {
	tc := &transport.TLSConfig{
		SecureProtocol:     cfg.TLS.Protocol,
		RequestCert:        transport.Bool(cfg.TLS.RequestCert),
		RejectUnauthorized: transport.Bool(cfg.TLS.RejectUnauthorized),
		Certificates:       []tls.Certificate{id.TLSCertificate()},
		HandshakeTimeout:   cfg.TLS.HandshakeTimeout,
	}
	if cfg.TLS.ClientCA != "" {
		pool, err := cert.LoadCertPool(cfg.TLS.ClientCA)
		if err != nil {
			return nil, fmt.Errorf("client CA: %w", err)
		}
		tc.CA = pool
	}
	return tc, nil
}
