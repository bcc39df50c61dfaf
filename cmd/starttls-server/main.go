// Command starttls-server runs the demo line protocol server with an
// in-band STARTTLS upgrade.
//
// Clients connect in plaintext and receive a greeting. The STARTTLS command
// switches the connection to TLS; PING, STATUS and QUIT work on either
// side of the upgrade, and any other line is echoed back.
//
// Usage:
//
//	starttls-server [flags]
//
// Flags:
//
//	-config string          Configuration file path (YAML)
//	-addr string            Listen address (default ":2525")
//	-cert-dir string        Certificate directory (default "./starttls-certs")
//	-name string            Server name for the certificate (default "localhost")
//	-log-level string       Log level: debug, info, warn, error (default "info")
//	-protocol-log string    File path for protocol event logging (CBOR format)
//	-request-cert           Ask clients for a certificate during the upgrade
//	-reject-unauthorized    Drop clients whose certificate does not verify
//	-client-ca string       PEM file with CAs for client certificates
//	-tls-protocol string    Secure protocol method, e.g. TLSv1_2_method
//	-handshake-timeout dur  TLS handshake timeout (default 10s)
//	-max-line int           Maximum command line length (default 4096)
//	-idle-timeout duration  Close silent connections (default 5m)
//	-mdns                   Advertise the server via mDNS
//	-instance string        mDNS instance name (default: hostname)
//	-interface string       Network interface for mDNS (default: all)
//
// Examples:
//
//	# Start with a generated self-signed certificate
//	starttls-server -addr :2525
//
//	# Require client certificates issued by a local CA
//	starttls-server -request-cert -reject-unauthorized -client-ca ca.pem
//
//	# Load settings from a file and advertise on the local network
//	starttls-server -config /etc/starttls/server.yaml -mdns
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/mash-protocol/starttls-go/internal/lineproto"
	"github.com/mash-protocol/starttls-go/pkg/discovery"
	protolog "github.com/mash-protocol/starttls-go/pkg/log"
	"github.com/mash-protocol/starttls-go/pkg/starttls"
)

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&config.Address, "addr", ":2525", "Listen address")
	flag.StringVar(&config.CertDir, "cert-dir", "./starttls-certs", "Certificate directory")
	flag.StringVar(&config.ServerName, "name", "localhost", "Server name for the certificate")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "File path for protocol event logging (CBOR format)")
	flag.IntVar(&config.MaxLineLength, "max-line", lineproto.DefaultMaxLineLength, "Maximum command line length")
	flag.DurationVar(&config.IdleTimeout, "idle-timeout", 5*time.Minute, "Close silent connections after this long (0 disables)")

	flag.StringVar(&config.TLS.Protocol, "tls-protocol", "", "Secure protocol method, e.g. TLSv1_2_method")
	flag.BoolVar(&config.TLS.RequestCert, "request-cert", false, "Ask clients for a certificate during the upgrade")
	flag.BoolVar(&config.TLS.RejectUnauthorized, "reject-unauthorized", false, "Drop clients whose certificate does not verify")
	flag.StringVar(&config.TLS.ClientCA, "client-ca", "", "PEM file with CAs for client certificates")
	flag.DurationVar(&config.TLS.HandshakeTimeout, "handshake-timeout", 10*time.Second, "TLS handshake timeout")

	flag.BoolVar(&config.MDNS.Enabled, "mdns", false, "Advertise the server via mDNS")
	flag.StringVar(&config.MDNS.Instance, "instance", "", "mDNS instance name (default: hostname)")
	flag.StringVar(&config.MDNS.Interface, "interface", "", "Network interface for mDNS (default: all)")
}

func main() {
	flag.Parse()
	if config.ConfigFile != "" {
		if err := loadConfigFile(config.ConfigFile, &config); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
		// Flags given on the command line win over the file.
		flag.Parse()
	}
	applyDefaults(&config)
	if err := validateConfig(&config); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := setupLogging(config.LogLevel)

	log.Println("STARTTLS Demo Server")
	log.Println("====================")
	log.Printf("Address: %s", config.Address)
	log.Printf("Server name: %s", config.ServerName)

	id, err := loadIdentity(config.CertDir, config.ServerName)
	if err != nil {
		log.Fatalf("Failed to load identity: %v", err)
	}
	fingerprint := discovery.Fingerprint(id.Certificate)
	log.Printf("Certificate: %s (expires %s)", fingerprint, id.ExpiresAt().Format(time.RFC3339))

	tlsCfg, err := tlsConfig(&config, id)
	if err != nil {
		log.Fatalf("Invalid TLS configuration: %v", err)
	}

	var protocolLogger *protolog.FileLogger
	if config.ProtocolLog != "" {
		protocolLogger, err = protolog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			log.Fatalf("Failed to create protocol logger: %v", err)
		}
		log.Printf("Protocol logging to: %s", config.ProtocolLog)
	}

	srvCfg := starttls.DefaultServerConfig()
	srvCfg.Address = config.Address
	srvCfg.Logger = logger
	// Only set the logger when non-nil to avoid a typed-nil interface.
	if protocolLogger != nil {
		srvCfg.ProtocolLogger = protocolLogger
	}
	srvCfg.OnError = func(err error) {
		logger.Warn("accept failed", "error", err)
	}
	srvCfg.OnConnection = func(s *starttls.Stream) {
		logger.Info("client connected", "conn_id", s.ID(), "remote", s.RemoteAddr())
		lineproto.Serve(s, lineproto.ServerOptions{
			TLS:           tlsCfg,
			MaxLineLength: config.MaxLineLength,
			IdleTimeout:   config.IdleTimeout,
			Logger:        logger,
		})
	}
	srv := starttls.NewServer(srvCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Listening on %s", srv.Addr())

	var advertiser *discovery.MDNSAdvertiser
	if config.MDNS.Enabled {
		advertiser = discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{Interface: config.MDNS.Interface})
		err := advertiser.Advertise(ctx, &discovery.ServerInfo{
			InstanceName: config.MDNS.Instance,
			Port:         uint16(srv.Port()),
			Verb:         lineproto.CmdStartTLS,
			ServerName:   config.ServerName,
			Fingerprint:  fingerprint,
		})
		if err != nil {
			log.Printf("Warning: mDNS advertising failed: %v", err)
			advertiser = nil
		} else {
			log.Printf("Advertising %s.%s.%s", config.MDNS.Instance, discovery.ServiceType, discovery.Domain)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down...")

	var stopErr error
	if advertiser != nil {
		stopErr = multierr.Append(stopErr, advertiser.Stop())
	}
	stopErr = multierr.Append(stopErr, srv.Stop())
	if protocolLogger != nil {
		stopErr = multierr.Append(stopErr, protocolLogger.Close())
		log.Printf("Protocol events written: %d", protocolLogger.Count())
	}
	if stopErr != nil {
		log.Printf("Error stopping server: %v", stopErr)
	}

	log.Println("Goodbye!")
}

// setupLogging configures the banner logger and returns the structured
// logger handed to the server.
func setupLogging(level string) *slog.Logger {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	lvl, _ := parseLevel(level)
	switch lvl {
	case slog.LevelDebug:
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case slog.LevelWarn, slog.LevelError:
		log.SetFlags(log.Ltime)
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
