// Command starttls-client is an interactive client for starttls-server.
//
// It connects in plaintext, prints every reply and sends typed lines as
// commands. /starttls upgrades the connection in place.
//
// Usage:
//
//	starttls-client [flags]
//
// Flags:
//
//	-host string            Server host (default "localhost")
//	-port int               Server port (default 2525)
//	-find string            Look the server up via mDNS by instance name
//	-browse                 List servers advertised via mDNS and exit
//	-starttls               Upgrade right after connecting
//	-server-name string     Name expected in the server certificate (default: host)
//	-ca string              PEM file with CAs for the server certificate
//	-cert string            Client certificate (PEM)
//	-key string             Client key (PEM)
//	-reject-unauthorized    Abort when the server certificate does not verify
//	-timeout duration       Connect timeout (default 10s)
//	-log-level string       Log level: debug, info, warn, error (default "warn")
//	-protocol-log string    File path for protocol event logging (CBOR format)
//
// Examples:
//
//	# Connect to a local server and upgrade at once
//	starttls-client -port 2525 -starttls
//
//	# Find a server on the local network and pin its certificate
//	starttls-client -find lab-server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/mash-protocol/starttls-go/internal/lineproto"
	"github.com/mash-protocol/starttls-go/pkg/cert"
	"github.com/mash-protocol/starttls-go/pkg/discovery"
	"github.com/mash-protocol/starttls-go/pkg/event"
	protolog "github.com/mash-protocol/starttls-go/pkg/log"
	"github.com/mash-protocol/starttls-go/pkg/starttls"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

var (
	host               = flag.String("host", starttls.DefaultHost, "Server host")
	port               = flag.Int("port", discovery.DefaultPort, "Server port")
	find               = flag.String("find", "", "Look the server up via mDNS by instance name")
	browse             = flag.Bool("browse", false, "List servers advertised via mDNS and exit")
	autoTLS            = flag.Bool("starttls", false, "Upgrade right after connecting")
	serverName         = flag.String("server-name", "", "Name expected in the server certificate (default: host)")
	caFile             = flag.String("ca", "", "PEM file with CAs for the server certificate")
	certFile           = flag.String("cert", "", "Client certificate (PEM)")
	keyFile            = flag.String("key", "", "Client key (PEM)")
	rejectUnauthorized = flag.Bool("reject-unauthorized", false, "Abort when the server certificate does not verify")
	timeout            = flag.Duration("timeout", 10*time.Second, "Connect timeout")
	logLevel           = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	protocolLog        = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
)

func main() {
	flag.Parse()

	logger, err := setupLogging(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *browse {
		if err := listServers(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg := starttls.DefaultClientConfig()
	cfg.Host = *host
	cfg.Port = *port
	cfg.ServerName = *serverName
	cfg.ConnectTimeout = *timeout
	cfg.Logger = logger

	var fingerprint string
	if *find != "" {
		svc, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig()).Find(ctx, *find)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find %q: %v\n", *find, err)
			os.Exit(1)
		}
		cfg.Host = svc.Address()
		cfg.Port = int(svc.Port)
		if cfg.ServerName == "" {
			cfg.ServerName = svc.ServerName
		}
		fingerprint = svc.Fingerprint
		log.Printf("Found %s at %s:%d", svc.InstanceName, cfg.Host, cfg.Port)
	}

	tlsCfg, err := clientTLS()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var protocolLogger *protolog.FileLogger
	if *protocolLog != "" {
		protocolLogger, err = protolog.NewFileLogger(*protocolLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create protocol logger: %v\n", err)
			os.Exit(1)
		}
		defer protocolLogger.Close()
		// Only set the logger when non-nil to avoid a typed-nil interface.
		cfg.ProtocolLogger = protocolLogger
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "starttls> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()
	log.SetOutput(rl.Stderr())

	con := newConsole(rl.Stdout(), fingerprint)
	connected := make(chan struct{})
	closed := make(chan struct{})

	stream := starttls.ConnectConfig(ctx, cfg, func(s *starttls.Stream) {
		con.attach(lineproto.NewClient(s, lineproto.ClientOptions{
			TLS:      tlsCfg,
			Logger:   logger,
			OnReply:  con.onReply,
			OnSecure: con.onSecure,
		}))
		close(connected)
	})
	stream.On(event.Error, func(ev event.Event) {
		con.printf("Error: %v\n", ev.Err)
	})
	stream.On(event.Close, func(ev event.Event) {
		con.onClose(ev.HadError)
		close(closed)
		// Unblock the prompt.
		rl.Close()
	})
	defer stream.Destroy()

	select {
	case <-connected:
	case <-closed:
		os.Exit(1)
	}
	log.Printf("Connected to %s", stream.RemoteAddr())
	con.printHelp()

	if *autoTLS {
		con.handle("/starttls")
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) && len(line) > 0 {
				continue
			}
			break
		}
		if con.handle(line) {
			select {
			case <-closed:
			case <-time.After(*timeout):
			}
			break
		}
	}
}

// clientTLS builds the upgrade configuration from the flags.
func clientTLS() (*transport.TLSConfig, error) {
	tc := &transport.TLSConfig{
		RejectUnauthorized: transport.Bool(*rejectUnauthorized),
	}
	if *caFile != "" {
		pool, err := cert.LoadCertPool(*caFile)
		if err != nil {
			return nil, fmt.Errorf("load CA: %w", err)
		}
		tc.CA = pool
	}
	if *certFile != "" || *keyFile != "" {
		kp, err := cert.LoadKeyPair(*certFile, *keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = append(tc.Certificates, kp)
	}
	return tc, nil
}

// listServers prints the servers that answer within the browse timeout.
func listServers(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, discovery.BrowseTimeout)
	defer cancel()

	browser := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	defer browser.Stop()

	results, err := browser.Browse(ctx)
	if err != nil {
		return err
	}
	found := 0
	for svc := range discovery.FilterBrowseResults(results, discovery.FilterByVerb(lineproto.CmdStartTLS)) {
		found++
		fmt.Printf("%-24s %s:%d  [%s] sn=%s fp=%s\n",
			svc.InstanceName, svc.Address(), svc.Port,
			strings.Join(svc.Addresses, ", "), svc.ServerName, svc.Fingerprint)
	}
	if found == 0 {
		fmt.Println("No servers found")
	}
	return nil
}

func setupLogging(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "info":
		lvl = slog.LevelInfo
		log.SetFlags(log.Ltime | log.Lmicroseconds)
	case "warn", "":
		lvl = slog.LevelWarn
		log.SetFlags(log.Ltime)
	case "error":
		lvl = slog.LevelError
		log.SetFlags(log.Ltime)
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
