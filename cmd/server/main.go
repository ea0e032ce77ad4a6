package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bryanburgers/connectbot/internal/server/controlserver"
	"github.com/bryanburgers/connectbot/internal/server/devicefrontdoor"
	"github.com/bryanburgers/connectbot/internal/server/portalloc"
	"github.com/bryanburgers/connectbot/internal/server/reconcile"
	"github.com/bryanburgers/connectbot/internal/server/session"
	"github.com/bryanburgers/connectbot/internal/server/world"
	"github.com/bryanburgers/connectbot/internal/shared/config"
	"github.com/bryanburgers/connectbot/internal/shared/logging"
)

var (
	configPath = flag.String("config", "config.toml", "Path to configuration file")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	version    = flag.Bool("version", false, "Print version information")
)

// These variables are set during build time
var (
	BuildVersion = "dev"
	BuildCommit  = "none"
	BuildDate    = "unknown"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("connectbot server\nVersion: %s\nCommit: %s\nBuild Date: %s\n",
			BuildVersion, BuildCommit, BuildDate)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	logger := logging.WithComponent("server")
	logger.Info("Starting connectbot server")

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to build TLS configuration", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		logger.Info(fmt.Sprintf("Received signal %s, shutting down", sig))
		cancel()
	}()

	allocator := portalloc.New(cfg.SSH.WebPortStart, cfg.SSH.WebPortEnd, cfg.SSH.PortStart, cfg.SSH.PortEnd)
	w := world.New(allocator)

	deviceServer := &devicefrontdoor.Server{
		Address:   cfg.Address,
		TLSConfig: tlsConfig,
		World:     w,
		SshConfig: session.SshConfig{
			Host:       cfg.SSH.Host,
			Port:       cfg.SSH.Port,
			Username:   cfg.SSH.User,
			PrivateKey: cfg.SSH.PrivateKey,
		},
		Logger: logging.WithComponent("devicefrontdoor").Zerolog(),
	}

	control := &controlserver.Server{
		Address: cfg.ControlAddress,
		World:   w,
		Logger:  logging.WithComponent("controlserver").Zerolog(),
	}

	reconciler := &reconcile.Reconciler{
		World:  w,
		Logger: logging.WithComponent("reconcile").Zerolog(),
	}

	go func() {
		if err := deviceServer.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			logger.Error("device front door error", err)
			cancel()
		}
	}()

	go func() {
		if err := control.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			logger.Error("control server error", err)
			cancel()
		}
	}()

	reconciler.Start(ctx)

	<-ctx.Done()

	logger.Info("Shutting down services")
	reconciler.Stop()

	logger.Info("connectbot server stopped")
}

func buildTLSConfig(cfg *config.ServerConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLS.Certificate, cfg.TLS.Key)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.ClientAuthentication.Required {
		caBytes, err := os.ReadFile(cfg.ClientAuthentication.CA)
		if err != nil {
			return nil, fmt.Errorf("read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("no certificates found in client CA file %s", cfg.ClientAuthentication.CA)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}
