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

	"github.com/bryanburgers/connectbot/internal/agent/devclient"
	"github.com/bryanburgers/connectbot/internal/shared/config"
	"github.com/bryanburgers/connectbot/internal/shared/logging"
)

var (
	configPath = flag.String("config", "agent-config.toml", "Path to configuration file")
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
		fmt.Printf("connectbot agent\nVersion: %s\nCommit: %s\nBuild Date: %s\n",
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

	logger := logging.WithComponent("agent")
	logger.Info("Starting connectbot agent")

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info(fmt.Sprintf("Configuration file not found, creating default at %s", *configPath))
			if err := config.CreateDefaultAgentConfig(*configPath); err != nil {
				logger.Fatal("Failed to create default configuration", err)
			}
			cfg, err = config.LoadAgentConfig(*configPath)
			if err != nil {
				logger.Fatal("Failed to load default configuration", err)
			}
		} else {
			logger.Fatal("Failed to load configuration", err)
		}
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

	client := devclient.New(devclient.Config{
		ServerAddress: cfg.Server.Address,
		TLSConfig:     tlsConfig,
		DeviceId:      cfg.Device.Id,
	}, logging.WithComponent("devclient").Zerolog())

	client.Run(ctx)

	logger.Info("connectbot agent stopped")
}

func buildTLSConfig(cfg *config.AgentConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLS.ServerCA == "" {
		return tlsConfig, nil
	}

	caBytes, err := os.ReadFile(cfg.TLS.ServerCA)
	if err != nil {
		return nil, fmt.Errorf("read server CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no certificates found in server CA file %s", cfg.TLS.ServerCA)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
