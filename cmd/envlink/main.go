// Package main implements the envlink entry point. envlink connects to
// one or more remote environmental sensor servers, aggregates their raw
// telemetry into windowed statistics and publishes the results to
// JetStream.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/c360/envlink/client"
	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/health"
	"github.com/c360/envlink/metric"
	"github.com/c360/envlink/natsclient"
	"github.com/c360/envlink/sink"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "envlink"
)

const stopTimeout = 10 * time.Second

// appConfig is the top-level configuration file layout.
type appConfig struct {
	NATSURL     string          `json:"nats_url,omitempty"`
	MetricsAddr string          `json:"metrics_addr,omitempty"`
	QueueSize   int             `json:"queue_size,omitempty"`
	LogLevel    string          `json:"log_level,omitempty"`
	Clients     []client.Config `json:"clients"`
}

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "envlink.json", "path to the configuration file")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if *validateOnly {
		logger.Info("Configuration is valid", "clients", len(cfg.Clients))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Core infrastructure: NATS connection, metrics registry and server.
	natsConn, err := natsclient.Connect(natsclient.Options{
		URL:    cfg.NATSURL,
		Name:   appName,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := natsConn.Close(drainCtx); err != nil {
			logger.Warn("nats close failed", "error", err)
		}
	}()

	registry := metric.NewMetricsRegistry()

	natsSink, err := sink.NewNATS(ctx, natsConn.Conn(), logger)
	if err != nil {
		return err
	}
	out, err := sink.NewBuffered(natsSink, cfg.QueueSize, logger, registry)
	if err != nil {
		return err
	}
	defer out.Close()

	clients := make([]*client.Client, 0, len(cfg.Clients))
	for _, clientCfg := range cfg.Clients {
		c, err := client.New(client.Deps{
			Config:  clientCfg,
			Logger:  logger,
			Sink:    out,
			Metrics: registry,
		})
		if err != nil {
			return err
		}
		if err := c.Initialize(); err != nil {
			return err
		}
		clients = append(clients, c)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	monitor := health.NewMonitor(logger, 15*time.Second)
	for _, c := range clients {
		monitor.Register(c)
	}
	group.Go(func() error {
		err := monitor.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.MetricsAddr != "" {
		metricsServer := metric.NewServer(cfg.MetricsAddr, "/metrics", registry)
		group.Go(func() error {
			return metricsServer.Start()
		})
		group.Go(func() error {
			<-groupCtx.Done()
			return metricsServer.Stop()
		})
	}

	for _, c := range clients {
		if err := c.Start(groupCtx); err != nil {
			return err
		}
	}
	logger.Info("envlink started", "version", Version, "clients", len(clients))

	<-groupCtx.Done()
	logger.Info("shutdown requested")

	for _, c := range clients {
		if err := c.Stop(stopTimeout); err != nil {
			logger.Warn("client stop failed", "client", c.Meta().Name, "error", err)
		}
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig reads, decodes and validates the configuration file.
func loadConfig(path string) (*appConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMissingConfig, "main", "loadConfig",
			fmt.Sprintf("reading %s: %v", path, err))
	}

	var cfg appConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "main", "loadConfig", "decoding configuration")
	}

	if cfg.NATSURL == "" {
		cfg.NATSURL = nats.DefaultURL
	}
	if len(cfg.Clients) == 0 {
		return nil, errors.WrapInvalid(
			errors.New("no clients configured"), "main", "loadConfig", "configuration check")
	}
	for i := range cfg.Clients {
		if err := cfg.Clients[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// setupLogger builds the process-wide structured logger.
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
