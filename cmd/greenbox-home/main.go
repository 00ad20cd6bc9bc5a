package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"greenbox-home/internal/device"
	"greenbox-home/internal/transport"
	"greenbox-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Device struct {
		// Transport selects the link backend: "ble" (default) or
		// "serial" for a bench bridge.
		Transport string `yaml:"transport"`
		// Address is the BLE MAC of the appliance.
		Address string `yaml:"address"`
		// Port and Baud configure the serial backend.
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
		// StaleTimeout is how long without a notification before the
		// reported state turns unknown.
		StaleTimeout string `yaml:"stale_timeout"`
	} `yaml:"device"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	switch c.Device.Transport {
	case "ble", "":
		if c.Device.Address == "" {
			return fmt.Errorf("device.address is required for the ble transport")
		}
	case "serial":
		if c.Device.Port == "" {
			return fmt.Errorf("device.port is required for the serial transport")
		}
	default:
		return fmt.Errorf("unknown device.transport: %q (supported: ble, serial)", c.Device.Transport)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("greenbox-home starting", "version", version)

	tr, err := createTransport(cfg, logger)
	if err != nil {
		logger.Error("create transport", "err", err)
		os.Exit(1)
	}

	staleTimeout := device.DefaultStaleTimeout
	if cfg.Device.StaleTimeout != "" {
		d, err := time.ParseDuration(cfg.Device.StaleTimeout)
		if err != nil {
			logger.Error("invalid device.stale_timeout", "value", cfg.Device.StaleTimeout, "err", err)
			os.Exit(1)
		}
		staleTimeout = d
	}

	session := device.NewSession(tr, device.Config{StaleTimeout: staleTimeout}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := session.Start(ctx); err != nil {
		logger.Error("connect to device", "err", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	// Automation engine (no-op when built with the no_automation tag).
	auto := initAutomation(session, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))

	webServer := web.NewServer(session, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// MQTT bridge (no-op when built with the no_mqtt tag).
	mqtt := initMQTT(session, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	session.Stop()

	logger.Info("goodbye")
}

func createTransport(cfg *Config, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Device.Transport {
	case "ble", "":
		logger.Info("using BLE transport", "address", cfg.Device.Address)
		return transport.NewBLE(cfg.Device.Address, logger), nil
	case "serial":
		logger.Info("using serial transport", "port", cfg.Device.Port, "baud", cfg.Device.Baud)
		return transport.NewSerial(cfg.Device.Port, cfg.Device.Baud, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport: %q", cfg.Device.Transport)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Device.Baud == 0 {
		cfg.Device.Baud = 9600
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "greenbox"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
