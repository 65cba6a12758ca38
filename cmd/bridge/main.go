// Command bridge runs the MQTT/Modbus bridge: it loads a device
// configuration, connects to an MQTT broker, and polls every enabled
// device on its own schedule (spec.md §6.3 "run" subcommand).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flag"

	"go.uber.org/zap"

	"mqtt-modbus-gateway/internal/bridge"
	"mqtt-modbus-gateway/internal/config"
	_ "mqtt-modbus-gateway/internal/drivers/demometer"
	"mqtt-modbus-gateway/internal/logging"
	"mqtt-modbus-gateway/internal/metrics"
	"mqtt-modbus-gateway/internal/mqttclient"
	"mqtt-modbus-gateway/internal/resilience"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  bridge run [flags]

Flags for 'run':
  --config <path>              bridge YAML configuration file
  --mqtt-url <url>              MQTT broker URL, e.g. tcp://localhost:1883 (overrides config)
  --mqtt-client-id <id>          MQTT client id (overrides config)
  --mqtt-username <user>         MQTT username (overrides config)
  --mqtt-password <pass>         MQTT password (overrides config)
  --mqtt-reconnect-period <ms>   MQTT reconnect period in milliseconds (overrides config)
  --topic-prefix <prefix>        MQTT topic prefix (overrides config)
  --state-dir <path>            directory for bridge state (accepted; nothing is written to or read from it)
  --metrics-addr <addr>          address to serve Prometheus metrics on, e.g. :9090
  --log-level <level>            log level (debug, info, warn, error; default info)
`)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "bridge: missing command (expected 'run')")
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	if cmd != "run" {
		fmt.Fprintf(os.Stderr, "bridge: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	runFlags := flag.NewFlagSet("run", flag.ExitOnError)
	runFlags.Usage = usage

	var (
		configPath            = runFlags.String("config", "", "path to the bridge YAML configuration file")
		mqttURL               = runFlags.String("mqtt-url", "", "MQTT broker URL, e.g. tcp://localhost:1883 (overrides config)")
		mqttClientID          = runFlags.String("mqtt-client-id", "", "MQTT client id (overrides config)")
		mqttUsername          = runFlags.String("mqtt-username", "", "MQTT username (overrides config)")
		mqttPassword          = runFlags.String("mqtt-password", "", "MQTT password (overrides config)")
		mqttReconnectPeriodMs = runFlags.Int("mqtt-reconnect-period", 0, "MQTT reconnect period in milliseconds (overrides config)")
		topicPrefix           = runFlags.String("topic-prefix", "", "MQTT topic prefix (overrides config)")
		stateDir              = runFlags.String("state-dir", "", "directory for bridge state (accepted; nothing is written to or read from it)")
		metricsAddr           = runFlags.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090")
		logLevel              = runFlags.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	runFlags.Parse(os.Args[2:])

	logger, err := logging.New(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	var bridgeCfg config.BridgeConfig
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load configuration", zap.Error(err))
			os.Exit(1)
		}
		bridgeCfg = *loaded
	}

	if *mqttURL != "" {
		bridgeCfg.MQTT.BrokerURL = *mqttURL
	}
	if *mqttClientID != "" {
		bridgeCfg.MQTT.ClientID = *mqttClientID
	}
	if *mqttUsername != "" {
		bridgeCfg.MQTT.Username = *mqttUsername
	}
	if *mqttPassword != "" {
		bridgeCfg.MQTT.Password = *mqttPassword
	}
	if *mqttReconnectPeriodMs != 0 {
		bridgeCfg.MQTT.ReconnectPeriod = time.Duration(*mqttReconnectPeriodMs) * time.Millisecond
	}
	if *topicPrefix != "" {
		bridgeCfg.MQTT.TopicPrefix = *topicPrefix
	}
	if *metricsAddr != "" {
		bridgeCfg.Metrics.Enabled = true
		bridgeCfg.Metrics.Addr = *metricsAddr
	}

	if bridgeCfg.MQTT.BrokerURL == "" {
		logger.Error("no MQTT broker URL provided: set --mqtt-url or mqtt.broker_url in --config")
		os.Exit(1)
	}

	deviceConfigs, err := bridgeCfg.DeviceConfigs()
	if err != nil {
		logger.Error("invalid device configuration", zap.Error(err))
		os.Exit(1)
	}

	var metricsCollector *metrics.Metrics
	var metricsServer *metrics.Server
	if bridgeCfg.Metrics.Enabled {
		metricsCollector = metrics.New()
		metricsServer = metrics.NewServer(bridgeCfg.Metrics.Addr, metricsCollector)
	}

	br := bridge.New(bridge.Config{
		MQTT: mqttclient.Config{
			BrokerURL:       bridgeCfg.MQTT.BrokerURL,
			ClientID:        bridgeCfg.MQTT.ClientID,
			Username:        bridgeCfg.MQTT.Username,
			Password:        bridgeCfg.MQTT.Password,
			ReconnectPeriod: bridgeCfg.MQTT.ReconnectPeriod,
		},
		TopicPrefix: bridgeCfg.MQTT.TopicPrefix,
		Logger:      logger,
		Breakers:    resilience.NewManager(resilience.DefaultBreakerConfig(), logger),
		Metrics:     metricsCollector,
	})

	for _, dc := range deviceConfigs {
		if _, err := br.AddDevice(dc); err != nil {
			logger.Error("failed to add device", zap.String("device_id", dc.DeviceID), zap.Error(err))
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal, shutting down gracefully")
		cancel()
	}()

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	if err := br.Start(ctx); err != nil {
		logger.Error("bridge startup failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("bridge running", zap.Int("device_count", len(deviceConfigs)))

	<-ctx.Done()
	br.Stop()
	logger.Info("bridge shutdown complete")

	if *stateDir != "" {
		logger.Debug("state-dir provided but persistence schema is not implemented", zap.String("state_dir", *stateDir))
	}
}
