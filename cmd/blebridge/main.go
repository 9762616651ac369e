// BLE Plugin Bridge
//
// Bridges RV accessory devices (BLE and REST) to MQTT with Home
// Assistant auto-discovery. Device protocols live in plugins under
// internal/plugins; this binary wires configuration, infrastructure,
// and the plugin registry together.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/phurth/ble-plugin-bridge/migrations"

	"github.com/phurth/ble-plugin-bridge/internal/ble"
	"github.com/phurth/ble-plugin-bridge/internal/bridge"
	"github.com/phurth/ble-plugin-bridge/internal/bridge/discovery"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/config"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/database"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/influxdb"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/logging"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/mqtt"
	"github.com/phurth/ble-plugin-bridge/internal/plugins/easytouch"
	"github.com/phurth/ble-plugin-bridge/internal/plugins/hughes"
	"github.com/phurth/ble-plugin-bridge/internal/plugins/mopeka"
	"github.com/phurth/ble-plugin-bridge/internal/plugins/onecontrol"
	"github.com/phurth/ble-plugin-bridge/internal/plugins/peplink"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting BLE plugin bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (hardware topology cache)
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker. The LWT and the retained online/offline
	// payloads on {prefix}/availability are handled by the client.
	topics := mqtt.NewTopics(cfg.Bridge.TopicPrefix)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional telemetry mirror)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the publishing sink drivers write through
	sinkOpts := bridge.MQTTSinkOptions{
		Publisher:        mqttClient,
		Topics:           topics,
		QoS:              byte(cfg.MQTT.QoS),
		DiscoveryEnabled: cfg.Bridge.DiscoveryEnabled,
		Logger:           log,
	}
	if influxClient != nil {
		sinkOpts.Telemetry = influxClient
	}
	sink, err := bridge.NewMQTTSink(sinkOpts)
	if err != nil {
		return fmt.Errorf("creating MQTT sink: %w", err)
	}

	// Register plugin factories
	registry := bridge.NewRegistry(topics)
	registry.SetLogger(log)
	easytouch.Register(registry)
	hughes.Register(registry)
	mopeka.Register(registry)
	onecontrol.Register(registry)
	peplink.Register(registry)
	log.Info("plugins registered", "types", registry.PluginTypes())

	// The BLE radio is only brought up when a configured instance needs
	// it, so network-only deployments run without BlueZ.
	var adapter ble.Adapter
	if needsBLE(cfg.Instances) {
		hostAdapter, adapterErr := ble.NewHostAdapter(log)
		if adapterErr != nil {
			return fmt.Errorf("enabling BLE adapter: %w", adapterErr)
		}
		adapter = hostAdapter
		log.Info("BLE adapter enabled")
	}

	deps := bridge.Deps{
		Adapter:   adapter,
		Sink:      sink,
		Discovery: discovery.NewBuilder(cfg.Bridge.DiscoveryPrefix, topics, version),
		Hardware:  db,
		Logger:    log,
	}

	// Instantiate configured device instances. A misconfigured instance
	// is reported and skipped; the rest still come up.
	for _, instCfg := range cfg.Instances {
		if !instCfg.Enabled {
			log.Info("instance disabled, skipping", "plugin", instCfg.PluginType, "name", instCfg.DisplayName)
			continue
		}
		if _, instErr := registry.Instantiate(instCfg, deps); instErr != nil {
			log.Error("instance failed to initialise",
				"plugin", instCfg.PluginType,
				"name", instCfg.DisplayName,
				"error", instErr,
			)
		}
	}
	if registry.InstanceCount() == 0 {
		log.Warn("no device instances configured")
	}

	if startErr := registry.StartAll(ctx); startErr != nil {
		registry.StopAll()
		return fmt.Errorf("starting instances: %w", startErr)
	}
	defer func() {
		log.Info("stopping device instances")
		registry.StopAll()
	}()

	// Route inbound commands to the owning instance
	commandFilter := topics.AllCommands()
	err = mqttClient.Subscribe(commandFilter, byte(cfg.MQTT.QoS), func(topic string, payload []byte) error {
		if routeErr := registry.RouteCommand(ctx, topic, payload); routeErr != nil {
			if errors.Is(routeErr, bridge.ErrNoMatchingInstance) {
				log.Debug("command for unknown device", "topic", topic)
				return nil
			}
			return routeErr
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	log.Info("command routing active", "filter", commandFilter)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"instances", registry.InstanceCount(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Stop device instances (drivers publish offline availability)
	// 2. InfluxDB (if enabled)
	// 3. MQTT (publishes retained bridge offline)
	// 4. Database

	log.Info("BLE plugin bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BLEBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BLEBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// needsBLE reports whether any enabled instance targets a BLE
// peripheral. MAC-addressed instances need the radio; host-addressed
// ones (REST plugins) do not.
func needsBLE(instances []config.InstanceConfig) bool {
	for _, inst := range instances {
		if inst.Enabled && inst.MAC != "" {
			return true
		}
	}
	return false
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
