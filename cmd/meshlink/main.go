// meshlink - MeshCore companion radio relay
//
// This is the main entry point for meshlink. It connects to a MeshCore
// companion radio over serial or TCP, stores every message heard or sent in
// SQLite, and exposes the history over HTTP, Server-Sent Events, WebSocket
// and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshlink/internal/api"
	"github.com/nerrad567/meshlink/internal/infrastructure/config"
	"github.com/nerrad567/meshlink/internal/infrastructure/database"
	"github.com/nerrad567/meshlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshlink/internal/infrastructure/logging"
	"github.com/nerrad567/meshlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshlink/internal/meshcore"
	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/metrics"
	"github.com/nerrad567/meshlink/internal/relay"
	"github.com/nerrad567/meshlink/migrations"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Linear startup sequence
	log := logging.Default()
	log.Info("starting meshlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(getConfigPath(), log)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
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
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	store := message.NewSQLiteStore(db.DB)

	// MQTT (optional)
	mqttClient := connectMQTT(cfg.MQTT, log)
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	// InfluxDB (optional)
	influxClient := connectInfluxDB(cfg.InfluxDB, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Relay
	svc, err := relay.NewService(relay.ServiceOptions{
		Config: relayConfig(cfg),
		Driver: meshcore.NewDriver(driverOptions(cfg.Device, log.Component("meshcore"))),
		Logger: log.Component("relay"),
	})
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	log.Info("connecting to radio", "port", cfg.Device.Port)
	if startErr := svc.Start(); startErr != nil {
		return fmt.Errorf("starting relay: %w", startErr)
	}
	defer func() {
		log.Info("stopping relay")
		if stopErr := svc.Stop(); stopErr != nil {
			log.Error("error stopping relay", "error", stopErr)
		}
	}()
	if nodeID, idErr := svc.GetNodeID(); idErr == nil {
		log.Info("radio connected", "node_id", nodeID)
	}

	// Fan-out
	recorder := message.NewRecorder(store, nil)
	recorder.SetLogger(log.Component("recorder"))

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)
	recorder.AddSink("websocket", hub)

	collector := metrics.New(svc, version)
	recorder.AddSink("prometheus", collector)

	if mqttClient != nil {
		recorder.AddSink("mqtt", message.NewMQTTSink(mqttClient))
	}
	if influxClient != nil {
		recorder.AddSink("influxdb", message.NewInfluxSink(influxClient))
	}

	consumer := message.NewConsumer(message.ConsumerConfig{
		Source:   svc,
		Recorder: recorder,
		Interval: cfg.Relay.PollInterval,
	})
	consumer.SetLogger(log.Component("consumer"))
	consumer.Start(ctx)
	defer func() {
		log.Info("stopping message consumer")
		consumer.Stop()
		recorded, failed := consumer.Stats()
		log.Info("message consumer stopped", "recorded", recorded, "failed", failed)
	}()

	// MQTT command bridge and health
	if mqttClient != nil {
		bridge := message.NewCommandBridge(message.CommandBridgeConfig{
			Sender:    svc,
			Recorder:  recorder,
			Publisher: mqttClient,
		})
		bridge.SetLogger(log.Component("command"))
		// #nosec G115 -- QoS validated to 0-2
		if subErr := mqttClient.Subscribe(mqtt.Topics{}.CommandSend(), byte(cfg.MQTT.QoS), bridge.HandleSend); subErr != nil {
			log.Warn("MQTT send commands unavailable", "error", subErr)
		}

		health := relay.NewHealthReporter(relay.HealthReporterConfig{
			Topic:     mqtt.Topics{}.Health(),
			Version:   version,
			Interval:  cfg.Relay.HealthInterval,
			Publisher: mqttClient,
			Source:    svc,
		})
		health.SetLogger(log.Component("health"))
		health.Start(ctx)
		defer health.Stop()
	}

	if influxClient != nil {
		go reportRelayStatus(ctx, svc, influxClient, clock.New(), cfg.Relay.HealthInterval)
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Relay:    svc,
		Messages: store.Messages,
		Contacts: store.Contacts,
		Recorder: recorder,
		Metrics:  collector.Handler(),
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, health, consumer (final
	// drain), hub, relay, InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MESHLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MESHLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads path, falling back to defaults and environment
// variables when the file does not exist.
func loadConfig(path string, log *logging.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("config file not found, using defaults", "path", path)
		if cfg, err = config.Default(); err != nil {
			return nil, fmt.Errorf("loading default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)
	return cfg, nil
}

// relayConfig converts the relay and device sections into relay.Config.
func relayConfig(cfg *config.Config) relay.Config {
	r := cfg.Relay
	return relay.Config{
		Port:             cfg.Device.Port,
		Baudrate:         cfg.Device.Baudrate,
		CreateAttempts:   r.CreateAttempts,
		CreateDelay:      r.CreateDelay,
		StabilizeDelay:   r.StabilizeDelay,
		InitAttempts:     r.InitAttempts,
		InitDelay:        r.InitDelay,
		NotReadyDelay:    r.NotReadyDelay,
		ErrorPollTimeout: r.ErrorPollTimeout,
		SelfInfoTimeout:  r.SelfInfoTimeout,
		StartTimeout:     r.Timeouts.Start,
		SendTimeout:      r.Timeouts.Send,
		IdentityTimeout:  r.Timeouts.Identity,
		CleanupTimeout:   r.Timeouts.Cleanup,
		JoinTimeout:      r.Timeouts.Join,
		Reconnect: relay.ReconnectConfig{
			Enabled:      r.Reconnect.Enabled,
			MaxAttempts:  r.Reconnect.MaxAttempts,
			InitialDelay: r.Reconnect.InitialDelay,
			MaxDelay:     r.Reconnect.MaxDelay,
		},
	}
}

// driverOptions converts the device section into meshcore driver options.
func driverOptions(dev config.DeviceConfig, log relay.Logger) meshcore.DriverOptions {
	return meshcore.DriverOptions{
		AppName:         dev.AppName,
		ResponseTimeout: dev.ResponseTimeout,
		FetchInterval:   dev.FetchInterval,
		ContactsTTL:     dev.ContactsTTL,
		Logger:          log,
	}
}

// connectMQTT connects to the broker when enabled. Failures are logged and
// meshlink continues without MQTT.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) *mqtt.Client {
	if !cfg.Enabled {
		log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without it", "error", err)
		return nil
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client
}

// connectInfluxDB connects when enabled. Failures are logged and meshlink
// continues without metrics export.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		return nil
	case err != nil:
		log.Warn("InfluxDB unavailable, continuing without it", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client
}

// relayStatusWriter is implemented by *influxdb.Client.
type relayStatusWriter interface {
	WriteRelayStatus(port, phase string, connected bool, queued int)
}

// reportRelayStatus writes a relay status point every interval until ctx
// is cancelled.
func reportRelayStatus(ctx context.Context, src relay.StatusSource, w relayStatusWriter, clk clock.Clock, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := src.GetStatus()
			w.WriteRelayStatus(st.Port, st.Phase.String(), st.Connected, st.QueuedCount)
		}
	}
}
