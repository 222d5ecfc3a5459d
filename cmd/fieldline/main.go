// Fieldline Core - industrial edge gateway.
//
// Fieldline bridges field devices (Modbus, CoAP, OPC-UA) onto an
// internal event bus, evaluates user-defined rules against the point
// stream, and fans the results out to storage, MQTT, HTTP, live
// dashboard, and device write-back sinks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/fieldline-io/fieldline-core/migrations"

	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/databoard"
	"github.com/fieldline-io/fieldline-core/internal/device"
	"github.com/fieldline-io/fieldline-core/internal/infrastructure/config"
	"github.com/fieldline-io/fieldline-core/internal/infrastructure/database"
	"github.com/fieldline-io/fieldline-core/internal/infrastructure/influxdb"
	"github.com/fieldline-io/fieldline-core/internal/infrastructure/logging"
	"github.com/fieldline-io/fieldline-core/internal/infrastructure/mqtt"
	"github.com/fieldline-io/fieldline-core/internal/poll"
	"github.com/fieldline-io/fieldline-core/internal/rule"
	"github.com/fieldline-io/fieldline-core/internal/sink"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error lets main handle exit codes
// consistently.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Fieldline Core",
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
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	// Open database and apply migrations
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Event bus
	eventBus := bus.New(log)

	// Optional sink backends
	var influxClient *influxdb.Client
	if cfg.Sinks.Storage.Enabled {
		influxClient, err = influxdb.Connect(cfg.Sinks.Storage)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.Sinks.Storage.URL, "bucket", cfg.Sinks.Storage.Bucket)
	} else {
		log.Info("storage sink disabled")
	}

	var mqttClient *mqtt.Client
	if cfg.Sinks.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.Sinks.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Sinks.MQTT.Broker.Host, cfg.Sinks.MQTT.Broker.Port),
			"client_id", cfg.Sinks.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT sink disabled")
	}

	// Device manager
	deviceRepo := device.NewSQLiteRepository(db.DB)
	manager := device.NewManager(deviceRepo, eventBus, device.DefaultFactory, log, device.Options{
		DefaultPollInterval: cfg.GetDefaultPollInterval(),
	})
	if mqttClient != nil {
		// Retained status topics let external consumers learn device
		// lifecycle state without replaying the event stream.
		manager.SetOnStateChange(func(deviceID string, state device.State) {
			topic := mqttClient.Topics().DeviceStatus(deviceID)
			if pubErr := mqttClient.PublishRetained(topic, []byte(state)); pubErr != nil {
				log.Warn("publishing device status", "device", deviceID, "error", pubErr)
			}
		})
	}
	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device manager: %w", startErr)
	}
	log.Info("device manager started", "devices", len(manager.List(ctx)))

	// Poll scheduler
	scheduler := poll.New(devicePoller{manager}, log, poll.Options{
		JitterPercent:    cfg.Poll.JitterPercent,
		FailureThreshold: cfg.Poll.FailureThreshold,
	})
	scheduler.SetOnEscalate(func(deviceID string, failures int) {
		reason := fmt.Sprintf("%d consecutive poll failures", failures)
		if escErr := manager.Escalate(deviceID, reason); escErr != nil {
			log.Warn("device escalation failed", "device", deviceID, "error", escErr)
		}
		if influxClient != nil {
			influxClient.WriteGatewayMetric("poll_escalations", float64(failures))
		}
	})
	scheduler.Start()

	// Live dashboard feed
	var (
		hub             *databoard.Hub
		databoardServer *databoard.Server
		databoardErrs   <-chan error
	)
	if cfg.Sinks.Databoard.Enabled {
		hub = databoard.NewHub(log)
		databoardServer = databoard.NewServer(cfg.Sinks.Databoard, hub, log)
		databoardErrs = databoardServer.Start()

		// Raw live view: every event reaches connected dashboards,
		// independent of rule routing. Slow consumers lose oldest.
		liveSub, subErr := eventBus.Subscribe("*", bus.DropOldest, cfg.Bus.LiveQueueSize, 0)
		if subErr != nil {
			return fmt.Errorf("subscribing databoard live feed: %w", subErr)
		}
		go hub.Feed(liveSub)
	} else {
		log.Info("databoard disabled")
	}

	// Sink dispatcher
	dispatcher := sink.NewDispatcher(log, sink.Options{
		MaxAttempts:  cfg.Sinks.Retry.MaxAttempts,
		InitialDelay: time.Duration(cfg.Sinks.Retry.InitialDelay) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Sinks.Retry.MaxDelay) * time.Millisecond,
	})
	if influxClient != nil {
		dispatcher.Register(sink.NewStorageSink(influxClient))
	}
	if mqttClient != nil {
		dispatcher.Register(sink.NewMQTTSink(mqttClient, byte(cfg.Sinks.MQTT.QoS)))
	}
	if cfg.Sinks.HTTP.Enabled {
		dispatcher.Register(sink.NewHTTPSink(cfg.Sinks.HTTP.URL,
			time.Duration(cfg.Sinks.HTTP.Timeout)*time.Second))
	}
	if hub != nil {
		dispatcher.Register(sink.NewDataboardSink(hub))
	}
	dispatcher.Register(sink.NewDeviceWriteSink(manager))
	dispatcher.Start()

	// Rule engine
	ruleRepo := rule.NewSQLiteRepository(db.DB)
	engine := rule.NewEngine(ruleRepo, eventBus, dispatcher, log, rule.Options{
		Workers:       cfg.Rules.Workers,
		QueueSize:     cfg.Bus.RuleQueueSize,
		BlockTimeout:  cfg.GetRuleBlockTimeout(),
		ScriptTimeout: cfg.GetScriptTimeout(),
		HopLimit:      cfg.Rules.HopLimit,
	})
	if startErr := engine.Start(ctx); startErr != nil {
		return fmt.Errorf("starting rule engine: %w", startErr)
	}

	if hcErr := healthCheck(ctx, db, mqttClient, influxClient); hcErr != nil {
		return fmt.Errorf("startup health check: %w", hcErr)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr := <-databoardErrs:
		if serveErr != nil {
			log.Error("databoard server failed", "error", serveErr)
		}
	}

	// Ordered shutdown: stop producing first, then drain queued events
	// through the engine and sinks, then tear the consumers down.
	scheduler.Stop()
	manager.Stop()

	if !eventBus.Drain(time.Now().Add(cfg.GetDrainTimeout())) {
		log.Warn("event bus drain deadline hit, discarding queued events")
	}

	engine.Stop()
	dispatcher.Stop()
	eventBus.Close()

	if databoardServer != nil {
		if stopErr := databoardServer.Stop(); stopErr != nil {
			log.Error("error stopping databoard", "error", stopErr)
		}
	}

	log.Info("Fieldline Core stopped")
	return nil
}

// devicePoller bridges the device manager into the scheduler's Poller
// contract.
type devicePoller struct {
	m *device.Manager
}

func (p devicePoller) PollTargets() []poll.Target {
	targets := p.m.PollTargets()
	out := make([]poll.Target, len(targets))
	for i, t := range targets {
		out[i] = poll.Target{DeviceID: t.DeviceID, Interval: t.Interval}
	}
	return out
}

func (p devicePoller) Poll(ctx context.Context, deviceID string) error {
	return p.m.Poll(ctx, deviceID)
}

// healthCheck verifies all connected backends are reachable before the
// gateway reports itself ready. Disabled sinks are nil and skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// getConfigPath returns the configuration file path. Uses the
// FIELDLINE_CONFIG environment variable if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("FIELDLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
