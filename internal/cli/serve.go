package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-cast/internal/api"
	"github.com/nerrad567/gray-logic-cast/internal/audit"
	"github.com/nerrad567/gray-logic-cast/internal/bridges/cast"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cast/internal/mdns"
	"github.com/nerrad567/gray-logic-cast/migrations"
)

// bridgeStopTimeout bounds session teardown on shutdown.
const bridgeStopTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serve wires every component and blocks until ctx is cancelled.
// Deferred teardown runs in reverse order of construction.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, Version)
	log.Info("starting cast bridge",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"bridge_id", cfg.Bridge.ID,
	)

	// Open database
	db, err := database.Open(cfg.Database)
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

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditRecorder := audit.NewRecorder(auditRepo, log.Component("audit"))
	defer func() {
		auditRecorder.Close()
		if dropped := auditRecorder.Dropped(); dropped > 0 {
			log.Warn("instruction log entries dropped", "count", dropped)
		}
	}()

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	sinks := []cast.EventSink{}
	recorders := []cast.Recorder{auditRecorder}

	// Connect to InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks = append(sinks, cast.TelemetrySink{Writer: influxClient})
		recorders = append(recorders, cast.TelemetryRecorder{Writer: influxClient})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var (
		hub   *api.Hub
		store *api.DeviceStore
	)
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		store = api.NewDeviceStore(hub)
		sinks = append(sinks, store)
	}

	browser, err := mdns.NewBrowser(mdns.Config{
		Service:     cfg.Discovery.Service,
		Domain:      cfg.Discovery.Domain,
		Interval:    cfg.BrowseInterval(),
		Window:      cfg.BrowseWindow(),
		ExpireAfter: cfg.ExpireAfter(),
		Logger:      log.Component("mdns"),
	}, nil)
	if err != nil {
		return fmt.Errorf("creating mDNS browser: %w", err)
	}

	bridge, err := cast.NewBridge(cast.BridgeOptions{
		Config:     cfg,
		MQTTClient: mqttClient,
		Browser:    browser,
		Version:    Version,
		Sinks:      sinks,
		Recorders:  recorders,
		Logger:     log.Component("cast"),
	})
	if err != nil {
		return fmt.Errorf("creating cast bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting cast bridge: %w", err)
	}
	defer func() {
		log.Info("stopping cast bridge")
		stopCtx, cancel := context.WithTimeout(context.Background(), bridgeStopTimeout)
		defer cancel()
		bridge.Stop(stopCtx)
	}()
	log.Info("cast bridge started", "service", cfg.Discovery.Service)

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:             cfg.API,
			WS:                 cfg.WebSocket,
			Security:           cfg.Security,
			Logger:             log.Component("api"),
			Store:              store,
			Router:             bridge.Router(),
			Audit:              auditRepo,
			Health:             bridge.Health(),
			Hub:                hub,
			InstructionTimeout: cfg.CommandTimeout() + time.Second,
			Version:            Version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("API authentication disabled: security.jwt.secret is empty")
		}
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
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
