// Gray Logic Fluent - rule engine for building automation items.
//
// The daemon keeps the item registry (SQLite), exchanges item commands and
// states with protocol bridges over MQTT, records state history in InfluxDB,
// compiles the declarative rules file through the fluent rule builder and
// serves the REST/WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-fluent/internal/api"
	"github.com/nerrad567/gray-logic-fluent/internal/fluent"
	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/rulefile"
	"github.com/nerrad567/gray-logic-fluent/internal/rules"
	"github.com/nerrad567/gray-logic-fluent/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds how long running rule executions may take to drain.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context) error { //nolint:gocognit,funlen // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic Fluent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	location, err := time.LoadLocation(cfg.Site.Timezone)
	if err != nil {
		return fmt.Errorf("loading site timezone %q: %w", cfg.Site.Timezone, err)
	}

	db, err := database.Open(ctx, cfg.Database)
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

	registry := items.NewRegistry(items.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Named("items"))
	registry.SetAutoupdate(cfg.Items.Autoupdate)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading item registry: %w", refreshErr)
	}
	log.Info("item registry initialised", "items", registry.GetItemCount())

	health := map[string]api.HealthChecker{"database": db}

	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Named("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		registry.SetPublisher(mqttClient)
		topic := mqtt.Topics{}.AllBridgeStates()
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), registry.BridgeStateHandler(ctx)); subErr != nil {
			return fmt.Errorf("subscribing to bridge states: %w", subErr)
		}
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"bridge_topic", topic,
		)
	} else {
		log.Info("MQTT disabled; commands stay local")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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
		registry.SetHistory(influxClient)
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled; rule switches are not restored from history")
	}

	engine := rules.NewEngine(registry,
		rules.WithLocation(location),
		rules.WithToggleGroup(cfg.Rules.ToggleGroup),
	)
	engine.SetLogger(log.Named("rules"))
	engine.Attach(registry)
	engine.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := engine.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping rule engine", "error", stopErr)
		}
	}()

	dsl := fluent.NewDSL(registry, engine)
	dsl.SetLogger(log.Named("fluent"))
	// Runs before the engine stops, so no debounce timer fires into a
	// registry that is shutting down.
	defer dsl.Close()

	if cfg.Rules.File != "" {
		if loadErr := loadRules(ctx, cfg.Rules.File, registry, dsl, log); loadErr != nil {
			return loadErr
		}
	}

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Named("api"),
		Items:   registry,
		Rules:   engine,
		Health:  health,
		Version: version,
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

	log.Info("Gray Logic Fluent started", "rules", len(engine.List()), "api", server.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// loadRules provisions the items declared in the rules file and compiles
// its rules.
func loadRules(ctx context.Context, path string, registry *items.Registry, dsl *fluent.DSL, log *logging.Logger) error {
	file, err := rulefile.Load(path)
	if err != nil {
		return fmt.Errorf("loading rules file: %w", err)
	}
	if err := rulefile.ProvisionItems(ctx, registry, file); err != nil {
		return err
	}
	registered, err := rulefile.Apply(ctx, dsl, file)
	if err != nil {
		return fmt.Errorf("applying rules file: %w", err)
	}
	log.Info("rules file applied", "path", path, "items", len(file.Items), "rules", len(registered))
	return nil
}

// getConfigPath returns GRAYLOGIC_CONFIG, or the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
