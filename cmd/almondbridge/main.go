// Almond Bridge - exposes Securifi Almond hub switches to HomeKit.
//
// The daemon connects to the hub's local websocket API, mirrors every
// binary switch as a HomeKit accessory and relays state both ways. An
// optional MQTT relay, InfluxDB history and an admin HTTP API sit beside
// the bridge.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/nerrad567/almond-bridge/migrations"

	"github.com/nerrad567/almond-bridge/internal/accessory"
	"github.com/nerrad567/almond-bridge/internal/almond"
	"github.com/nerrad567/almond-bridge/internal/api"
	"github.com/nerrad567/almond-bridge/internal/audit"
	"github.com/nerrad567/almond-bridge/internal/auth"
	"github.com/nerrad567/almond-bridge/internal/homekit"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/config"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/database"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/almond-bridge/internal/platform"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "ALMONDBRIDGE_CONFIG"

	// startupCheckTimeout bounds the infrastructure health check.
	startupCheckTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fs := flag.NewFlagSet("almondbridge", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to the configuration file (default "+defaultConfigPath+")")
	hashFlag := fs.Bool("hash-password", false, "read a password from stdin and print its Argon2id hash")
	_ = fs.Parse(os.Args[1:]) //nolint:errcheck // ExitOnError

	var err error
	if *hashFlag {
		err = hashPassword(os.Stdin, os.Stdout)
	} else {
		err = run(ctx, getConfigPath(*configFlag))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Almond Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	registry := accessory.NewRegistry(accessory.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading accessory registry: %w", refreshErr)
	}
	log.Info("accessory registry initialised", "accessories", registry.Count())

	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Optional backends stay nil interfaces when disabled.
	var (
		mqttClient *mqtt.Client
		publisher  platform.MQTTClient
		mqttStatus api.MQTTStatus
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		publisher = mqttClient
		mqttStatus = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var (
		influxClient *influxdb.Client
		metrics      platform.MetricsWriter
	)
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
		metrics = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	checkCtx, cancelCheck := context.WithTimeout(ctx, startupCheckTimeout)
	err = healthCheck(checkCtx, db, mqttClient, influxClient)
	cancelCheck()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	hub := almond.New(hubConfig(cfg))
	hub.SetLogger(log.With("component", "almond"))

	host, err := homekit.NewHost(homekit.Config{
		Name:         cfg.HomeKit.Name,
		Pin:          cfg.HomeKit.Pin,
		Address:      cfg.HomeKit.Address,
		StoragePath:  cfg.HomeKit.StoragePath,
		Manufacturer: cfg.HomeKit.Manufacturer,
		Model:        cfg.HomeKit.Model,
		SerialNumber: cfg.HomeKit.SerialNumber,
		Firmware:     version,
		ReloadDelay:  cfg.GetReloadDelay(),
	})
	if err != nil {
		return fmt.Errorf("creating homekit host: %w", err)
	}
	host.SetLogger(log.With("component", "homekit"))

	var (
		wsHub       *api.Hub
		broadcaster platform.Broadcaster
	)
	if cfg.API.Enabled {
		wsHub = api.NewHub(cfg.WebSocket, log)
		broadcaster = wsHub
	}

	controller, err := platform.NewController(platform.ControllerOptions{
		Host:        platform.HomeKitHost{Host: host},
		Hub:         hub,
		Store:       registry,
		Logger:      log.With("component", "platform"),
		Version:     version,
		MQTT:        publisher,
		Metrics:     metrics,
		Auditor:     auditRepo,
		Broadcaster: broadcaster,
	})
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}
	if startErr := controller.Start(ctx); startErr != nil {
		return fmt.Errorf("starting controller: %w", startErr)
	}
	defer controller.Stop()
	log.Info("controller started", "accessories", len(controller.Accessories()))

	sup := newSupervisor(log)
	sup.Add(hubService(hub, log))
	sup.Add(service{name: "homekit", run: host.Run})

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Security:    cfg.Security,
			Logger:      log,
			Controller:  controller,
			Hub:         hub,
			Version:     version,
			Registry:    registry,
			AuditRepo:   auditRepo,
			MQTT:        mqttStatus,
			ExternalHub: wsHub,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		sup.Add(service{name: "websocket", run: func(ctx context.Context) error {
			wsHub.Run(ctx)
			return nil
		}})
		sup.Add(service{name: "api", run: server.Serve})
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	supErr := sup.Serve(ctx)

	if ctx.Err() == nil {
		// The tree stopped on its own, which only happens when the hub
		// gave up reconnecting.
		return fmt.Errorf("supervisor stopped: %w", supErr)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: controller (publishes
	// "stopping"), InfluxDB, MQTT, database.

	log.Info("Almond Bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path. The -config flag wins
// over ALMONDBRIDGE_CONFIG, which wins over the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// hubConfig converts the almond config section to client settings.
func hubConfig(cfg *config.Config) almond.Config {
	return almond.Config{
		URL:                  cfg.HubURL(),
		ConnectTimeout:       time.Duration(cfg.Almond.ConnectTimeout) * time.Second,
		RequestTimeout:       time.Duration(cfg.Almond.RequestTimeout) * time.Second,
		ReconnectInterval:    time.Duration(cfg.Almond.Reconnect.InitialDelay) * time.Second,
		MaxReconnectInterval: time.Duration(cfg.Almond.Reconnect.MaxDelay) * time.Second,
		MaxReconnectAttempts: cfg.Almond.Reconnect.MaxAttempts,
	}
}

// healthCheck verifies infrastructure connections. mqttClient and
// influxClient may be nil when disabled.
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

	// The hub is not checked here: it is allowed to be offline at startup
	// and the client keeps retrying under the supervisor.
	return nil
}

// hashPassword reads one line from r and writes its PHC hash to w, for
// filling in security.admin.password_hash.
func hashPassword(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password is empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
