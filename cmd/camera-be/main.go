// camera-be is the para-virtualized camera backend.
//
// It shares host V4L2 capture devices with guest frontends: each frontend
// connects over the configured transport, names a camera by its unique id
// and drives it through the camera protocol. Frontends bound to the same
// camera share one open device and its buffers.
//
// Optional companions are the camera inventory (SQLite, kept current by
// device discovery), MQTT status and control overrides, InfluxDB metrics
// and an HTTP management API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/andr2000/camera-be/internal/api"
	"github.com/andr2000/camera-be/internal/auth"
	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/frontend"
	"github.com/andr2000/camera-be/internal/infrastructure/config"
	"github.com/andr2000/camera-be/internal/infrastructure/database"
	"github.com/andr2000/camera-be/internal/infrastructure/influxdb"
	"github.com/andr2000/camera-be/internal/infrastructure/logging"
	"github.com/andr2000/camera-be/internal/infrastructure/mqtt"
	"github.com/andr2000/camera-be/internal/inventory"
	"github.com/andr2000/camera-be/internal/telemetry"
	"github.com/andr2000/camera-be/internal/transport"
	"github.com/andr2000/camera-be/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "/etc/camera-be/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown and the capture failure when a
// device stopped streaming irrecoverably.
func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("camera-be", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config.yaml (env CAMBE_CONFIG)")
	showVersion := flags.Bool("version", false, "print version and exit")
	tokenSubject := flags.String("issue-token", "", "print an API token for `subject` granting control writes and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("camera-be %s (%s, %s)\n", version, commit, date)
		return nil
	}
	if *tokenSubject != "" {
		cfg, err := loadConfig(getConfigPath(*configPath))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		token, err := issueToken(cfg, *tokenSubject)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting camera backend",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	path := getConfigPath(*configPath)
	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", path,
		"backend", cfg.Backend.ID,
		"level", cfg.Logging.Level,
	)

	ctx, fail := context.WithCancelCause(ctx)
	defer fail(nil)

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

	repo := inventory.NewSQLiteRepository(db.DB)

	registry, err := newRegistry(cfg, repo, log, fail)
	if err != nil {
		return err
	}

	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	hub := frontend.NewHub(log.Component("frontend"))
	telemetryOpts := telemetry.Options{
		Backend: cfg.Backend.ID,
		Sources: telemetry.Sources{Registry: registry, Groups: hub},
		Logger:  log.Component("telemetry"),
	}
	if mqttClient != nil {
		telemetryOpts.Publisher = mqttClient
	}
	if influxClient != nil {
		telemetryOpts.Metrics = influxClient
	}
	reporter := telemetry.New(telemetryOpts)

	manager, err := frontend.NewManager(frontend.ManagerOptions{
		Registry:        registry,
		Hub:             hub,
		DefaultControls: cfg.Backend.Controls,
		CameraControls:  cfg.CameraControls(),
		Telemetry:       reporter,
		Logger:          log.Component("frontend"),
	})
	if err != nil {
		return fmt.Errorf("creating frontend manager: %w", err)
	}
	reporter.SetSessions(manager)

	if mqttClient != nil {
		if subErr := telemetry.SubscribeOverrides(mqttClient, manager, log.Component("telemetry")); subErr != nil {
			log.Warn("control overrides unavailable", "error", subErr)
		}
	}

	ln, err := transport.Listen(ctx, cfg.Backend.Listen)
	if err != nil {
		return fmt.Errorf("listening for frontends: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Serve(gctx, ln)
	})

	if cfg.Discovery.Enabled {
		discovery := inventory.NewDiscovery(&inventory.Scanner{
			DevDir:  cfg.Discovery.DevDir,
			ByIDDir: cfg.Discovery.ByIDDir,
			Logger:  log.Component("inventory"),
		}, repo, log.Component("inventory"))
		g.Go(func() error {
			return discovery.Run(gctx, cfg.GetDiscoveryInterval())
		})
	}

	g.Go(func() error {
		return reporter.Run(gctx, cfg.GetTelemetryInterval())
	})

	if cfg.API.Enabled {
		srv, apiErr := newAPIServer(cfg, log, registry, repo, manager, db, mqttClient, influxClient)
		if apiErr != nil {
			return apiErr
		}
		if startErr := srv.Start(gctx); startErr != nil {
			fail(nil)
			_ = g.Wait()
			return fmt.Errorf("starting API server: %w", startErr)
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"listen", cfg.Backend.Listen,
	)

	err = g.Wait()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		log.Error("camera backend stopped", "error", cause)
		return cause
	}
	if err != nil {
		return err
	}
	log.Info("camera backend stopped")
	return nil
}

func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv("CAMBE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads path, falling back to built-in defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default()
		}
	}
	return config.Load(path)
}

// newRegistry builds the device registry. A device whose capture fails
// irrecoverably cancels the whole backend through fail.
func newRegistry(cfg *config.Config, repo inventory.Repository, log *logging.Logger, fail context.CancelCauseFunc) (*camera.Registry, error) {
	memory, err := camera.ParseMemory(cfg.Backend.Memory)
	if err != nil {
		return nil, fmt.Errorf("backend memory: %w", err)
	}

	overrides := make(map[string]camera.Memory)
	for id, cam := range cfg.Cameras {
		if cam.Memory == "" {
			continue
		}
		m, err := camera.ParseMemory(cam.Memory)
		if err != nil {
			return nil, fmt.Errorf("camera %s memory: %w", id, err)
		}
		overrides[id] = m
	}

	camLog := log.Component("camera")
	return camera.NewRegistry(camera.RegistryOptions{
		Resolver: inventory.NewResolver(cfg.CameraPaths(), repo, camera.DevResolver{
			DevDir:  cfg.Discovery.DevDir,
			ByIDDir: cfg.Discovery.ByIDDir,
		}),
		Memory:          memory,
		MemoryOverrides: overrides,
		Device: camera.Options{
			Logger: camLog,
			OnFatal: func(err error) {
				camLog.Error("capture failed, shutting down", "error", err)
				fail(fmt.Errorf("capture: %w", err))
			},
		},
	}), nil
}

func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT, cfg.Backend.ID)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"status_topic", client.Topics().Status(),
	)
	return client, nil
}

func connectInfluxDB(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

func newAPIServer(
	cfg *config.Config,
	log *logging.Logger,
	registry *camera.Registry,
	repo inventory.Repository,
	manager *frontend.Manager,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
) (*api.Server, error) {
	checks := map[string]api.HealthChecker{"database": db}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		Logger:    log.Component("api"),
		Registry:  registry,
		Inventory: repo,
		Frontends: manager,
		Groups:    manager.Hub(),
		DB:        db,
		Checks:    checks,
		Version:   version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	return srv, nil
}

// issueToken signs an API token granting control writes, using the
// configured secret and lifetime.
func issueToken(cfg *config.Config, subject string) (string, error) {
	token, err := auth.GenerateToken(subject, []string{auth.ScopeControlWrite}, cfg.API.JWT.Secret, cfg.GetTokenTTL())
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return token, nil
}
