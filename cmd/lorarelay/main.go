// LoRa Relay - store-and-forward mesh relay for ChirpStack gateways
//
// This is the main entry point for the relay daemon. The relay listens to
// gateway uplinks over MQTT, decides which frames to forward, and floods
// them back out through every known gateway:
//   - Relay frames are forwarded unchanged to extend range
//   - Bundles are reassembled from fragments and re-split for the next hop
//   - Announcements advertise reachable end devices within a hop limit
//
// The management API (REST and WebSocket) and the traffic journal are
// optional surfaces around that core loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/lora-relay/migrations"

	"github.com/nerrad567/lora-relay/internal/api"
	"github.com/nerrad567/lora-relay/internal/bridges/chirpstack"
	"github.com/nerrad567/lora-relay/internal/bundle"
	"github.com/nerrad567/lora-relay/internal/cache"
	"github.com/nerrad567/lora-relay/internal/dispatch"
	"github.com/nerrad567/lora-relay/internal/enddevice"
	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/infrastructure/config"
	"github.com/nerrad567/lora-relay/internal/infrastructure/database"
	"github.com/nerrad567/lora-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/lora-relay/internal/infrastructure/logging"
	"github.com/nerrad567/lora-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/lora-relay/internal/journal"
	"github.com/nerrad567/lora-relay/internal/lorawan"
	"github.com/nerrad567/lora-relay/internal/queue"
	"github.com/nerrad567/lora-relay/internal/sender"
	"github.com/nerrad567/lora-relay/internal/telemetry"
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

// configEnvVar overrides defaultConfigPath.
const configEnvVar = "LORARELAY_CONFIG"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting LoRa relay",
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
	log = logging.New(cfg.Logging, version).With("node_id", cfg.NodeID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	defaults, err := radioDefaults(cfg.Radio)
	if err != nil {
		return fmt.Errorf("radio defaults: %w", err)
	}
	prefixes := prefixTable(cfg.Protocol.Prefixes)
	if err := prefixes.Validate(); err != nil {
		return fmt.Errorf("protocol prefixes: %w", err)
	}

	// Relay state shared by the dispatcher, the sender and the API
	registry, err := enddevice.NewRegistry(cfg.EndDeviceIDs)
	if err != nil {
		return fmt.Errorf("loading end devices: %w", err)
	}
	registry.SetLogger(log)
	log.Info("end-device registry initialised", "end_devices", registry.Len())

	queues, err := queue.NewSet(queue.Capacities{
		Relay:        cfg.SendConfig.RelayQueueSize,
		Bundle:       cfg.SendConfig.BundleQueueSize,
		Announcement: cfg.SendConfig.AnnouncementQueueSize,
	})
	if err != nil {
		return fmt.Errorf("creating queues: %w", err)
	}

	msgCache := cache.New(cache.Options{
		Timeout:         cfg.CacheTimeout(),
		CleanupInterval: cfg.CleanupInterval(),
		ResetTimeout:    cfg.MessageCache.ResetTimeout,
	})
	msgCache.SetLogger(log)

	// Partial bundles expire on the cache's sweep schedule
	reassembler := bundle.NewReassembler(cfg.CacheTimeout(), nil)
	msgCache.OnSweep(func(now time.Time) {
		if n := reassembler.Purge(now); n > 0 {
			log.Debug("expired partial bundles", "count", n)
		}
	})

	// Open the traffic journal (optional)
	db, jrnl, err := openJournal(ctx, cfg.Database)
	if err != nil {
		return err
	}
	var journalWriter *journal.Writer
	if jrnl != nil {
		journalWriter = journal.NewWriter(jrnl, journal.DefaultBacklog, log)
	}
	if db != nil {
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("traffic journal enabled", "path", cfg.Database.Path, "retention_hours", cfg.Database.RetentionHours)
	} else {
		log.Info("traffic journal disabled")
	}

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
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

	// One hub serves API clients and receives local deliveries
	hub := api.NewHub(cfg.WebSocket, log)
	observers := &dispatch.Fanout{}
	observers.Add(hub)

	dispatchOpts := dispatch.Options{
		Prefixes:    prefixes,
		Registry:    registry,
		Cache:       msgCache,
		Reassembler: reassembler,
		Queues:      queues,
		Defaults:    defaults,
		Observer:    observers,
	}
	if journalWriter != nil {
		dispatchOpts.Journal = journalWriter
	}
	dispatcher, err := dispatch.New(dispatchOpts)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	dispatcher.SetLogger(log)

	bridge, err := newBridge(cfg, mqttClient, dispatcher.HandleUplink, log)
	if err != nil {
		return fmt.Errorf("creating gateway bridge: %w", err)
	}

	dutyCycle := lorawan.NewDutyCycle(cfg.Radio.EnforceDutyCycle)

	// The reporter samples the sender, which is created after it
	var snd *sender.Sender
	var reporter *telemetry.Reporter
	if influxClient != nil {
		reporter, err = telemetry.NewReporter(influxClient, cfg.NodeID, telemetry.Sources{
			Queues:    queues.Stats,
			Gateways:  bridge.Gateways().IDs,
			DutyCycle: dutyCycle.Usage,
			Counters: func() map[string]uint64 {
				return relayCounters(dispatcher.Stats(), snd.Stats())
			},
		}, time.Duration(cfg.InfluxDB.ReportInterval)*time.Second)
		if err != nil {
			return fmt.Errorf("creating telemetry reporter: %w", err)
		}
		reporter.SetLogger(log)
	}

	senderOpts := sender.Options{
		Queues:    queues,
		Cache:     msgCache,
		Flooder:   bridge,
		DutyCycle: dutyCycle,
		Interval:  cfg.SendInterval(),
		TxPower:   cfg.Radio.TxPower,
	}
	if journalWriter != nil {
		senderOpts.Journal = journalWriter
	}
	if reporter != nil {
		senderOpts.Telemetry = reporter
	}
	snd, err = sender.New(senderOpts)
	if err != nil {
		return fmt.Errorf("creating sender: %w", err)
	}
	snd.SetLogger(log)

	// Periodic announcements (optional)
	var announcer *sender.Announcer
	if cfg.Announcement.Enabled {
		announcer, err = newAnnouncer(cfg, prefixes, defaults, queues, registry)
		if err != nil {
			return fmt.Errorf("creating announcer: %w", err)
		}
		announcer.SetLogger(log)
	} else {
		log.Info("announcements disabled")
	}

	apiDeps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		ListenAddr:  cfg.ListenAddr(),
		Logger:      log,
		NodeID:      cfg.NodeID,
		Version:     version,
		Registry:    registry,
		Queues:      queues,
		Splitter:    bundle.NewSplitter(uint16(time.Now().UnixNano())),
		Prefixes:    prefixes,
		Defaults:    defaults,
		Cache:       msgCache,
		Reassembler: reassembler,
		Gateways:    bridge,
		DutyCycle:   dutyCycle,
		Dispatcher:  dispatcher,
		Sender:      snd,
		ExternalHub: hub,
	}
	if jrnl != nil {
		apiDeps.Journal = jrnl
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Workers run until ctx is done or one of them fails
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	abort := func(err error) error {
		stop()
		return errors.Join(err, g.Wait())
	}

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return msgCache.Run(gctx) })

	if err := bridge.Start(gctx); err != nil {
		return abort(fmt.Errorf("starting gateway bridge: %w", err))
	}
	defer func() {
		log.Info("stopping gateway bridge")
		bridge.Stop()
	}()

	if err := apiServer.Start(gctx); err != nil {
		return abort(fmt.Errorf("starting API server: %w", err))
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	g.Go(func() error { return snd.Run(gctx) })
	if announcer != nil {
		g.Go(func() error { return announcer.Run(gctx) })
	}
	if reporter != nil {
		g.Go(func() error { return reporter.Run(gctx) })
	}
	if jrnl != nil {
		retention := time.Duration(cfg.Database.RetentionHours) * time.Hour
		g.Go(func() error { return journalWriter.Run(gctx) })
		g.Go(func() error { return jrnl.RunPruner(gctx, journal.PruneInterval, retention, log) })
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return abort(fmt.Errorf("health check failed: %w", err))
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, relaying",
		"listen", apiServer.Addr(),
		"gateways", bridge.Gateways().Len(),
		"send_interval", cfg.SendInterval(),
	)

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("relay stopped: %w", err)
	}

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Gateway bridge
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database (if enabled)

	log.Info("LoRa relay stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LORARELAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Journal database to check (may be nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient == nil {
		return fmt.Errorf("mqtt: %w", mqtt.ErrNotConnected)
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

// openJournal opens the SQLite journal when a database path is configured.
// Both return values are nil when the journal is disabled.
func openJournal(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, *journal.Journal, error) {
	if cfg.Path == "" {
		return nil, nil, nil
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, journal.New(db.DB), nil
}

// newBridge builds the ChirpStack gateway bridge and its health reporter.
func newBridge(cfg *config.Config, client *mqtt.Client, handler chirpstack.UplinkHandler, log *logging.Logger) (*chirpstack.Bridge, error) {
	codec, err := chirpstack.NewCodec(cfg.ChirpStack.Encoding)
	if err != nil {
		return nil, err
	}

	health := chirpstack.NewHealthReporter(chirpstack.HealthReporterConfig{
		NodeID:    cfg.NodeID,
		Version:   version,
		Topic:     client.Topics().RelayHealth(),
		Publisher: client,
	})

	return chirpstack.NewBridge(chirpstack.Options{
		MQTTClient: client,
		Topics:     chirpstack.Topics{Prefix: cfg.ChirpStack.TopicPrefix},
		Codec:      codec,
		Gateways:   chirpstack.NewGatewaySet(cfg.ChirpStack.GatewayIDs),
		Handler:    handler,
		QoS:        byte(cfg.MQTT.QoS),
		Health:     health,
		Logger:     log,
	})
}

// newAnnouncer builds the periodic presence announcer from cfg.
func newAnnouncer(cfg *config.Config, prefixes frame.Prefixes, params lorawan.Params, queues *queue.Set, registry *enddevice.Registry) (*sender.Announcer, error) {
	return sender.NewAnnouncer(sender.AnnouncerOptions{
		Queues:   queues,
		Prefix:   prefixes.Announcement,
		NodeID:   cfg.NodeID,
		HopLimit: cfg.Announcement.HopLimit,
		Text:     cfg.Announcement.Payload,
		Location: announcedLocation(cfg.Announcement.Location),
		Devices:  registry.List,
		Params:   params,
		Interval: cfg.AnnouncementInterval(),
	})
}

// radioDefaults converts the radio section into downlink parameters.
func radioDefaults(r config.RadioConfig) (lorawan.Params, error) {
	return lorawan.DefaultParams(r.Frequency, lorawan.DataRate(r.DataRate))
}

func prefixTable(p config.PrefixConfig) frame.Prefixes {
	return frame.Prefixes{
		Relay:        p.Relay,
		Bundle:       p.Bundle,
		Announcement: p.Announcement,
	}
}

// announcedLocation returns nil unless a position is configured.
func announcedLocation(l config.LocationConfig) *frame.Location {
	if !l.Enabled {
		return nil
	}
	return &frame.Location{
		Latitude:  l.Latitude,
		Longitude: l.Longitude,
		Altitude:  l.Altitude,
	}
}

// relayCounters flattens dispatcher and sender counters for telemetry.
func relayCounters(d dispatch.Stats, s sender.Stats) map[string]uint64 {
	return map[string]uint64{
		"uplinks_received":   d.Received,
		"uplinks_malformed":  d.Malformed,
		"unknown_prefix":     d.UnknownPrefix,
		"filtered":           d.Filtered,
		"duplicates":         d.Duplicates,
		"relayed":            d.Relayed,
		"fragments":          d.Fragments,
		"bundles_received":   d.Bundles,
		"announcements":      d.Announcements,
		"backpressure":       d.Backpressure,
		"oversize_dropped":   d.Oversize,
		"frames_sent":        s.FramesSent,
		"bundles_sent":       s.BundlesSent,
		"duty_cycle_dropped": s.DutyDropped,
		"no_gateway_dropped": s.NoGateway,
		"send_failed":        s.Failed,
	}
}
