package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wolfeidau/whopvoice/internal/delivery"
	"github.com/wolfeidau/whopvoice/internal/fishaudio"
	httpmiddleware "github.com/wolfeidau/whopvoice/internal/http"
	"github.com/wolfeidau/whopvoice/internal/identity"
	"github.com/wolfeidau/whopvoice/internal/ledger"
	"github.com/wolfeidau/whopvoice/internal/logger"
	"github.com/wolfeidau/whopvoice/internal/plans"
	"github.com/wolfeidau/whopvoice/internal/reconcile"
	"github.com/wolfeidau/whopvoice/internal/server"
	"github.com/wolfeidau/whopvoice/internal/store"
	firestorestore "github.com/wolfeidau/whopvoice/internal/store/firestore"
	memorystore "github.com/wolfeidau/whopvoice/internal/store/memory"
	postgresstore "github.com/wolfeidau/whopvoice/internal/store/postgres"
	"github.com/wolfeidau/whopvoice/internal/telemetry"
	"github.com/wolfeidau/whopvoice/internal/welcome"
	"github.com/wolfeidau/whopvoice/internal/whop"
	"github.com/wolfeidau/whopvoice/internal/worker"
)

type ServerCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"WHOPVOICE_LISTEN"`
	PublicBaseURL   string        `help:"public base URL used in audio links sent to members" required:"" env:"WHOPVOICE_PUBLIC_BASE_URL"`
	ShutdownTimeout time.Duration `help:"time allowed for in-flight requests and queued generations on shutdown" default:"30s" env:"WHOPVOICE_SHUTDOWN_TIMEOUT"`
	MaxUploadMB     int64         `help:"largest accepted voice sample in MiB" default:"20" env:"WHOPVOICE_MAX_UPLOAD_MB"`

	// Browser access
	CORSOrigins    []string `help:"allowed CORS origins for API requests" default:"https://whop.com" env:"WHOPVOICE_CORS_ORIGINS"`
	TrustedOrigins []string `help:"origins allowed to make cross-site state changing requests" default:"https://whop.com" env:"WHOPVOICE_TRUSTED_ORIGINS"`

	// Tenancy and billing
	InitialCredits int    `help:"credits granted to a newly initialized creator" default:"50" env:"WHOPVOICE_INITIAL_CREDITS"`
	PlansFile      string `help:"YAML plan catalog overriding the built-in one" default:"" env:"WHOPVOICE_PLANS_FILE"`
	Fallback       bool   `help:"resolve member requests without a company to the first creator that finished setup (single tenant only)" default:"false" env:"WHOPVOICE_FALLBACK_FIRST_SETUP"`
	RedeliverVia   string `help:"delivery used by send-audio-dm" default:"channel" env:"WHOPVOICE_REDELIVER_VIA" enum:"channel,dm"`

	// Store and lock configuration
	StoreType string         `help:"store type (memory, postgres or firestore)" default:"memory" env:"WHOPVOICE_STORE_TYPE" enum:"memory,postgres,firestore"`
	LockType  string         `help:"in-flight generation lock (memory or redis)" default:"memory" env:"WHOPVOICE_LOCK_TYPE" enum:"memory,redis"`
	Postgres  PostgresFlags  `embed:"" prefix:"postgres-"`
	Firestore FirestoreFlags `embed:"" prefix:"firestore-"`
	Redis     RedisFlags     `embed:"" prefix:"redis-"`

	// Vendors
	Whop WhopFlags `embed:"" prefix:"whop-"`
	Fish FishFlags `embed:"" prefix:"fish-"`

	Queue QueueFlags `embed:"" prefix:"queue-"`
}

type PostgresFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`
	QueryTimeout    int32 `help:"query timeout in seconds" default:"10"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"WHOPVOICE_POSTGRES_AUTO_MIGRATE"`
}

func (f *PostgresFlags) Validate() error {
	if f.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

type FirestoreFlags struct {
	ProjectID       string `help:"Google Cloud project holding the Firestore database" env:"FIRESTORE_PROJECT_ID"`
	DatabaseID      string `help:"Firestore database id" default:"" env:"FIRESTORE_DATABASE_ID"`
	CredentialsFile string `help:"service account JSON, application default credentials when empty" default:"" env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

func (f *FirestoreFlags) Validate() error {
	if f.ProjectID == "" {
		return errors.New("firestore project id is required (--firestore-project-id or FIRESTORE_PROJECT_ID)")
	}
	return nil
}

type RedisFlags struct {
	URL     string        `help:"Redis URL, e.g. redis://localhost:6379/0" env:"REDIS_URL"`
	LockTTL time.Duration `help:"expiry of an in-flight generation lock" default:"10m" env:"WHOPVOICE_REDIS_LOCK_TTL"`
}

func (f *RedisFlags) Validate() error {
	if f.URL == "" {
		return errors.New("redis url is required (--redis-url or REDIS_URL)")
	}
	return nil
}

type WhopFlags struct {
	APIKey    string `help:"Whop app API key" env:"WHOP_API_KEY"`
	AppID     string `help:"Whop app id, the audience of user tokens" env:"WHOP_APP_ID"`
	PublicKey string `help:"PEM encoded ES256 key Whop signs user tokens with" env:"WHOP_PUBLIC_KEY"`
	BaseURL   string `help:"Whop API base URL" default:"" env:"WHOP_BASE_URL"`
}

func (f *WhopFlags) Validate() error {
	switch {
	case f.APIKey == "":
		return errors.New("whop api key is required (--whop-api-key or WHOP_API_KEY)")
	case f.AppID == "":
		return errors.New("whop app id is required (--whop-app-id or WHOP_APP_ID)")
	case f.PublicKey == "":
		return errors.New("whop public key is required (--whop-public-key or WHOP_PUBLIC_KEY)")
	}
	return nil
}

type FishFlags struct {
	APIKey    string  `help:"Fish Audio API key" env:"FISH_AUDIO_API_KEY"`
	BaseURL   string  `help:"Fish Audio API base URL" default:"" env:"FISH_AUDIO_BASE_URL"`
	TTSModel  string  `help:"speech model header" default:"s1" env:"FISH_AUDIO_TTS_MODEL"`
	Format    string  `help:"speech output format" default:"mp3" enum:"mp3,wav,opus" env:"FISH_AUDIO_FORMAT"`
	RateLimit float64 `help:"speech requests per second, 0 for unlimited" default:"2" env:"FISH_AUDIO_RATE_LIMIT"`
	Burst     int     `help:"speech request burst" default:"4" env:"FISH_AUDIO_BURST"`
}

func (f *FishFlags) Validate() error {
	if f.APIKey == "" {
		return errors.New("fish audio api key is required (--fish-api-key or FISH_AUDIO_API_KEY)")
	}
	return nil
}

type QueueFlags struct {
	Workers int `help:"welcome generation workers" default:"4" env:"WHOPVOICE_QUEUE_WORKERS"`
	Depth   int `help:"queued generations before new ones are rejected" default:"64" env:"WHOPVOICE_QUEUE_DEPTH"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if err := c.Whop.Validate(); err != nil {
		return err
	}
	if err := c.Fish.Validate(); err != nil {
		return err
	}

	if telemetry.Enabled() {
		log.Info().Msg("Telemetry is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "whopvoice-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}
	metrics := telemetry.GetMetrics()

	catalog := plans.Default()
	if c.PlansFile != "" {
		var err error
		if catalog, err = plans.LoadFile(c.PlansFile); err != nil {
			return fmt.Errorf("failed to load plan catalog: %w", err)
		}
		log.Info().Str("path", c.PlansFile).Msg("Loaded plan catalog")
	}
	log.Info().Strs("tiers", planTiers(catalog)).Strs("whop_plan_ids", catalog.WhopPlanIDs()).Msg("Plan catalog ready")

	stores, closeStores, err := c.openStores(ctx, log)
	if err != nil {
		return err
	}
	defer closeStores()

	locker, closeLock, err := c.openLock(ctx, log)
	if err != nil {
		return err
	}
	defer closeLock()

	verifier, err := whop.NewTokenVerifier([]byte(c.Whop.PublicKey), c.Whop.AppID)
	if err != nil {
		return fmt.Errorf("failed to load whop public key: %w", err)
	}
	var whopOpts []whop.Option
	if c.Whop.BaseURL != "" {
		whopOpts = append(whopOpts, whop.WithBaseURL(c.Whop.BaseURL))
	}
	whopClient := whop.New(c.Whop.APIKey, whopOpts...)

	fishOpts := []fishaudio.Option{fishaudio.WithTTSModel(c.Fish.TTSModel)}
	if c.Fish.BaseURL != "" {
		fishOpts = append(fishOpts, fishaudio.WithBaseURL(c.Fish.BaseURL))
	}
	if c.Fish.RateLimit > 0 {
		fishOpts = append(fishOpts, fishaudio.WithRateLimit(rate.Limit(c.Fish.RateLimit), c.Fish.Burst))
	}
	voice := fishaudio.New(c.Fish.APIKey, fishOpts...)

	// Credit ledger with auto-pause on exhaustion
	credits := ledger.New(stores.Creators)
	credits.Subscribe(metrics.RecordLedgerEvent)
	credits.Subscribe(ledger.NewAutoPauser(stores.Creators, func(creatorID string) {
		metrics.RecordAutoPause(context.Background())
	}).Handle)

	reconciler := reconcile.New(whopClient, stores.Creators, catalog,
		reconcile.WithOnChange(metrics.RecordReconcileChange))

	var fallback identity.Fallback
	if c.Fallback {
		log.Warn().Msg("First setup complete fallback is enabled. This crosses tenant boundaries and is for single tenant deployments only!")
		fallback = identity.FirstSetupComplete{Creators: stores.Creators}
	}
	resolver := identity.NewResolver(verifier, whopClient, stores.Creators, identity.Config{
		InitialCredits: c.InitialCredits,
		Fallback:       fallback,
	})

	pool := worker.NewPool(worker.Config{Workers: c.Queue.Workers, QueueDepth: c.Queue.Depth})
	// Queued work outlives the signal so it can be drained below.
	pool.Start(context.WithoutCancel(ctx))
	if err := metrics.ObserveQueue(pool.Pending); err != nil {
		log.Warn().Err(err).Msg("Failed to register queue gauge")
	}

	var redeliverer delivery.Deliverer = delivery.NewChannelResolver(whopClient)
	if c.RedeliverVia == "dm" {
		redeliverer = delivery.NewDirectMessenger(whopClient)
	}

	orchestrator := welcome.New(stores, credits, voice, delivery.NewChannelResolver(whopClient),
		welcome.Config{
			PublicBaseURL: c.PublicBaseURL,
			Format:        fishaudio.Format(c.Fish.Format),
		},
		welcome.WithPool(pool),
		welcome.WithLocker(locker),
		welcome.WithRedeliverer(redeliverer),
		welcome.WithObserver(metrics.RecordJob),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.NewServer(server.Services{
		Stores:       stores,
		Resolver:     resolver,
		Orchestrator: orchestrator,
		Reconciler:   reconciler,
		Voices:       voice,
		Members:      whopClient,
		Catalog:      catalog,
		Metrics:      metrics,
	}, server.Config{
		PublicBaseURL:  c.PublicBaseURL,
		CORSOrigins:    c.CORSOrigins,
		TrustedOrigins: c.TrustedOrigins,
		MaxUploadBytes: c.MaxUploadMB << 20,
		RequestMetrics: httpmiddleware.NewMetrics(registry),
	})

	handler, err := srv.Handler(log)
	if err != nil {
		return fmt.Errorf("failed to build http handler: %w", err)
	}

	httpServer := configureHTTPServer(c.Listen, handler)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Str("store", c.StoreType).Str("lock", c.LockType).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	// Stop taking requests first so no new generations are queued, then drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to drain welcome queue")
	}

	log.Info().Msg("Server stopped")
	return nil
}

func (c *ServerCmd) openStores(ctx context.Context, log zerolog.Logger) (store.Stores, func(), error) {
	switch c.StoreType {
	case "postgres":
		if err := c.Postgres.Validate(); err != nil {
			return store.Stores{}, nil, fmt.Errorf("failed to validate postgres flags: %w", err)
		}
		db, err := postgresstore.Open(ctx, &postgresstore.Config{
			PoolConfig: postgresstore.PoolConfig{
				ConnString:      c.Postgres.ConnString,
				MaxConns:        c.Postgres.MaxConns,
				MinConns:        c.Postgres.MinConns,
				MaxConnLifetime: c.Postgres.MaxConnLifetime,
				MaxConnIdleTime: c.Postgres.MaxConnIdleTime,
			},
			AutoMigrate:         c.Postgres.AutoMigrate,
			QueryTimeoutSeconds: c.Postgres.QueryTimeout,
		})
		if err != nil {
			return store.Stores{}, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		log.Info().Bool("auto_migrate", c.Postgres.AutoMigrate).Msg("Using PostgreSQL stores")
		return db.Stores(), db.Close, nil

	case "firestore":
		if err := c.Firestore.Validate(); err != nil {
			return store.Stores{}, nil, fmt.Errorf("failed to validate firestore flags: %w", err)
		}
		db, err := firestorestore.Open(ctx, firestorestore.Config{
			ProjectID:       c.Firestore.ProjectID,
			DatabaseID:      c.Firestore.DatabaseID,
			CredentialsFile: c.Firestore.CredentialsFile,
		})
		if err != nil {
			return store.Stores{}, nil, fmt.Errorf("failed to open firestore: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			_ = db.Close()
			return store.Stores{}, nil, fmt.Errorf("failed to reach firestore: %w", err)
		}
		log.Info().Msg("Using Firestore stores")
		return db.Stores(), func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close firestore client")
			}
		}, nil

	default:
		log.Warn().Msg("Using in-memory stores. Data is lost on restart!")
		return memorystore.NewStores(), func() {}, nil
	}
}

func (c *ServerCmd) openLock(ctx context.Context, log zerolog.Logger) (welcome.Locker, func(), error) {
	if c.LockType != "redis" {
		return welcome.NewMemoryLock(), func() {}, nil
	}

	if err := c.Redis.Validate(); err != nil {
		return nil, nil, fmt.Errorf("failed to validate redis flags: %w", err)
	}
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Dur("ttl", c.Redis.LockTTL).Msg("Using Redis generation lock")
	return welcome.NewRedisLock(client, c.Redis.LockTTL), func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis client")
		}
	}, nil
}

// planTiers lists the configured tiers for the startup log.
func planTiers(catalog *plans.Catalog) []string {
	var tiers []string
	for _, p := range catalog.Plans() {
		tiers = append(tiers, string(p.Tier))
	}
	return tiers
}
