package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/release-registry/internal/catalog"
	"github.com/animus-labs/release-registry/internal/notify"
	"github.com/animus-labs/release-registry/internal/platform/auth"
	"github.com/animus-labs/release-registry/internal/platform/env"
	"github.com/animus-labs/release-registry/internal/platform/httpserver"
	"github.com/animus-labs/release-registry/internal/platform/objectstore"
	pebblestore "github.com/animus-labs/release-registry/internal/platform/pebble"
	"github.com/animus-labs/release-registry/internal/platform/postgres"
	"github.com/animus-labs/release-registry/internal/platform/sqlite"
	"github.com/animus-labs/release-registry/internal/repo"
	repopebble "github.com/animus-labs/release-registry/internal/repo/pebble"
	repopg "github.com/animus-labs/release-registry/internal/repo/postgres"
	reposqlite "github.com/animus-labs/release-registry/internal/repo/sqlite"
	"github.com/animus-labs/release-registry/internal/service/artifacts"
	"github.com/animus-labs/release-registry/internal/service/releases"
)

const serviceName = "releases"

const (
	storePostgres = "postgres"
	storeSQLite   = "sqlite"
	storePebble   = "pebble"
)

type serveConfig struct {
	Store         string
	AutoMigrate   bool
	LinkTTL       time.Duration
	NotifyTimeout time.Duration
	CatalogPath   string
}

func serveConfigFromEnv() (serveConfig, error) {
	linkTTL, err := env.Duration("RELEASES_LINK_TTL", artifacts.DefaultLinkTTL)
	if err != nil {
		return serveConfig{}, err
	}
	autoMigrate, err := env.Bool("RELEASES_AUTO_MIGRATE", false)
	if err != nil {
		return serveConfig{}, err
	}
	notifyTimeout, err := env.Duration("RELEASES_NOTIFY_TIMEOUT", releases.DefaultNotifyTimeout)
	if err != nil {
		return serveConfig{}, err
	}
	cfg := serveConfig{
		Store:         strings.ToLower(env.String("RELEASES_STORE", storePostgres)),
		AutoMigrate:   autoMigrate,
		LinkTTL:       linkTTL,
		NotifyTimeout: notifyTimeout,
		CatalogPath:   env.String("RELEASES_CATALOG_PATH", ""),
	}
	if err := cfg.Validate(); err != nil {
		return serveConfig{}, err
	}
	return cfg, nil
}

func (c serveConfig) Validate() error {
	switch c.Store {
	case storePostgres, storeSQLite, storePebble:
	default:
		return fmt.Errorf("RELEASES_STORE must be one of postgres, sqlite, pebble (got %q)", c.Store)
	}
	if c.LinkTTL <= 0 {
		return errors.New("RELEASES_LINK_TTL must be positive")
	}
	if c.NotifyTimeout <= 0 {
		return errors.New("RELEASES_NOTIFY_TIMEOUT must be positive")
	}
	return nil
}

// releaseStore is an opened repository together with its readiness probe.
type releaseStore struct {
	repo  repo.ReleaseRepository
	ping  func(context.Context) error
	close func() error
}

func openStore(ctx context.Context, kind string, migrate bool) (releaseStore, error) {
	switch kind {
	case storePostgres:
		cfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return releaseStore{}, fmt.Errorf("invalid database config: %w", err)
		}
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return releaseStore{}, fmt.Errorf("database unavailable: %w", err)
		}
		if migrate {
			if err := repopg.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return releaseStore{}, err
			}
		}
		return releaseStore{repo: repopg.NewReleaseStore(db), ping: db.PingContext, close: db.Close}, nil

	case storeSQLite:
		cfg, err := sqlite.ConfigFromEnv()
		if err != nil {
			return releaseStore{}, fmt.Errorf("invalid sqlite config: %w", err)
		}
		db, err := sqlite.Open(ctx, cfg)
		if err != nil {
			return releaseStore{}, fmt.Errorf("sqlite unavailable: %w", err)
		}
		// The schema is idempotent and local, so sqlite always migrates.
		if err := reposqlite.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return releaseStore{}, err
		}
		return releaseStore{repo: reposqlite.NewReleaseStore(db), ping: db.PingContext, close: db.Close}, nil

	case storePebble:
		opts, err := pebblestore.OptionsFromEnv()
		if err != nil {
			return releaseStore{}, fmt.Errorf("invalid pebble config: %w", err)
		}
		db, err := pebblestore.Open(opts)
		if err != nil {
			return releaseStore{}, err
		}
		store := repopebble.NewReleaseStore(db)
		return releaseStore{repo: store, ping: store.Ping, close: db.Close}, nil

	default:
		return releaseStore{}, fmt.Errorf("unknown store %q", kind)
	}
}

func runServe(ctx context.Context, logger *slog.Logger) error {
	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		return fmt.Errorf("invalid http config: %w", err)
	}
	cfg, err := serveConfigFromEnv()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Store, cfg.AutoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = store.close() }()

	programs, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("invalid object store config: %w", err)
	}
	objects, err := objectstore.NewMinioStore(storeCfg)
	if err != nil {
		return fmt.Errorf("object store client init failed: %w", err)
	}
	linker, err := artifacts.NewLinker(objects, programs, storeCfg.BucketArtifacts, cfg.LinkTTL)
	if err != nil {
		return err
	}

	var notifiers []releases.Notifier
	tgCfg, err := notify.TelegramConfigFromEnv()
	if err != nil {
		return fmt.Errorf("invalid telegram config: %w", err)
	}
	if tgCfg.Enabled() {
		tg, err := notify.NewTelegram(tgCfg)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, tg)
	}

	svc, err := releases.NewService(store.repo, linker, logger, notifiers...)
	if err != nil {
		return err
	}
	svc.SetNotifyTimeout(cfg.NotifyTimeout)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}
	guard := auth.Middleware{Logger: logger, RequiredRole: authCfg.RequiredRole}
	if authCfg.Mode == auth.ModeOIDC {
		authenticator, err := auth.NewOIDCAuthenticator(ctx, authCfg)
		if err != nil {
			return fmt.Errorf("oidc init failed: %w", err)
		}
		guard.Authenticator = authenticator
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName,
		httpserver.ReadinessCheck{
			Name: cfg.Store,
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return store.ping(checkCtx)
			},
		},
		httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objects.CheckBucket(checkCtx, storeCfg.BucketArtifacts)
			},
		},
	))
	newReleasesAPI(logger, svc, guard.Wrap).register(mux)

	logger.Info("release registry starting",
		"store", cfg.Store,
		"auth", string(authCfg.Mode),
		"notifications", tgCfg.Enabled(),
	)
	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runMigrate applies the schema of the selected SQL store.
func runMigrate(ctx context.Context, kind string) error {
	switch kind {
	case storePostgres, storeSQLite:
		store, err := openStore(ctx, kind, true)
		if err != nil {
			return err
		}
		return store.close()
	case storePebble:
		return errors.New("the pebble store has no schema to migrate")
	default:
		return fmt.Errorf("unknown store %q", kind)
	}
}
