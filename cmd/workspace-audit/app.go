package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-sspm/workspace-audit/internal/actions"
	"github.com/open-sspm/workspace-audit/internal/activity"
	"github.com/open-sspm/workspace-audit/internal/config"
	"github.com/open-sspm/workspace-audit/internal/connection"
	"github.com/open-sspm/workspace-audit/internal/connectors/drive"
	"github.com/open-sspm/workspace-audit/internal/connectors/gmail"
	"github.com/open-sspm/workspace-audit/internal/connectors/googleapi"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/credentials"
	"github.com/open-sspm/workspace-audit/internal/query"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
	"github.com/open-sspm/workspace-audit/internal/risk"
	"github.com/open-sspm/workspace-audit/internal/scan"
	"github.com/open-sspm/workspace-audit/internal/sync"
)

const shutdownTimeout = 10 * time.Second

// app is the wired object graph shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	pool        *pgxpool.Pool
	records     rawstore.Store
	activity    *activity.Store
	connections *connection.Resolver
	registry    *registry.AdapterRegistry
	engine      *query.Engine
	router      *actions.Router
	scans       *scan.Manager
}

type appOptions struct {
	// Reporter receives scan events in addition to the log reporter.
	Reporter registry.Reporter
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	if cfg.DatabaseURL != "" {
		a.pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.records = rawstore.NewPostgresStore(a.pool)
	} else {
		logger.Warn("DATABASE_URL not set, discovered records are kept in memory")
		a.records = rawstore.NewMemoryStore()
	}

	a.activity, err = activity.Open(activity.Options{
		Path:       cfg.StateDir,
		Retention:  cfg.ActivityRetention,
		MaxEntries: cfg.ActivityMaxEntries,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	provider, err := credentialProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.connections = connection.NewResolver(connection.Options{
		Configs:     cfg.Google,
		Credentials: provider,
		ClientOptions: googleapi.ClientOptions{
			RateLimit: cfg.ScanRateLimit,
			RateBurst: cfg.ScanRateBurst,
		},
		Logger: logger.With("component", "connection"),
	})

	scorer := risk.NewScorer(cfg.Risk)
	driveAdapter, err := drive.New(drive.Options{
		Store:     a.records,
		Connector: a.connections,
		Scorer:    scorer,
		Logger:    logger.With("platform", "google_drive"),
	})
	if err != nil {
		return nil, err
	}
	gmailAdapter, err := gmail.New(gmail.Options{
		Store:     a.records,
		Connector: a.connections,
		Scorer:    scorer,
		Logger:    logger.With("platform", "gmail"),
	})
	if err != nil {
		return nil, err
	}
	a.registry = registry.NewRegistry()
	for _, adapter := range []registry.SourceAdapter{driveAdapter, gmailAdapter} {
		if err := a.registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	a.engine = query.NewEngine(a.registry, query.Options{
		MaxPerSource: cfg.QueryMaxPerSource,
		Parallel:     cfg.QueryParallel,
		RecentWindow: cfg.RecentActivityWindow,
		Logger:       logger.With("component", "query"),
	})
	a.router = actions.NewRouter(a.registry, actions.Options{
		Connections: a.connections,
		Recorder:    a.activity,
		Logger:      logger.With("component", "actions"),
	})

	var reporter registry.Reporter = &sync.LogReporter{Logger: logger}
	if opts.Reporter != nil {
		reporter = sync.MultiReporter{reporter, opts.Reporter}
	}
	a.scans, err = scan.NewManager(a.registry, scan.ManagerOptions{
		Reporter: reporter,
		State:    a.activity,
		Logger:   logger.With("component", "scan"),
		Defaults: scan.Options{
			Mode:              registry.ParseRunMode(cfg.ScanMode),
			PageSize:          cfg.ScanPageSize,
			AutoContinueLimit: cfg.ScanAutoContinueLimit,
		},
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func credentialProvider(ctx context.Context, cfg config.Config) (credentials.Provider, error) {
	if cfg.CredentialsBackend == credentials.BackendVault {
		p, err := credentials.NewVaultProvider(ctx, cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("vault credentials: %w", err)
		}
		return p, nil
	}
	return credentials.NewStaticProvider(cfg.Credentials), nil
}

// Close waits for background scans, then releases the state store and the
// database pool.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.scans != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.scans.Shutdown(ctx); err != nil {
			a.logger.Warn("background scans did not stop in time", "err", err)
		}
	}
	if a.activity != nil {
		if err := a.activity.Close(); err != nil {
			a.logger.Warn("close activity store", "err", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
