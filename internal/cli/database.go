package cli

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	jobsql "github.com/goliatone/go-job/queue/adapters/postgres"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	sallamigrations "github.com/goliatone/go-salla/migrations"
	"github.com/goliatone/go-salla/ratelimit"
	sqlstore "github.com/goliatone/go-salla/store/sql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const sqlitePrefix = "sqlite3:"

type databaseConfig struct {
	driver string
	server string
	debug  bool
}

func (c databaseConfig) GetDebug() bool                { return c.debug }
func (c databaseConfig) GetDriver() string             { return c.driver }
func (c databaseConfig) GetServer() string             { return c.server }
func (c databaseConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c databaseConfig) GetOtelIdentifier() string     { return "go-salla" }

// databaseTarget splits a --database-dsn value into the sql driver, the
// driver DSN and the migration dialect.
func databaseTarget(dsn string) (driver string, server string, dialect string, err error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, sqlitePrefix):
		server = strings.TrimSpace(strings.TrimPrefix(dsn, sqlitePrefix))
		if server == "" {
			return "", "", "", fmt.Errorf("cli: sqlite dsn is empty")
		}
		return "sqlite3", server, sallamigrations.DialectSQLite, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, sallamigrations.DialectPostgres, nil
	default:
		return "", "", "", fmt.Errorf("cli: unsupported database dsn, expected sqlite3:<dsn> or postgres://")
	}
}

// stateDatabase is the opened --database-dsn: the rate limit store built on
// it plus the raw handle the refresh job queue shares.
type stateDatabase struct {
	store   ratelimit.StateStore
	db      *sql.DB
	dialect string
	close   func() error
}

// openStateStore opens the database, applies the salla migrations and builds
// the cached SQL rate limit store.
func openStateStore(ctx context.Context, dsn string, debug bool) (*stateDatabase, error) {
	driver, server, dialect, err := databaseTarget(dsn)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driver, server)
	if err != nil {
		return nil, fmt.Errorf("cli: open database: %w", err)
	}
	var bunDialect schema.Dialect = pgdialect.New()
	if dialect == sallamigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
		bunDialect = sqlitedialect.New()
	}

	client, err := persistence.New(databaseConfig{driver: driver, server: server, debug: debug}, sqlDB, bunDialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("cli: persistence client: %w", err)
	}
	_, err = sallamigrations.Register(ctx, func(_ context.Context, src sallamigrations.Source) error {
		client.RegisterSQLMigrations(src.FS)
		return nil
	}, dialect)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cli: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cli: migrate: %w", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = 5 * time.Second
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cli: cache service: %w", err)
	}
	store, err := factory.StateStore(cacheService)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &stateDatabase{store: store, db: sqlDB, dialect: dialect, close: client.Close}, nil
}

// openRefreshQueue migrates and opens the go-job SQL queue that carries token
// refresh jobs, on the same database as the rate limit state.
func openRefreshQueue(ctx context.Context, database *stateDatabase) (*jobsql.Adapter, error) {
	if database == nil || database.db == nil {
		return nil, fmt.Errorf("cli: --database-dsn is required for the refresh queue")
	}
	dialect := jobsql.DialectPostgres
	if database.dialect == sallamigrations.DialectSQLite {
		dialect = jobsql.DialectSQLite
	}
	storage := jobsql.NewStorage(database.db,
		jobsql.WithDialect(dialect),
		jobsql.WithTableName("salla_refresh_jobs"),
		jobsql.WithDLQTableName("salla_refresh_jobs_dlq"),
		jobsql.WithStatusTableName("salla_refresh_job_status"),
	)
	if err := storage.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("cli: migrate refresh queue: %w", err)
	}
	return jobsql.NewAdapter(storage), nil
}
