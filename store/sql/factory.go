package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-salla/ratelimit"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the SQL stores from a persistence client or a bun
// handle.
type RepositoryFactory struct {
	db *bun.DB

	rateLimitStateStore *RateLimitStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// Build accepts a *bun.DB or anything exposing DB() *bun.DB. Repeated calls
// keep the stores built by the first one.
func (f *RepositoryFactory) Build(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.rateLimitStateStore != nil {
		return nil
	}
	store, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	f.rateLimitStateStore = store
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

// StateStore returns the SQL state store, wrapped in the read-through cache
// when a cache service is supplied.
func (f *RepositoryFactory) StateStore(cacheService repositorycache.CacheService) (ratelimit.StateStore, error) {
	if f == nil || f.rateLimitStateStore == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is not built")
	}
	if cacheService == nil {
		return f.rateLimitStateStore, nil
	}
	return NewCachedRateLimitStateStore(f.rateLimitStateStore, cacheService)
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: bun db is required")
		}
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
