package core

import (
	"context"
	"fmt"

	"racecore/internal/infra/persistence/memory"
	"racecore/internal/infra/persistence/postgres"
	"racecore/internal/infra/persistence/sqlite"
	"racecore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and parameterises the entity store.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`       // default sqlite
	SQLitePath  string        `yaml:"sqlite_path"`  // default ./racecore.db
	PostgresDSN string        `yaml:"postgres_dsn"` // required when driver=postgres
}

// OpenPersistentStore opens the backend named by cfg.Driver with the given
// rules engine. Stores holding connections implement io.Closer.
//
// sqlite and postgres hold a database write lock for each transaction, so any
// number of handles and processes may share one database. Writes on different
// lanes still queue behind that lock for the length of one transaction.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
