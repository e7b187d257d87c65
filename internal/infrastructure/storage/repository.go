package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"fsvault/internal/application"
	"fsvault/internal/infrastructure/leveldb"
	"fsvault/internal/infrastructure/mysql"
	"fsvault/internal/infrastructure/sqlite"
)

// Store is a ledger store that owns its connections.
type Store interface {
	application.Store
	io.Closer
}

type Config struct {
	Backend     string
	LevelDBPath string
	SQLitePath  string
	MySQLDSN    string
	RedisAddr   string
	CacheTTL    time.Duration
}

// Open builds the configured backend. The MySQL backend is fronted by the
// redis cache when an address is set.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "leveldb":
		store, err := leveldb.Open(cfg.LevelDBPath)
		if err != nil {
			return nil, fmt.Errorf("leveldb: %w", err)
		}
		slog.Info("store opened", "backend", "leveldb", "path", cfg.LevelDBPath)
		return store, nil
	case "sqlite":
		repo, err := sqlite.NewRepository(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("store opened", "backend", "sqlite", "path", cfg.SQLitePath)
		return repo, nil
	case "mysql":
		repo, err := mysql.NewRepository(cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
		cached, err := mysql.NewCachedRepository(repo, mysql.CacheConfig{Addr: cfg.RedisAddr, TTL: cfg.CacheTTL})
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		slog.Info("store opened", "backend", "mysql", "cache", cfg.RedisAddr != "")
		return cached, nil
	default:
		return nil, errors.New("unknown store backend: " + cfg.Backend)
	}
}
