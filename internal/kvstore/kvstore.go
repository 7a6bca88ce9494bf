// Package kvstore provides the durable string-keyed storage the result
// history is persisted to.
package kvstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a durable string key-value store. Set overwrites the whole value.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Driver string
	// DSN is the database DSN for sqlite/postgres and an optional snapshot
	// file for memory.
	DSN       string
	RedisAddr string
	Namespace string
}

// Open builds the configured backend, wrapped in its namespace.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverMemory, "":
		s, err = NewMemoryStore(cfg.DSN, logger)
	case DriverSQLite, DriverPostgres:
		s, err = OpenGorm(ctx, cfg.Driver, cfg.DSN, logger)
	case DriverRedis:
		s, err = DialRedis(ctx, cfg.RedisAddr, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return Namespaced(s, cfg.Namespace), nil
}

type namespaced struct {
	Store
	prefix string
}

// Namespaced prefixes every key with ns. An empty ns returns s unchanged.
func Namespaced(s Store, ns string) Store {
	if ns == "" {
		return s
	}
	return &namespaced{Store: s, prefix: ns + ":"}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, error) {
	return n.Store.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.Store.Set(ctx, n.prefix+key, value)
}
