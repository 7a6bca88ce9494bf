package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// MemoryStore keeps values in process memory and, when a snapshot path is
// set, rewrites the snapshot file after every Set.
type MemoryStore struct {
	mu       sync.Mutex
	items    *cache.Cache
	snapshot string
	logger   *zap.Logger
}

// NewMemoryStore creates a store, restoring from snapshot if the file exists.
// A snapshot that cannot be decoded is renamed aside and the store starts
// empty.
func NewMemoryStore(snapshot string, logger *zap.Logger) (*MemoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MemoryStore{
		items:    cache.New(cache.NoExpiration, 0),
		snapshot: snapshot,
		logger:   logger.Named("kvstore.memory"),
	}
	if snapshot == "" {
		return m, nil
	}

	f, err := os.Open(snapshot)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	loadErr := m.items.Load(f)
	f.Close()
	if loadErr == nil {
		return m, nil
	}

	quarantined := fmt.Sprintf("%s.corrupt-%d", snapshot, time.Now().UnixNano())
	if err := os.Rename(snapshot, quarantined); err != nil {
		return nil, fmt.Errorf("move corrupt snapshot aside: %w", err)
	}
	m.logger.Warn("snapshot is corrupt, starting empty",
		zap.String("snapshot", snapshot),
		zap.String("moved_to", quarantined),
		zap.Error(loadErr),
	)
	m.items = cache.New(cache.NoExpiration, 0)
	return m, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, ok := m.items.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Set(key, value, cache.NoExpiration)
	if m.snapshot == "" {
		return nil
	}
	return m.writeSnapshot()
}

// writeSnapshot replaces the snapshot file atomically so a crash never
// leaves a partial file behind.
func (m *MemoryStore) writeSnapshot() error {
	tmp, err := os.CreateTemp(filepath.Dir(m.snapshot), filepath.Base(m.snapshot)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := m.items.Save(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, m.snapshot); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
