package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/plant-scan/internal/history"
	"github.com/example/plant-scan/internal/inference"
	"github.com/example/plant-scan/internal/kvstore"
	"github.com/example/plant-scan/internal/logging"
	"github.com/example/plant-scan/internal/metrics"
)

// dependencies are the long-lived components shared by serve and the
// one-shot commands.
type dependencies struct {
	backend kvstore.Store
	history *history.Store
	client  *inference.HTTPClient
	logger  *zap.Logger

	unsubscribe func()
}

// buildDependencies opens storage, loads the history and prepares the
// inference client. m may be nil.
func (a *app) buildDependencies(ctx context.Context, m *metrics.Metrics) (*dependencies, error) {
	backend, err := kvstore.Open(ctx, a.cfg.KVStoreConfig(), a.logger)
	if err != nil {
		return nil, logging.NewOperationError("storage.open", "", err)
	}

	store := history.NewStore(backend, a.logger)
	store.Load(ctx)

	client, err := inference.NewHTTPClient(a.cfg.InferenceClientConfig(), nil, a.logger)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("build inference client: %w", err)
	}

	m.SetHistoryEntries(store.Len())
	unsubscribe := store.Subscribe(func(results []history.PredictionResult) {
		m.SetHistoryEntries(len(results))
	})

	a.logger.Info("storage ready",
		zap.String("driver", a.cfg.Storage.Driver),
		zap.Int("history_entries", store.Len()),
	)

	return &dependencies{
		backend:     backend,
		history:     store,
		client:      client,
		logger:      a.logger,
		unsubscribe: unsubscribe,
	}, nil
}

func (d *dependencies) Close() {
	d.unsubscribe()
	if err := d.backend.Close(); err != nil {
		d.logger.Warn("closing storage failed", zap.Error(err))
	}
}
