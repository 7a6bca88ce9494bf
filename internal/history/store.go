package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/plant-scan/internal/kvstore"
	"github.com/example/plant-scan/internal/logging"
)

// StorageKey is the key the serialized history lives under.
const StorageKey = "disease-detection-results"

// Listener receives a copy of the history after every mutation.
type Listener func([]PredictionResult)

// Store is the single in-process owner of the result history. All
// mutations are serialized and written through to the backing store before
// they become visible.
type Store struct {
	mu        sync.RWMutex
	backend   kvstore.Store
	logger    *zap.Logger
	results   []PredictionResult
	listeners map[int]Listener
	nextSub   int
	now       func() time.Time
	newID     func() (string, error)
}

// NewStore returns an empty store. Call Load before serving reads.
func NewStore(backend kvstore.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:   backend,
		logger:    logger.Named("history"),
		results:   []PredictionResult{},
		listeners: make(map[int]Listener),
		now:       time.Now,
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// Load replaces the in-memory history with the persisted one. Missing or
// unreadable data leaves an empty history; Load never fails startup.
func (s *Store) Load(ctx context.Context) {
	opLogger := logging.WithOperation(s.logger, "history.load", "")
	loaded := []PredictionResult{}

	raw, err := s.backend.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		opLogger.Info("no persisted history, starting empty")
	case err != nil:
		opLogger.Warn("failed to read persisted history, starting empty", zap.Error(err))
	default:
		if decoded, derr := decodeHistory(raw); derr != nil {
			opLogger.Warn("persisted history is corrupt, starting empty", zap.Error(derr))
		} else {
			loaded = decoded
		}
	}

	s.mu.Lock()
	s.results = loaded
	snapshot := cloneHistory(s.results)
	listeners := s.listenerList()
	s.mu.Unlock()

	opLogger.Info("history loaded", zap.Int("entries", len(loaded)))
	notify(listeners, snapshot)
}

// Add validates c, records it as the newest entry and persists the history.
// A candidate without any valid prediction leaves the history unchanged and
// returns it together with a *ValidationError. A storage failure also leaves
// the history unchanged.
func (s *Store) Add(ctx context.Context, c Candidate) ([]PredictionResult, error) {
	preds, dropped := sanitize(c.Predictions)

	s.mu.Lock()
	if len(preds) == 0 {
		current := cloneHistory(s.results)
		s.mu.Unlock()
		verr := &ValidationError{Reason: "no valid predictions", Dropped: dropped}
		s.logger.Warn("rejected scan result", zap.Error(verr), zap.String("image_uri", c.ImageURI))
		return current, verr
	}

	id, err := s.newID()
	if err != nil {
		current := cloneHistory(s.results)
		s.mu.Unlock()
		return current, logging.NewOperationError("history.add", "", err)
	}
	result := PredictionResult{
		ID:          id,
		Timestamp:   s.now().UnixMilli(),
		ImageURI:    c.ImageURI,
		Predictions: preds,
	}

	next := make([]PredictionResult, 0, len(s.results)+1)
	next = append(next, result)
	next = append(next, s.results...)

	if err := s.persist(ctx, next); err != nil {
		current := cloneHistory(s.results)
		s.mu.Unlock()
		return current, logging.NewOperationError("history.add", id, err)
	}
	s.results = next
	snapshot := cloneHistory(s.results)
	listeners := s.listenerList()
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("dropped malformed predictions", zap.String("scan_id", id), zap.Int("dropped", dropped))
	}
	logging.WithOperation(s.logger, "history.add", id).Info("scan result recorded",
		zap.String("class", result.Top().ClassName),
		zap.Int("entries", len(snapshot)),
	)
	notify(listeners, snapshot)
	return snapshot, nil
}

// GetByID looks up a result by id.
func (s *Store) GetByID(id string) (PredictionResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.results {
		if r.ID == id {
			return cloneResult(r), true
		}
	}
	return PredictionResult{}, false
}

// List returns a copy of the history, newest first.
func (s *Store) List() []PredictionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHistory(s.results)
}

// Len reports the number of stored results.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Clear removes every result. The in-memory history is only emptied once the
// empty state has been persisted.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	empty := []PredictionResult{}
	if err := s.persist(ctx, empty); err != nil {
		s.mu.Unlock()
		return logging.NewOperationError("history.clear", "", err)
	}
	removed := len(s.results)
	s.results = empty
	listeners := s.listenerList()
	s.mu.Unlock()

	logging.WithOperation(s.logger, "history.clear", "").Info("history cleared", zap.Int("removed", removed))
	notify(listeners, []PredictionResult{})
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// persist must be called with s.mu held.
func (s *Store) persist(ctx context.Context, results []PredictionResult) error {
	encoded, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, StorageKey, string(encoded))
}

// listenerList must be called with s.mu held.
func (s *Store) listenerList() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, snapshot []PredictionResult) {
	for _, l := range listeners {
		l(cloneHistory(snapshot))
	}
}

// decodeHistory parses persisted JSON, dropping entries that no longer
// satisfy the result invariants and any duplicate ids.
func decodeHistory(raw string) ([]PredictionResult, error) {
	var decoded []PredictionResult
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	out := make([]PredictionResult, 0, len(decoded))
	seen := make(map[string]bool, len(decoded))
	for _, r := range decoded {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		preds, _ := sanitize(r.Predictions)
		if len(preds) == 0 {
			continue
		}
		r.Predictions = preds
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, nil
}
