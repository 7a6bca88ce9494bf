// Package workflow implements the scan state machine: image selection,
// staged processing feedback, inference and persistence of the result.
package workflow

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/plant-scan/internal/confidence"
	"github.com/example/plant-scan/internal/history"
	"github.com/example/plant-scan/internal/imagesource"
	"github.com/example/plant-scan/internal/inference"
	"github.com/example/plant-scan/internal/logging"
	"github.com/example/plant-scan/internal/metrics"
)

// State is a workflow state.
type State string

const (
	StateIdle          State = "idle"
	StateImageSelected State = "image_selected"
	StateProcessing    State = "processing"
	StateComplete      State = "complete"
	StateFailed        State = "failed"
)

// ResultRecorder persists finished scans.
type ResultRecorder interface {
	Add(ctx context.Context, c history.Candidate) ([]history.PredictionResult, error)
}

// Selectable reports whether an image may be selected in state s.
func (s State) Selectable() bool {
	return s == StateIdle || s == StateImageSelected
}

// Snapshot is the observable workflow state.
type Snapshot struct {
	State       State                     `json:"state"`
	Phase       string                    `json:"phase,omitempty"`
	PhaseIndex  int                       `json:"phase_index"`
	PhaseCount  int                       `json:"phase_count"`
	ImageURI    string                    `json:"image_uri,omitempty"`
	Predictions []inference.Prediction    `json:"predictions,omitempty"`
	Result      *history.PredictionResult `json:"result,omitempty"`
	Error       *Failure                  `json:"error,omitempty"`
}

// Terminal reports whether the snapshot is in Complete or Failed.
func (s Snapshot) Terminal() bool {
	return s.State == StateComplete || s.State == StateFailed
}

// Listener receives a snapshot after every transition.
type Listener func(Snapshot)

// Options tune a Workflow. Zero values use defaults.
type Options struct {
	Phases     []Phase
	Normalizer *confidence.Normalizer
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Workflow coordinates one scan at a time. It is safe for concurrent use;
// commands that do not apply to the current state are ignored.
type Workflow struct {
	client     inference.Client
	store      ResultRecorder
	provider   imagesource.Provider
	phases     []Phase
	normalizer *confidence.Normalizer
	metrics    *metrics.Metrics
	logger     *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu           sync.Mutex
	state        State
	phaseIdx     int
	imageURI     string
	predictions  []inference.Prediction
	result       *history.PredictionResult
	failure      *Failure
	generation   uint64
	cancelPacing context.CancelFunc
	closed       bool
	listeners    map[int]Listener
	nextSub      int
}

// New builds an idle workflow. provider may be nil when images are only
// supplied through SelectImage.
func New(client inference.Client, store ResultRecorder, provider imagesource.Provider, opts Options) *Workflow {
	if opts.Phases == nil {
		opts.Phases = DefaultPhases()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = confidence.NewNormalizer(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Workflow{
		client:     client,
		store:      store,
		provider:   provider,
		phases:     opts.Phases,
		normalizer: opts.Normalizer,
		metrics:    opts.Metrics,
		logger:     opts.Logger.Named("workflow"),
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      StateIdle,
		listeners:  make(map[int]Listener),
	}
}

// Snapshot returns the current observable state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// SelectImage moves Idle or ImageSelected to ImageSelected with uri. An
// empty uri, or any other state, leaves the workflow unchanged.
func (w *Workflow) SelectImage(uri string) bool {
	w.mu.Lock()
	if uri == "" || w.closed || !w.state.Selectable() {
		w.mu.Unlock()
		return false
	}
	w.state = StateImageSelected
	w.imageURI = uri
	snap := w.snapshotLocked()
	listeners := w.listenerList()
	w.mu.Unlock()

	w.logger.Info("image selected", zap.String("image_uri", uri))
	notify(listeners, snap)
	return true
}

// Acquire asks the image provider for an image from src and selects it.
// A cancelled or denied request is a normal outcome: it returns false with
// a nil error and the state is unchanged.
func (w *Workflow) Acquire(ctx context.Context, src imagesource.Source) (bool, error) {
	if w.provider == nil {
		return false, nil
	}
	uri, err := imagesource.Request(ctx, w.provider, src)
	if imagesource.IsBenign(err) {
		w.logger.Info("no image acquired", zap.String("source", string(src)), zap.String("reason", ErrorKind(err)))
		return false, nil
	}
	if err != nil {
		w.logger.Warn("image source failed", zap.String("source", string(src)), zap.Error(err))
		return false, err
	}
	return w.SelectImage(uri), nil
}

// Analyze starts processing the selected image. It is accepted from
// ImageSelected, and from Failed to retry the same image. Otherwise it
// returns false and does nothing; in particular a call while Processing is
// ignored rather than queued.
func (w *Workflow) Analyze() bool {
	w.mu.Lock()
	if w.closed || !w.canAnalyzeLocked() {
		state := w.state
		w.mu.Unlock()
		w.logger.Debug("analyze ignored", zap.String("state", string(state)))
		return false
	}
	w.generation++
	gen := w.generation
	uri := w.imageURI
	pacingCtx, cancel := context.WithCancel(w.baseCtx)
	w.cancelPacing = cancel
	w.state = StateProcessing
	w.phaseIdx = 0
	w.predictions = nil
	w.result = nil
	w.failure = nil
	snap := w.snapshotLocked()
	listeners := w.listenerList()
	w.wg.Add(1)
	w.mu.Unlock()

	w.metrics.ScanStarted()
	logging.WithOperation(w.logger, "workflow.analyze", scanLabel(gen)).Info("analysis started", zap.String("image_uri", uri))
	notify(listeners, snap)

	go w.run(pacingCtx, gen, uri)
	return true
}

// Reset discards the current image, predictions and error and returns to
// Idle, cancelling any pacing in progress. A result still in flight is
// dropped when it arrives. Reset is idempotent.
func (w *Workflow) Reset() {
	w.mu.Lock()
	if w.state == StateIdle && w.imageURI == "" {
		w.mu.Unlock()
		return
	}
	w.resetLocked()
	snap := w.snapshotLocked()
	listeners := w.listenerList()
	w.mu.Unlock()

	w.logger.Info("workflow reset")
	notify(listeners, snap)
}

// Close tears the workflow down, cancelling pacing and any in-flight
// inference call, and waits for background work to stop.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.closed = true
	w.resetLocked()
	w.mu.Unlock()

	w.baseCancel()
	w.wg.Wait()
}

// Subscribe registers fn for transition notifications and returns a
// function that removes it.
func (w *Workflow) Subscribe(fn Listener) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextSub
	w.nextSub++
	w.listeners[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// Await blocks until the workflow is no longer Processing and returns the
// snapshot it settled in.
func (w *Workflow) Await(ctx context.Context) (Snapshot, error) {
	wake := make(chan struct{}, 1)
	unsubscribe := w.Subscribe(func(Snapshot) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		snap := w.Snapshot()
		if snap.State != StateProcessing {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-wake:
		}
	}
}

func (w *Workflow) run(ctx context.Context, gen uint64, uri string) {
	defer w.wg.Done()
	opLogger := logging.WithOperation(w.logger, "workflow.run", scanLabel(gen))

	last := len(w.phases) - 1
	for i := 0; i < last; i++ {
		if !w.enterPhase(gen, i) {
			return
		}
		if !sleep(ctx, w.phases[i].Duration) {
			opLogger.Debug("pacing cancelled", zap.String("phase", w.phases[i].ID))
			return
		}
	}

	var finalDelay time.Duration
	if last >= 0 {
		if !w.enterPhase(gen, last) {
			return
		}
		finalDelay = w.phases[last].Duration
	}

	outcomes := make(chan inference.Outcome, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		start := time.Now()
		out := inference.Run(w.baseCtx, w.client, uri)
		w.metrics.ObserveInference(time.Since(start), out.Err)
		outcomes <- out
	}()

	if !sleep(ctx, finalDelay) {
		opLogger.Debug("pacing cancelled while awaiting inference")
		return
	}

	select {
	case <-ctx.Done():
		opLogger.Info("discarding inference result after reset")
		return
	case out := <-outcomes:
		w.finish(gen, uri, out)
	}
}

func (w *Workflow) enterPhase(gen uint64, idx int) bool {
	w.mu.Lock()
	if w.generation != gen || w.state != StateProcessing {
		w.mu.Unlock()
		return false
	}
	w.phaseIdx = idx
	snap := w.snapshotLocked()
	listeners := w.listenerList()
	w.mu.Unlock()

	notify(listeners, snap)
	return true
}

// finish applies the inference outcome if the run is still current. The
// store write happens under the workflow lock so a concurrent Reset cannot
// interleave with it; store listeners must not call back into the workflow.
func (w *Workflow) finish(gen uint64, uri string, out inference.Outcome) {
	opLogger := logging.WithOperation(w.logger, "workflow.finish", scanLabel(gen))

	w.mu.Lock()
	if w.generation != gen || w.state != StateProcessing {
		w.mu.Unlock()
		opLogger.Info("discarding stale inference result")
		return
	}

	if out.Err != nil {
		w.failLocked(out.Err)
		snap := w.snapshotLocked()
		listeners := w.listenerList()
		w.mu.Unlock()

		opLogger.Warn("analysis failed", zap.String("kind", snap.Error.Kind), zap.Error(out.Err))
		w.metrics.ScanFinished(snap.Error.Kind)
		notify(listeners, snap)
		return
	}

	preds := w.normalizeTop(out.Predictions)
	results, err := w.store.Add(w.baseCtx, history.Candidate{ImageURI: uri, Predictions: preds})
	if err != nil {
		w.failLocked(err)
		snap := w.snapshotLocked()
		listeners := w.listenerList()
		w.mu.Unlock()

		opLogger.Warn("scan result not recorded", zap.String("kind", snap.Error.Kind), zap.Error(err))
		w.metrics.ScanFinished(snap.Error.Kind)
		notify(listeners, snap)
		return
	}

	result := results[0]
	w.state = StateComplete
	w.predictions = result.Predictions
	w.result = &result
	w.cancelPacing = nil
	snap := w.snapshotLocked()
	listeners := w.listenerList()
	w.mu.Unlock()

	opLogger.Info("analysis complete",
		zap.String("result_id", result.ID),
		zap.String("class", result.Top().ClassName),
		zap.Float64("confidence", result.Top().Probability),
	)
	w.metrics.ScanFinished(string(StateComplete))
	notify(listeners, snap)
}

// normalizeTop returns a copy of preds with the top entry's probability
// replaced by its display value.
func (w *Workflow) normalizeTop(preds []inference.Prediction) []inference.Prediction {
	out := append([]inference.Prediction(nil), preds...)
	if len(out) > 0 {
		out[0].Probability = w.normalizer.Normalize(out[0].Probability)
	}
	return out
}

func (w *Workflow) canAnalyzeLocked() bool {
	switch w.state {
	case StateImageSelected:
		return true
	case StateFailed:
		return w.imageURI != ""
	default:
		return false
	}
}

func (w *Workflow) failLocked(err error) {
	w.state = StateFailed
	w.failure = newFailure(err)
	w.predictions = nil
	w.result = nil
	w.cancelPacing = nil
}

func (w *Workflow) resetLocked() {
	if w.cancelPacing != nil {
		w.cancelPacing()
		w.cancelPacing = nil
	}
	w.generation++
	w.state = StateIdle
	w.phaseIdx = 0
	w.imageURI = ""
	w.predictions = nil
	w.result = nil
	w.failure = nil
}

func (w *Workflow) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      w.state,
		PhaseIndex: w.phaseIdx,
		PhaseCount: len(w.phases),
		ImageURI:   w.imageURI,
		Error:      w.failure,
	}
	if w.state == StateProcessing && w.phaseIdx < len(w.phases) {
		snap.Phase = w.phases[w.phaseIdx].ID
	}
	if len(w.predictions) > 0 {
		snap.Predictions = append([]inference.Prediction(nil), w.predictions...)
	}
	if w.result != nil {
		r := *w.result
		snap.Result = &r
	}
	return snap
}

func (w *Workflow) listenerList() []Listener {
	out := make([]Listener, 0, len(w.listeners))
	for _, l := range w.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, snap Snapshot) {
	for _, l := range listeners {
		l(snap)
	}
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func scanLabel(gen uint64) string {
	return "scan-" + strconv.FormatUint(gen, 10)
}
