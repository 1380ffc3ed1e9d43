// Package dispatch routes embedding inference requests either to a dedicated
// worker goroutine or to an injected platform call channel, selected once at
// Start time.
package dispatch

import (
	"context"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/umekomi/internal/metrics"
	"github.com/hyperjump/umekomi/internal/onnx"
	"github.com/hyperjump/umekomi/internal/tensor"
	"github.com/hyperjump/umekomi/internal/worker"
)

// CallChannel is the opaque asynchronous route used on targets without direct
// runtime linkage. A nil result with a nil error is treated as a failure.
type CallChannel interface {
	EmbedSequence(ctx context.Context, modelPath string, tokens []int64) ([]float32, error)
	EmbedBag(ctx context.Context, modelPath string, tokens []int64) ([]float32, error)
}

// Manager is the single entry point for inference callers. It owns the
// start/stop lifecycle of its route and tracks in-flight requests.
type Manager struct {
	logger    *zap.Logger
	platform  string
	channel   CallChannel
	queueSize int
	newAPI    func(onnx.Config) (onnx.API, error)
	spawn     func(worker.Config, *zap.Logger) *worker.Handle

	mu       sync.Mutex
	start    *startState
	strategy strategy
	variant  tensor.Variant
	inflight map[string]inflightRequest
}

// startState is shared by every caller awaiting one Start.
type startState struct {
	done chan struct{}
	err  error
}

type inflightRequest struct {
	modelPath string
	tokens    int
	since     time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCallChannel injects the platform call channel used on targets without
// direct runtime linkage.
func WithCallChannel(ch CallChannel) Option {
	return func(m *Manager) { m.channel = ch }
}

// WithPlatform overrides the detected operating system used for route
// selection.
func WithPlatform(goos string) Option {
	return func(m *Manager) { m.platform = goos }
}

// WithQueueSize sets the worker inbox capacity.
func WithQueueSize(n int) Option {
	return func(m *Manager) { m.queueSize = n }
}

// WithAPIFactory overrides how the worker obtains its runtime API.
func WithAPIFactory(f func(onnx.Config) (onnx.API, error)) Option {
	return func(m *Manager) { m.newAPI = f }
}

// NewManager creates a stopped manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:   zap.NewNop(),
		platform: goruntime.GOOS,
		newAPI:   onnx.NewAPI,
		spawn:    worker.Spawn,
		inflight: make(map[string]inflightRequest),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start prepares the request route for variant. It is idempotent and safe to
// call concurrently: every caller awaits the one in-flight start and shares
// its result, so at most one worker is ever spawned. A failed start stays
// failed until Stop resets the manager.
func (m *Manager) Start(ctx context.Context, variant tensor.Variant) error {
	m.mu.Lock()
	if st := m.start; st != nil {
		m.mu.Unlock()
		select {
		case <-st.done:
			return st.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	st := &startState{done: make(chan struct{})}
	m.start = st
	m.variant = variant
	m.mu.Unlock()

	s, err := m.buildStrategy(variant)

	m.mu.Lock()
	if m.start == st {
		m.strategy = s
	} else if s != nil {
		// Stopped while starting; the fresh route is discarded.
		defer s.stop()
	}
	st.err = err
	m.mu.Unlock()
	close(st.done)
	return err
}

func (m *Manager) buildStrategy(variant tensor.Variant) (strategy, error) {
	if worker.ChannelOnly(m.platform) {
		if m.channel == nil {
			return nil, ErrNoCallChannel
		}
		m.logger.Info("dispatch ready",
			zap.String("route", "channel"),
			zap.String("variant", string(variant)),
		)
		return &channelStrategy{channel: m.channel, variant: variant}, nil
	}
	h := m.spawn(worker.Config{
		Variant:   variant,
		QueueSize: m.queueSize,
		Platform:  m.platform,
		NewAPI:    m.newAPI,
	}, m.logger)
	m.logger.Info("dispatch ready",
		zap.String("route", "worker"),
		zap.String("variant", string(variant)),
	)
	return &workerStrategy{handle: h}, nil
}

// SendInference runs one inference and returns the flat embedding. It fails
// with ErrNotStarted until Start has completed. The call blocks until the
// reply arrives or ctx is done; no timeout is applied here — callers bound
// their wait through ctx.
func (m *Manager) SendInference(ctx context.Context, modelPath string, tokens []int64, opts ...InferOption) ([]float32, error) {
	m.mu.Lock()
	st := m.start
	var started bool
	if st != nil {
		select {
		case <-st.done:
			started = true
		default:
		}
	}
	s := m.strategy
	variant := m.variant
	m.mu.Unlock()

	if !started {
		return nil, ErrNotStarted
	}
	if st.err != nil {
		return nil, st.err
	}
	if s == nil {
		return nil, ErrNotStarted
	}

	req := &request{modelPath: modelPath, tokens: tokens}
	for _, opt := range opts {
		opt(req)
	}

	id := uuid.NewString()
	m.track(id, req)
	defer m.untrack(id)

	begin := time.Now()
	emb, err := s.infer(ctx, req)
	metrics.InferenceDuration.WithLabelValues(string(variant)).Observe(time.Since(begin).Seconds())
	if err != nil {
		metrics.InferencesTotal.WithLabelValues(string(variant), "error").Inc()
		m.logger.Warn("inference failed",
			zap.String("request_id", id),
			zap.String("model", modelPath),
			zap.Error(err),
		)
		return nil, err
	}
	metrics.InferencesTotal.WithLabelValues(string(variant), "ok").Inc()
	return emb, nil
}

// Stop sends a best-effort shutdown to the worker, kills it immediately and
// resets the manager so a later Start spawns a fresh worker. Safe to call at
// any time, including before the first Start. Requests still in flight may
// never receive a reply.
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.strategy
	m.strategy = nil
	m.start = nil
	m.mu.Unlock()
	if s != nil {
		s.stop()
		m.logger.Info("dispatch stopped")
	}
}

// InFlight returns the number of requests currently awaiting replies.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *Manager) track(id string, req *request) {
	m.mu.Lock()
	m.inflight[id] = inflightRequest{
		modelPath: req.modelPath,
		tokens:    len(req.tokens),
		since:     time.Now(),
	}
	m.mu.Unlock()
	metrics.InflightInferences.Inc()
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
	metrics.InflightInferences.Dec()
}
