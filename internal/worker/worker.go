// Package worker runs embedding inference on a dedicated goroutine that
// exclusively owns one runtime session. All communication is by message
// passing: callers post requests to the worker's inbox and every request
// carries its own reply channel.
package worker

import (
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/umekomi/internal/onnx"
	"github.com/hyperjump/umekomi/internal/tensor"
)

// ErrWrongPlatform is replied to every request when the worker runs on a
// target without direct runtime linkage; those targets must use the platform
// call channel instead.
var ErrWrongPlatform = errors.New("embedding worker unavailable on this platform; use the platform call channel")

// ChannelOnly reports whether goos must route embedding requests through the
// platform call channel instead of a worker.
func ChannelOnly(goos string) bool {
	return goos == "android" || goos == "ios"
}

// Request asks the worker for one inference. Reply must have capacity for one
// value; the worker sends exactly one Reply per request.
type Request struct {
	Reply      chan Reply
	ModelPath  string
	Tokens     []int64
	OutputName string // "" requests tensor.DefaultOutputName
	// LibraryPath optionally points the runtime at a specific onnxruntime
	// shared library. Read only while the worker creates its first session.
	LibraryPath string
}

// Reply is the single response to a Request: an embedding or an error.
type Reply struct {
	Embedding []float32
	Err       error
}

// message is the closed set of inbox payloads.
type message interface{ isMessage() }

type requestMsg struct{ req *Request }

type shutdownMsg struct{}

func (requestMsg) isMessage()  {}
func (shutdownMsg) isMessage() {}

// Config configures a spawned worker.
type Config struct {
	Variant tensor.Variant
	// QueueSize is the inbox capacity. Defaults to 64.
	QueueSize int
	// Platform defaults to runtime.GOOS.
	Platform string
	// NewAPI defaults to onnx.NewAPI.
	NewAPI func(onnx.Config) (onnx.API, error)
}

// Handle is the caller side of a spawned worker.
type Handle struct {
	inbox    chan<- message
	kill     chan struct{}
	killOnce sync.Once
}

// Spawn starts the worker goroutine and blocks until it has reported its
// inbox channel.
func Spawn(cfg Config, logger *zap.Logger) *Handle {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Platform == "" {
		cfg.Platform = goruntime.GOOS
	}
	if cfg.NewAPI == nil {
		cfg.NewAPI = onnx.NewAPI
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &worker{cfg: cfg, logger: logger, session: &sessionCache{}}
	h := &Handle{kill: make(chan struct{})}
	ready := make(chan chan message)
	go w.run(ready, h)
	h.inbox = <-ready
	return h
}

// Post queues a request, blocking while the inbox is full. It returns false
// if the worker was killed instead.
func (h *Handle) Post(req *Request) bool {
	select {
	case h.inbox <- requestMsg{req: req}:
		return true
	case <-h.kill:
		return false
	}
}

// Shutdown queues the shutdown sentinel without waiting. Requests already
// queued ahead of it are still served.
func (h *Handle) Shutdown() {
	select {
	case h.inbox <- shutdownMsg{}:
	default:
	}
}

// Kill abandons the worker at its next select. Queued requests are dropped
// and their callers never receive a reply.
func (h *Handle) Kill() {
	h.killOnce.Do(func() { close(h.kill) })
}

type worker struct {
	cfg     Config
	logger  *zap.Logger
	session *sessionCache
}

func (w *worker) run(ready chan<- chan message, h *Handle) {
	// The goroutine exits only through Kill, so Post never blocks on a dead
	// worker.
	defer h.Kill()

	inbox := make(chan message, w.cfg.QueueSize)
	ready <- inbox

	for {
		select {
		case <-h.kill:
			return
		case msg := <-inbox:
			if w.handleMessage(msg) {
				return
			}
		}
	}
}

// handleMessage processes one inbox message and reports whether the worker
// should terminate.
func (w *worker) handleMessage(msg message) bool {
	switch m := msg.(type) {
	case requestMsg:
		m.req.Reply <- w.serve(m.req)
		return false
	case shutdownMsg:
		w.session.release()
		w.logger.Debug("worker shut down", zap.String("variant", string(w.cfg.Variant)))
		return true
	default:
		w.logger.Error("worker received unknown message", zap.String("type", fmt.Sprintf("%T", msg)))
		panic(fmt.Sprintf("worker: unknown message type %T", msg))
	}
}

// serve runs one inference. Every failure comes back as the reply value; the
// worker survives any request-level error.
func (w *worker) serve(req *Request) Reply {
	if ChannelOnly(w.cfg.Platform) {
		return Reply{Err: ErrWrongPlatform}
	}
	sess, err := w.session.get(w.cfg, req)
	if err != nil {
		w.logger.Warn("session creation failed", zap.String("model", req.ModelPath), zap.Error(err))
		return Reply{Err: err}
	}
	emb, err := tensor.Infer(w.session.api, sess, w.cfg.Variant, req.Tokens, req.OutputName)
	if err != nil {
		w.logger.Warn("inference failed", zap.String("model", req.ModelPath), zap.Error(err))
		return Reply{Err: err}
	}
	return Reply{Embedding: emb}
}
