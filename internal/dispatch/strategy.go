package dispatch

import (
	"context"
	"fmt"

	"github.com/hyperjump/umekomi/internal/tensor"
	"github.com/hyperjump/umekomi/internal/worker"
)

// request carries one inference through a strategy.
type request struct {
	modelPath   string
	tokens      []int64
	outputName  string
	libraryPath string
}

// InferOption adjusts one SendInference call.
type InferOption func(*request)

// WithOutputName overrides the requested output tensor name. The default is
// tensor.DefaultOutputName.
func WithOutputName(name string) InferOption {
	return func(r *request) { r.outputName = name }
}

// WithLibraryPath points the runtime at a specific onnxruntime shared
// library. It is read once, before the worker's first session is created.
func WithLibraryPath(path string) InferOption {
	return func(r *request) { r.libraryPath = path }
}

// strategy is the per-platform request route, fixed at Start.
type strategy interface {
	infer(ctx context.Context, req *request) ([]float32, error)
	stop()
}

// workerStrategy sends requests to the worker goroutine and awaits exactly
// one reply per request on a private channel.
type workerStrategy struct {
	handle *worker.Handle
}

func (s *workerStrategy) infer(ctx context.Context, req *request) ([]float32, error) {
	reply := make(chan worker.Reply, 1)
	posted := s.handle.Post(&worker.Request{
		Reply:       reply,
		ModelPath:   req.modelPath,
		Tokens:      req.tokens,
		OutputName:  req.outputName,
		LibraryPath: req.libraryPath,
	})
	if !posted {
		return nil, ErrNotStarted
	}
	select {
	case r := <-reply:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Embedding == nil {
			return nil, ErrUnknownReply
		}
		return r.Embedding, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *workerStrategy) stop() {
	s.handle.Shutdown()
	s.handle.Kill()
}

// channelStrategy forwards requests to the platform call channel. No session
// state lives on this side; the channel's backing implementation owns any
// serialization.
type channelStrategy struct {
	channel CallChannel
	variant tensor.Variant
}

func (s *channelStrategy) infer(ctx context.Context, req *request) ([]float32, error) {
	var emb []float32
	var err error
	switch s.variant {
	case tensor.VariantBag:
		emb, err = s.channel.EmbedBag(ctx, req.modelPath, req.tokens)
	default:
		emb, err = s.channel.EmbedSequence(ctx, req.modelPath, req.tokens)
	}
	if err != nil {
		return nil, fmt.Errorf("platform channel call failed: %w", err)
	}
	if emb == nil {
		return nil, ErrNullChannelResult
	}
	return emb, nil
}

func (s *channelStrategy) stop() {}
