// Package onnx narrows the ONNX Runtime binding to the primitives one
// embedding inference needs: int64 input tensor creation, session creation,
// and a single named-output run.
package onnx

// Config holds runtime initialization settings.
type Config struct {
	// LibraryPath points at the onnxruntime shared library. It is read once,
	// process-wide, before the environment is initialized; later values are
	// ignored.
	LibraryPath string
}

// Value is a named input tensor handed to Session.Run.
type Value struct {
	Name   string
	Tensor InputTensor
}

// InputTensor is a native input buffer. The creator owns it and must call
// Destroy exactly once.
type InputTensor interface {
	Destroy() error
}

// Tensor is a runtime-allocated output buffer with its reported shape.
type Tensor interface {
	Shape() []int64
	Floats() []float32
	Destroy() error
}

// Session is a loaded inference graph. Not safe for concurrent use; each
// worker owns exactly one.
type Session interface {
	// Run executes the graph with the given named inputs and returns the
	// tensor for outputName. The caller must destroy the returned tensor.
	Run(inputs []Value, outputName string) (Tensor, error)
	Destroy() error
}

// API exposes the runtime primitives used during one inference.
type API interface {
	NewInt64Tensor(shape []int64, data []int64) (InputTensor, error)
	NewSession(modelPath string) (Session, error)
}
