//go:build cgo
// +build cgo

package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment initializes the process-wide ONNX runtime environment.
// The library path is read only here; the first caller wins.
func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

type ortAPI struct {
	cfg Config
}

// NewAPI returns the onnxruntime-backed API. The environment is initialized
// lazily on first tensor or session creation.
func NewAPI(cfg Config) (API, error) {
	return &ortAPI{cfg: cfg}, nil
}

func (a *ortAPI) NewInt64Tensor(shape []int64, data []int64) (InputTensor, error) {
	if err := initEnvironment(a.cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	t, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, err
	}
	return &ortInput{tensor: t}, nil
}

func (a *ortAPI) NewSession(modelPath string) (Session, error) {
	if err := initEnvironment(a.cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return &ortSession{modelPath: modelPath}, nil
}

type ortInput struct {
	tensor *ort.Tensor[int64]
}

func (t *ortInput) Destroy() error { return t.tensor.Destroy() }

// ortSession creates the underlying DynamicAdvancedSession on first Run and
// reuses it while the input and output names stay the same. The binding fixes
// names at session creation, so a changed output name forces a rebuild.
type ortSession struct {
	modelPath string
	inner     *ort.DynamicAdvancedSession
	inputs    []string
	output    string
}

func (s *ortSession) Run(inputs []Value, outputName string) (Tensor, error) {
	names := make([]string, len(inputs))
	values := make([]ort.Value, len(inputs))
	for i, in := range inputs {
		ot, ok := in.Tensor.(*ortInput)
		if !ok {
			return nil, fmt.Errorf("input %q: foreign tensor type %T", in.Name, in.Tensor)
		}
		names[i] = in.Name
		values[i] = ot.tensor
	}
	if err := s.ensure(names, outputName); err != nil {
		return nil, err
	}
	// A nil output entry lets the runtime allocate the output tensor.
	outputs := []ort.Value{nil}
	if err := s.inner.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
		return nil, fmt.Errorf("output %q: runtime returned %T, want a float32 tensor", outputName, outputs[0])
	}
	return &ortOutput{tensor: out}, nil
}

func (s *ortSession) ensure(inputNames []string, outputName string) error {
	if s.inner != nil && s.output == outputName && equalNames(s.inputs, inputNames) {
		return nil
	}
	if s.inner != nil {
		_ = s.inner.Destroy()
		s.inner = nil
	}
	inner, err := ort.NewDynamicAdvancedSession(s.modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	s.inner = inner
	s.inputs = append([]string(nil), inputNames...)
	s.output = outputName
	return nil
}

func (s *ortSession) Destroy() error {
	if s.inner == nil {
		return nil
	}
	err := s.inner.Destroy()
	s.inner = nil
	return err
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type ortOutput struct {
	tensor *ort.Tensor[float32]
}

func (t *ortOutput) Shape() []int64    { return []int64(t.tensor.GetShape()) }
func (t *ortOutput) Floats() []float32 { return t.tensor.GetData() }
func (t *ortOutput) Destroy() error    { return t.tensor.Destroy() }
