package onnx

import (
	"errors"
	"fmt"
	"sync"
)

// MockAPI is an in-memory API for tests. Runs are served by RunFunc (default:
// echo the first input's data as float32 with shape [1, n]); tensor and
// session lifecycles are recorded so tests can assert that every resource is
// destroyed exactly once.
type MockAPI struct {
	mu sync.Mutex

	// RunFunc produces the output tensor for a session run. Inputs are
	// snapshots taken at Run time.
	RunFunc func(modelPath string, inputs []MockValue, outputName string) (*MockTensor, error)
	// TensorErr, when set, fails the next NewInt64Tensor call.
	TensorErr error
	// SessionErr, when set, fails NewSession.
	SessionErr error

	sessions []*MockSession
	tensors  []*MockInput
	outputs  []*MockTensor
}

// MockValue is a snapshot of one named input at Run time.
type MockValue struct {
	Name  string
	Shape []int64
	Data  []int64
}

func (m *MockAPI) NewInt64Tensor(shape []int64, data []int64) (InputTensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TensorErr != nil {
		err := m.TensorErr
		m.TensorErr = nil
		return nil, err
	}
	t := &MockInput{
		ShapeV: append([]int64(nil), shape...),
		Data:   append([]int64(nil), data...),
	}
	m.tensors = append(m.tensors, t)
	return t, nil
}

func (m *MockAPI) NewSession(modelPath string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SessionErr != nil {
		return nil, m.SessionErr
	}
	s := &MockSession{ModelPath: modelPath, api: m}
	m.sessions = append(m.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (m *MockAPI) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockSession(nil), m.sessions...)
}

// LiveTensors returns the number of created but not yet destroyed tensors,
// inputs and outputs combined.
func (m *MockAPI) LiveTensors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tensors {
		if !t.destroyed {
			n++
		}
	}
	for _, t := range m.outputs {
		if !t.destroyed {
			n++
		}
	}
	return n
}

func (m *MockAPI) run(s *MockSession, inputs []Value, outputName string) (Tensor, error) {
	snapshots := make([]MockValue, len(inputs))
	for i, in := range inputs {
		mt, ok := in.Tensor.(*MockInput)
		if !ok {
			return nil, fmt.Errorf("input %q: foreign tensor type %T", in.Name, in.Tensor)
		}
		snapshots[i] = MockValue{
			Name:  in.Name,
			Shape: append([]int64(nil), mt.ShapeV...),
			Data:  append([]int64(nil), mt.Data...),
		}
	}
	m.mu.Lock()
	s.Calls = append(s.Calls, MockCall{Inputs: snapshots, OutputName: outputName})
	runFn := m.RunFunc
	m.mu.Unlock()

	var out *MockTensor
	var err error
	if runFn != nil {
		out, err = runFn(s.ModelPath, snapshots, outputName)
	} else {
		out, err = echoRun(snapshots)
	}
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.outputs = append(m.outputs, out)
	m.mu.Unlock()
	return out, nil
}

// echoRun turns the first input's data into a [1, n] float32 output, so a
// reply can be matched back to the request that produced it.
func echoRun(inputs []MockValue) (*MockTensor, error) {
	if len(inputs) == 0 {
		return nil, errors.New("mock run: no inputs")
	}
	data := make([]float32, len(inputs[0].Data))
	for i, v := range inputs[0].Data {
		data[i] = float32(v)
	}
	return &MockTensor{ShapeV: []int64{1, int64(len(data))}, Data: data}, nil
}

// MockInput records one created input tensor.
type MockInput struct {
	ShapeV []int64
	Data   []int64

	destroyed bool
}

func (t *MockInput) Destroy() error {
	if t.destroyed {
		return errors.New("mock tensor destroyed twice")
	}
	t.destroyed = true
	return nil
}

// MockCall records one session run.
type MockCall struct {
	Inputs     []MockValue
	OutputName string
}

// MockSession records runs against one model path.
type MockSession struct {
	ModelPath string
	Calls     []MockCall

	api       *MockAPI
	destroyed bool
}

func (s *MockSession) Run(inputs []Value, outputName string) (Tensor, error) {
	return s.api.run(s, inputs, outputName)
}

func (s *MockSession) Destroy() error {
	if s.destroyed {
		return errors.New("mock session destroyed twice")
	}
	s.destroyed = true
	return nil
}

// MockTensor is an output tensor with a fixed shape and data.
type MockTensor struct {
	ShapeV []int64
	Data   []float32

	destroyed bool
}

func (t *MockTensor) Shape() []int64    { return t.ShapeV }
func (t *MockTensor) Floats() []float32 { return t.Data }

func (t *MockTensor) Destroy() error {
	if t.destroyed {
		return errors.New("mock tensor destroyed twice")
	}
	t.destroyed = true
	return nil
}

// Destroyed reports whether Destroy has been called.
func (t *MockTensor) Destroyed() bool { return t.destroyed }
