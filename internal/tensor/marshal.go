// Package tensor builds the native input tensors for one embedding inference
// and extracts the flat embedding vector from the runtime's output tensor.
package tensor

import (
	"errors"
	"fmt"

	"github.com/hyperjump/umekomi/internal/onnx"
)

// Variant selects which embedding-model input convention to use.
type Variant string

const (
	// VariantSequence feeds transformer-style models taking input_ids,
	// token_type_ids and attention_mask, each shaped [1, n].
	VariantSequence Variant = "sequence"
	// VariantBag feeds bag-of-words models taking input_ids shaped [n] and a
	// single-element offsets tensor shaped [1].
	VariantBag Variant = "bag"
)

// DefaultOutputName is the output tensor requested when no override is given.
const DefaultOutputName = "last_hidden_state"

// ParseVariant parses a config string into a Variant. Empty means sequence.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantSequence, "":
		return VariantSequence, nil
	case VariantBag:
		return VariantBag, nil
	default:
		return "", fmt.Errorf("unknown variant: %s (supported: sequence, bag)", s)
	}
}

// releaser collects Destroy calls so every acquired native resource is
// released exactly once, on every exit path.
type releaser struct {
	fns []func() error
}

func (r *releaser) add(f func() error) { r.fns = append(r.fns, f) }

func (r *releaser) release() {
	for i := len(r.fns) - 1; i >= 0; i-- {
		_ = r.fns[i]()
	}
	r.fns = nil
}

// Infer builds the variant's input tensors, runs the session once and returns
// the flat embedding. An empty outputName requests DefaultOutputName.
func Infer(api onnx.API, sess onnx.Session, variant Variant, tokens []int64, outputName string) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, errors.New("empty token sequence")
	}
	if outputName == "" {
		outputName = DefaultOutputName
	}

	rel := &releaser{}
	defer rel.release()

	inputs, err := buildInputs(api, rel, variant, tokens)
	if err != nil {
		return nil, err
	}
	out, err := sess.Run(inputs, outputName)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	rel.add(out.Destroy)
	return Extract(out, outputName)
}

func buildInputs(api onnx.API, rel *releaser, variant Variant, tokens []int64) ([]onnx.Value, error) {
	newTensor := func(name string, shape []int64, data []int64) (onnx.InputTensor, error) {
		t, err := api.NewInt64Tensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		rel.add(t.Destroy)
		return t, nil
	}

	n := int64(len(tokens))
	switch variant {
	case VariantSequence:
		ids, err := newTensor("input_ids", []int64{1, n}, tokens)
		if err != nil {
			return nil, err
		}
		types, err := newTensor("token_type_ids", []int64{1, n}, zeros(len(tokens)))
		if err != nil {
			return nil, err
		}
		mask, err := newTensor("attention_mask", []int64{1, n}, ones(len(tokens)))
		if err != nil {
			return nil, err
		}
		// Input order is fixed by the exported model graphs.
		return []onnx.Value{
			{Name: "input_ids", Tensor: ids},
			{Name: "token_type_ids", Tensor: types},
			{Name: "attention_mask", Tensor: mask},
		}, nil
	case VariantBag:
		ids, err := newTensor("input_ids", []int64{n}, tokens)
		if err != nil {
			return nil, err
		}
		// The mask is built and released like the other tensors but the bag
		// graphs do not take it as an input.
		if _, err := newTensor("attention_mask", []int64{n}, ones(len(tokens))); err != nil {
			return nil, err
		}
		offsets, err := newTensor("offsets", []int64{1}, []int64{0})
		if err != nil {
			return nil, err
		}
		return []onnx.Value{
			{Name: "input_ids", Tensor: ids},
			{Name: "offsets", Tensor: offsets},
		}, nil
	default:
		return nil, fmt.Errorf("unknown variant: %s", variant)
	}
}

func ones(n int) []int64 {
	v := make([]int64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func zeros(n int) []int64 {
	return make([]int64, n)
}

// ShapeError reports an output tensor whose reported shape does not match any
// supported embedding layout.
type ShapeError struct {
	Output string
	Shape  []int64
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("output %q: unsupported float32 tensor shape %v (supported: [n], [batch hidden], [batch seq hidden])",
		e.Output, e.Shape)
}

// Extract flattens an output tensor of rank 1, 2 or 3 into one embedding
// vector: a rank-1 output is used whole, rank 2 takes the first batch row,
// rank 3 the first token of the first batch.
func Extract(out onnx.Tensor, outputName string) ([]float32, error) {
	shape := out.Shape()
	data := out.Floats()

	var n int
	switch len(shape) {
	case 1:
		n = int(shape[0])
	case 2:
		n = int(shape[1])
	case 3:
		n = int(shape[2])
	default:
		return nil, &ShapeError{Output: outputName, Shape: append([]int64(nil), shape...)}
	}
	if n < 0 || n > len(data) {
		return nil, &ShapeError{Output: outputName, Shape: append([]int64(nil), shape...)}
	}

	emb := make([]float32, n)
	copy(emb, data[:n])
	return emb, nil
}
