package tensor

import (
	"errors"
	"testing"

	"github.com/hyperjump/umekomi/internal/onnx"
)

func newSession(t *testing.T, api *onnx.MockAPI) onnx.Session {
	t.Helper()
	sess, err := api.NewSession("model.onnx")
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestInfer_SequenceInputs(t *testing.T) {
	api := &onnx.MockAPI{}
	sess := newSession(t, api)
	tokens := []int64{101, 2023, 2003, 102}

	emb, err := Infer(api, sess, VariantSequence, tokens, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(emb) != len(tokens) {
		t.Errorf("embedding length = %d, want %d", len(emb), len(tokens))
	}

	calls := api.Sessions()[0].Calls
	if len(calls) != 1 {
		t.Fatalf("Run called %d times, want 1", len(calls))
	}
	call := calls[0]
	if call.OutputName != DefaultOutputName {
		t.Errorf("output name = %q, want %q", call.OutputName, DefaultOutputName)
	}
	if len(call.Inputs) != 3 {
		t.Fatalf("got %d inputs, want 3", len(call.Inputs))
	}
	wantOrder := []string{"input_ids", "token_type_ids", "attention_mask"}
	for i, name := range wantOrder {
		if call.Inputs[i].Name != name {
			t.Errorf("input %d name = %q, want %q", i, call.Inputs[i].Name, name)
		}
		if len(call.Inputs[i].Data) != len(tokens) {
			t.Errorf("input %q length = %d, want %d", name, len(call.Inputs[i].Data), len(tokens))
		}
		if got := call.Inputs[i].Shape; len(got) != 2 || got[0] != 1 || got[1] != int64(len(tokens)) {
			t.Errorf("input %q shape = %v, want [1 %d]", name, got, len(tokens))
		}
	}
	for i, v := range call.Inputs[1].Data {
		if v != 0 {
			t.Errorf("token_type_ids[%d] = %d, want 0", i, v)
		}
	}
	for i, v := range call.Inputs[2].Data {
		if v != 1 {
			t.Errorf("attention_mask[%d] = %d, want 1", i, v)
		}
	}
}

func TestInfer_BagInputs(t *testing.T) {
	api := &onnx.MockAPI{}
	sess := newSession(t, api)
	tokens := []int64{7, 8, 9, 10, 11}

	if _, err := Infer(api, sess, VariantBag, tokens, ""); err != nil {
		t.Fatal(err)
	}

	call := api.Sessions()[0].Calls[0]
	if len(call.Inputs) != 2 {
		t.Fatalf("got %d run inputs, want 2", len(call.Inputs))
	}
	if call.Inputs[0].Name != "input_ids" || call.Inputs[1].Name != "offsets" {
		t.Errorf("input names = %q, %q; want input_ids, offsets", call.Inputs[0].Name, call.Inputs[1].Name)
	}
	if got := call.Inputs[0].Shape; len(got) != 1 || got[0] != int64(len(tokens)) {
		t.Errorf("input_ids shape = %v, want [%d]", got, len(tokens))
	}
	offsets := call.Inputs[1]
	if len(offsets.Shape) != 1 || offsets.Shape[0] != 1 {
		t.Errorf("offsets shape = %v, want [1]", offsets.Shape)
	}
	if len(offsets.Data) != 1 || offsets.Data[0] != 0 {
		t.Errorf("offsets data = %v, want [0]", offsets.Data)
	}
}

func TestInfer_OutputNameOverride(t *testing.T) {
	api := &onnx.MockAPI{}
	sess := newSession(t, api)

	if _, err := Infer(api, sess, VariantSequence, []int64{1, 2}, "sentence_embedding"); err != nil {
		t.Fatal(err)
	}
	if got := api.Sessions()[0].Calls[0].OutputName; got != "sentence_embedding" {
		t.Errorf("output name = %q, want sentence_embedding", got)
	}
}

func TestInfer_ReleasesResources(t *testing.T) {
	api := &onnx.MockAPI{}
	sess := newSession(t, api)

	if _, err := Infer(api, sess, VariantSequence, []int64{1, 2, 3}, ""); err != nil {
		t.Fatal(err)
	}
	if n := api.LiveTensors(); n != 0 {
		t.Errorf("after success: %d live tensors, want 0", n)
	}

	api.RunFunc = func(string, []onnx.MockValue, string) (*onnx.MockTensor, error) {
		return nil, errors.New("run exploded")
	}
	if _, err := Infer(api, sess, VariantBag, []int64{4, 5}, ""); err == nil {
		t.Fatal("expected run error")
	}
	if n := api.LiveTensors(); n != 0 {
		t.Errorf("after failure: %d live tensors, want 0", n)
	}
}

func TestInfer_EmptyTokens(t *testing.T) {
	api := &onnx.MockAPI{}
	sess := newSession(t, api)
	if _, err := Infer(api, sess, VariantSequence, nil, ""); err == nil {
		t.Fatal("expected error for empty token sequence")
	}
}

func TestExtract_SupportedRanks(t *testing.T) {
	values := []float32{0.1, 0.2, 0.3, 0.4}
	shapes := [][]int64{
		{4},
		{1, 4},
		{1, 1, 4},
	}
	for _, shape := range shapes {
		out := &onnx.MockTensor{ShapeV: shape, Data: values}
		emb, err := Extract(out, DefaultOutputName)
		if err != nil {
			t.Fatalf("shape %v: %v", shape, err)
		}
		if len(emb) != len(values) {
			t.Fatalf("shape %v: length = %d, want %d", shape, len(emb), len(values))
		}
		for i := range values {
			if emb[i] != values[i] {
				t.Errorf("shape %v: emb[%d] = %v, want %v", shape, i, emb[i], values[i])
			}
		}
	}
}

func TestExtract_MultiRowTakesFirst(t *testing.T) {
	out := &onnx.MockTensor{ShapeV: []int64{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}}
	emb, err := Extract(out, DefaultOutputName)
	if err != nil {
		t.Fatal(err)
	}
	if len(emb) != 3 || emb[0] != 1 || emb[2] != 3 {
		t.Errorf("emb = %v, want [1 2 3]", emb)
	}
}

func TestExtract_UnsupportedShape(t *testing.T) {
	out := &onnx.MockTensor{ShapeV: []int64{1, 1, 1, 4}, Data: []float32{1, 2, 3, 4}}
	_, err := Extract(out, "pooled_output")
	if err == nil {
		t.Fatal("expected shape error")
	}
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("error type = %T, want *ShapeError", err)
	}
	if shapeErr.Output != "pooled_output" {
		t.Errorf("Output = %q, want pooled_output", shapeErr.Output)
	}
}

func TestParseVariant(t *testing.T) {
	if v, err := ParseVariant(""); err != nil || v != VariantSequence {
		t.Errorf("ParseVariant(\"\") = %v, %v", v, err)
	}
	if v, err := ParseVariant("bag"); err != nil || v != VariantBag {
		t.Errorf("ParseVariant(bag) = %v, %v", v, err)
	}
	if _, err := ParseVariant("nope"); err == nil {
		t.Error("expected error for unknown variant")
	}
}
