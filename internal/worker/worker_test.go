package worker

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/umekomi/internal/onnx"
	"github.com/hyperjump/umekomi/internal/tensor"
)

func spawnWithMock(t *testing.T, api *onnx.MockAPI, platform string) *Handle {
	t.Helper()
	h := Spawn(Config{
		Variant:  tensor.VariantSequence,
		Platform: platform,
		NewAPI: func(onnx.Config) (onnx.API, error) {
			return api, nil
		},
	}, zap.NewNop())
	t.Cleanup(h.Kill)
	return h
}

func awaitReply(t *testing.T, ch chan Reply) Reply {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
		return Reply{}
	}
}

func TestWorker_RequestReply(t *testing.T) {
	api := &onnx.MockAPI{}
	h := spawnWithMock(t, api, "linux")

	reply := make(chan Reply, 1)
	tokens := []int64{5, 6, 7}
	if !h.Post(&Request{Reply: reply, ModelPath: "model.onnx", Tokens: tokens}) {
		t.Fatal("Post returned false")
	}
	r := awaitReply(t, reply)
	if r.Err != nil {
		t.Fatal(r.Err)
	}
	if len(r.Embedding) != len(tokens) {
		t.Fatalf("embedding length = %d, want %d", len(r.Embedding), len(tokens))
	}
	for i, tok := range tokens {
		if r.Embedding[i] != float32(tok) {
			t.Errorf("embedding[%d] = %v, want %v", i, r.Embedding[i], float32(tok))
		}
	}
}

func TestWorker_ErrorReplyKeepsWorkerAlive(t *testing.T) {
	api := &onnx.MockAPI{}
	api.RunFunc = func(_ string, inputs []onnx.MockValue, _ string) (*onnx.MockTensor, error) {
		if inputs[0].Data[0] == 13 {
			return nil, errors.New("unlucky tokens")
		}
		data := make([]float32, len(inputs[0].Data))
		for i, v := range inputs[0].Data {
			data[i] = float32(v)
		}
		return &onnx.MockTensor{ShapeV: []int64{1, int64(len(data))}, Data: data}, nil
	}
	h := spawnWithMock(t, api, "linux")

	bad := make(chan Reply, 1)
	h.Post(&Request{Reply: bad, ModelPath: "model.onnx", Tokens: []int64{13}})
	if r := awaitReply(t, bad); r.Err == nil {
		t.Fatal("expected error reply")
	}

	good := make(chan Reply, 1)
	h.Post(&Request{Reply: good, ModelPath: "model.onnx", Tokens: []int64{1, 2}})
	if r := awaitReply(t, good); r.Err != nil {
		t.Fatalf("worker did not survive the failed request: %v", r.Err)
	}
}

func TestWorker_SessionCreatedOnce(t *testing.T) {
	api := &onnx.MockAPI{}
	var libraryPaths []string
	h := Spawn(Config{
		Variant: tensor.VariantSequence,
		NewAPI: func(cfg onnx.Config) (onnx.API, error) {
			libraryPaths = append(libraryPaths, cfg.LibraryPath)
			return api, nil
		},
		Platform: "linux",
	}, nil)
	t.Cleanup(h.Kill)

	for _, lib := range []string{"first.so", "second.so"} {
		reply := make(chan Reply, 1)
		h.Post(&Request{Reply: reply, ModelPath: "model.onnx", Tokens: []int64{1}, LibraryPath: lib})
		if r := awaitReply(t, reply); r.Err != nil {
			t.Fatal(r.Err)
		}
	}

	if n := len(api.Sessions()); n != 1 {
		t.Errorf("sessions created = %d, want 1", n)
	}
	if len(libraryPaths) != 1 || libraryPaths[0] != "first.so" {
		t.Errorf("library paths applied = %v, want [first.so]", libraryPaths)
	}
}

func TestWorker_WrongPlatform(t *testing.T) {
	api := &onnx.MockAPI{}
	h := spawnWithMock(t, api, "ios")

	reply := make(chan Reply, 1)
	h.Post(&Request{Reply: reply, ModelPath: "model.onnx", Tokens: []int64{1}})
	r := awaitReply(t, reply)
	if !errors.Is(r.Err, ErrWrongPlatform) {
		t.Fatalf("err = %v, want ErrWrongPlatform", r.Err)
	}
	if len(api.Sessions()) != 0 {
		t.Error("no session should be created on a call-channel platform")
	}
}

func TestWorker_ShutdownStopsLoop(t *testing.T) {
	api := &onnx.MockAPI{}
	h := spawnWithMock(t, api, "linux")

	h.Shutdown()

	// Once the shutdown message is processed the kill channel closes and
	// Post reports the worker as gone.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-h.kill:
			if h.Post(&Request{Reply: make(chan Reply, 1), Tokens: []int64{1}}) {
				t.Fatal("Post succeeded after shutdown")
			}
			return
		case <-deadline:
			t.Fatal("worker did not shut down")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestWorker_UnknownMessagePanics(t *testing.T) {
	w := &worker{cfg: Config{Platform: "linux"}, logger: zap.NewNop(), session: &sessionCache{}}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unknown message type")
		}
	}()
	w.handleMessage(bogusMsg{})
}

type bogusMsg struct{}

func (bogusMsg) isMessage() {}

func TestChannelOnly(t *testing.T) {
	for goos, want := range map[string]bool{"android": true, "ios": true, "linux": false, "darwin": false} {
		if got := ChannelOnly(goos); got != want {
			t.Errorf("ChannelOnly(%q) = %v, want %v", goos, got, want)
		}
	}
}
