package infer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockInferenceServer implements the wire protocol: JSON control frames,
// little-endian float32 binary tensor frames.
type mockInferenceServer struct {
	t        *testing.T
	failLoad bool
	failRun  bool
}

func (m *mockInferenceServer) handler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.t.Errorf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Type    string `json:"type"`
			Path    string `json:"path"`
			Tensors []struct {
				Name string  `json:"name"`
				Dims []int64 `json:"dims"`
			} `json:"tensors"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			m.t.Errorf("malformed control frame: %v", err)
			return
		}

		switch req.Type {
		case "load":
			if m.failLoad {
				conn.WriteJSON(map[string]string{"type": "error", "message": "model not found"})
				continue
			}
			conn.WriteJSON(map[string]interface{}{
				"type":          "model",
				"input_name":    "input",
				"output_names":  []string{"scores", "boxes"},
				"input_shape":   []int64{1, 3, 300, 300},
				"output_format": "split",
			})

		case "run":
			// Consume one binary frame per declared input tensor.
			for _, meta := range req.Tensors {
				msgType, payload, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if msgType != websocket.BinaryMessage {
					m.t.Errorf("tensor %q arrived as a text frame", meta.Name)
					return
				}
				want := 1
				for _, d := range meta.Dims {
					want *= int(d)
				}
				if len(payload) != want*4 {
					m.t.Errorf("tensor %q payload is %d bytes, want %d", meta.Name, len(payload), want*4)
				}
			}

			if m.failRun {
				conn.WriteJSON(map[string]string{"type": "error", "message": "worker crashed"})
				continue
			}

			conn.WriteJSON(map[string]interface{}{
				"type": "result",
				"tensors": []map[string]interface{}{
					{"name": "scores", "dims": []int64{1, 1, 3}},
					{"name": "boxes", "dims": []int64{1, 1, 4}},
				},
			})
			writeFloats(conn, []float32{0.0, 0.1, 0.9})
			writeFloats(conn, []float32{0.1, 0.2, 0.3, 0.4})
		}
	}
}

func writeFloats(conn *websocket.Conn, values []float32) {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	conn.WriteMessage(websocket.BinaryMessage, buf)
}

func startMockServer(t *testing.T, mock *mockInferenceServer) *RemoteBackend {
	t.Helper()
	mock.t = t

	ts := httptest.NewServer(http.HandlerFunc(mock.handler))
	t.Cleanup(ts.Close)

	backend := NewRemoteBackend(RemoteConfig{
		URL:    "ws" + strings.TrimPrefix(ts.URL, "http"),
		Logger: testLogger(),
	})
	if err := backend.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestRemoteLoadModel(t *testing.T) {
	backend := startMockServer(t, &mockInferenceServer{})

	info, err := backend.LoadModel(context.Background(), "models/ssd.onnx")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if info.InputName != "input" {
		t.Errorf("input name = %q, want %q", info.InputName, "input")
	}
	if info.OutputFormat != OutputSplit {
		t.Errorf("output format = %q, want split", info.OutputFormat)
	}
	if len(info.InputShape) != 4 || info.InputShape[2] != 300 {
		t.Errorf("input shape = %v, want [1 3 300 300]", info.InputShape)
	}
}

func TestRemoteLoadModelError(t *testing.T) {
	backend := startMockServer(t, &mockInferenceServer{failLoad: true})

	_, err := backend.LoadModel(context.Background(), "models/missing.onnx")
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("got %v, want ModelLoadError", err)
	}
	if loadErr.Path != "models/missing.onnx" {
		t.Errorf("error path = %q", loadErr.Path)
	}
}

func TestRemoteRun(t *testing.T) {
	backend := startMockServer(t, &mockInferenceServer{})

	if _, err := backend.LoadModel(context.Background(), "models/ssd.onnx"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	input := NewTensor(make([]float32, 1*3*2*2), 1, 3, 2, 2)
	outputs, err := backend.Run(context.Background(), map[string]Tensor{"input": input})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	scores, ok := outputs["scores"]
	if !ok {
		t.Fatal("missing scores output")
	}
	if len(scores.Data) != 3 || scores.Data[2] != 0.9 {
		t.Errorf("scores = %v, want [0 0.1 0.9]", scores.Data)
	}
	boxes, ok := outputs["boxes"]
	if !ok {
		t.Fatal("missing boxes output")
	}
	if len(boxes.Data) != 4 {
		t.Errorf("boxes has %d values, want 4", len(boxes.Data))
	}
}

func TestRemoteRunError(t *testing.T) {
	backend := startMockServer(t, &mockInferenceServer{failRun: true})

	if _, err := backend.LoadModel(context.Background(), "models/ssd.onnx"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	_, err := backend.Run(context.Background(), map[string]Tensor{
		"input": NewTensor([]float32{0}, 1),
	})
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("got %v, want InferenceError", err)
	}

	// The session survives a failed inference.
	_, err = backend.Run(context.Background(), map[string]Tensor{
		"input": NewTensor([]float32{0}, 1),
	})
	if !errors.As(err, &infErr) {
		t.Fatalf("second run: got %v, want InferenceError", err)
	}
}

func TestRemoteRunWithoutModel(t *testing.T) {
	backend := startMockServer(t, &mockInferenceServer{})

	_, err := backend.Run(context.Background(), map[string]Tensor{
		"input": NewTensor([]float32{0}, 1),
	})
	if err == nil {
		t.Fatal("expected an error before any model is loaded")
	}
}

func TestRemoteNotConnected(t *testing.T) {
	backend := NewRemoteBackend(RemoteConfig{URL: "ws://127.0.0.1:1/infer", Logger: testLogger()})

	if _, err := backend.LoadModel(context.Background(), "m.onnx"); err == nil {
		t.Error("expected an error when not connected")
	}
	if _, err := backend.Run(context.Background(), nil); err == nil {
		t.Error("expected an error when not connected")
	}
}

func TestTensorLen(t *testing.T) {
	tests := []struct {
		dims []int64
		want int
	}{
		{nil, 0},
		{[]int64{4}, 4},
		{[]int64{1, 3, 300, 300}, 270000},
	}
	for _, tt := range tests {
		tensor := Tensor{Dims: tt.dims}
		if got := tensor.Len(); got != tt.want {
			t.Errorf("Len(%v) = %d, want %d", tt.dims, got, tt.want)
		}
	}
}
