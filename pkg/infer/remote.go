package infer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RemoteBackend talks to an inference service over a websocket: JSON
// control frames describe requests and responses, tensor data travels as
// little-endian float32 binary frames. Calls are synchronous; the
// detection pipeline guarantees at most one inference in flight, so no
// request correlation is needed.
type RemoteBackend struct {
	url    string
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *slog.Logger
	info   ModelInfo
	loaded bool
}

// RemoteConfig holds remote backend configuration.
type RemoteConfig struct {
	URL    string // websocket URL of the inference service
	Logger *slog.Logger
}

type controlFrame struct {
	Type         string       `json:"type"`
	Path         string       `json:"path,omitempty"`
	Message      string       `json:"message,omitempty"`
	InputName    string       `json:"input_name,omitempty"`
	OutputNames  []string     `json:"output_names,omitempty"`
	InputShape   []int64      `json:"input_shape,omitempty"`
	OutputFormat string       `json:"output_format,omitempty"`
	Tensors      []tensorMeta `json:"tensors,omitempty"`
}

type tensorMeta struct {
	Name string  `json:"name"`
	Dims []int64 `json:"dims"`
}

// NewRemoteBackend creates a client for a remote inference service.
func NewRemoteBackend(cfg RemoteConfig) *RemoteBackend {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RemoteBackend{
		url:    cfg.URL,
		logger: cfg.Logger,
	}
}

// Connect establishes the websocket connection to the inference service.
func (b *RemoteBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to inference service: %w", err)
	}

	b.conn = conn
	b.logger.Info("connected to inference service", "url", b.url)
	return nil
}

// LoadModel asks the service to load the model at path and records the
// negotiated I/O contract, including the declared output format.
func (b *RemoteBackend) LoadModel(ctx context.Context, path string) (ModelInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return ModelInfo{}, &ModelLoadError{Path: path, Err: fmt.Errorf("not connected")}
	}

	req := controlFrame{Type: "load", Path: path}
	if err := b.writeControl(ctx, req); err != nil {
		return ModelInfo{}, &ModelLoadError{Path: path, Err: err}
	}

	resp, err := b.readControl(ctx)
	if err != nil {
		return ModelInfo{}, &ModelLoadError{Path: path, Err: err}
	}
	if resp.Type == "error" {
		return ModelInfo{}, &ModelLoadError{Path: path, Err: fmt.Errorf("%s", resp.Message)}
	}
	if resp.Type != "model" {
		return ModelInfo{}, &ModelLoadError{Path: path, Err: fmt.Errorf("unexpected response %q", resp.Type)}
	}

	b.info = ModelInfo{
		InputName:    resp.InputName,
		OutputNames:  resp.OutputNames,
		InputShape:   resp.InputShape,
		OutputFormat: OutputFormat(resp.OutputFormat),
	}
	b.loaded = true

	b.logger.Info("model loaded",
		"path", path,
		"input", b.info.InputName,
		"outputs", b.info.OutputNames,
		"format", b.info.OutputFormat)

	return b.info, nil
}

// Run performs one inference. Input tensors are streamed as binary frames
// after a control frame naming them; outputs come back the same way.
func (b *RemoteBackend) Run(ctx context.Context, feeds map[string]Tensor) (map[string]Tensor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil, &InferenceError{Err: fmt.Errorf("not connected")}
	}
	if !b.loaded {
		return nil, &InferenceError{Err: fmt.Errorf("no model loaded")}
	}

	req := controlFrame{Type: "run"}
	names := make([]string, 0, len(feeds))
	for name, t := range feeds {
		req.Tensors = append(req.Tensors, tensorMeta{Name: name, Dims: t.Dims})
		names = append(names, name)
	}
	if err := b.writeControl(ctx, req); err != nil {
		return nil, &InferenceError{Err: err}
	}
	for _, name := range names {
		if err := b.writeTensor(feeds[name]); err != nil {
			return nil, &InferenceError{Err: err}
		}
	}

	resp, err := b.readControl(ctx)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	if resp.Type == "error" {
		return nil, &InferenceError{Err: fmt.Errorf("%s", resp.Message)}
	}
	if resp.Type != "result" {
		return nil, &InferenceError{Err: fmt.Errorf("unexpected response %q", resp.Type)}
	}

	outputs := make(map[string]Tensor, len(resp.Tensors))
	for _, meta := range resp.Tensors {
		t, err := b.readTensor(ctx, meta)
		if err != nil {
			return nil, &InferenceError{Err: err}
		}
		outputs[meta.Name] = t
	}

	return outputs, nil
}

func (b *RemoteBackend) writeControl(ctx context.Context, frame controlFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	b.conn.SetWriteDeadline(deadlineFrom(ctx))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *RemoteBackend) readControl(ctx context.Context) (controlFrame, error) {
	b.conn.SetReadDeadline(deadlineFrom(ctx))
	msgType, data, err := b.conn.ReadMessage()
	if err != nil {
		return controlFrame{}, err
	}
	if msgType != websocket.TextMessage {
		return controlFrame{}, fmt.Errorf("expected control frame, got binary")
	}
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return controlFrame{}, fmt.Errorf("malformed control frame: %w", err)
	}
	return frame, nil
}

func (b *RemoteBackend) writeTensor(t Tensor) error {
	buf := make([]byte, len(t.Data)*4)
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return b.conn.WriteMessage(websocket.BinaryMessage, buf)
}

func (b *RemoteBackend) readTensor(ctx context.Context, meta tensorMeta) (Tensor, error) {
	b.conn.SetReadDeadline(deadlineFrom(ctx))
	msgType, data, err := b.conn.ReadMessage()
	if err != nil {
		return Tensor{}, err
	}
	if msgType != websocket.BinaryMessage {
		return Tensor{}, fmt.Errorf("expected binary frame for tensor %q", meta.Name)
	}
	if len(data)%4 != 0 {
		return Tensor{}, fmt.Errorf("tensor %q has truncated data", meta.Name)
	}

	values := make([]float32, len(data)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}

	t := NewTensor(values, meta.Dims...)
	if t.Len() != len(values) {
		return Tensor{}, fmt.Errorf("tensor %q has %d values, dims imply %d", meta.Name, len(values), t.Len())
	}
	return t, nil
}

// deadlineFrom converts a context deadline to an absolute websocket
// deadline, defaulting to 30s when the context has none.
func deadlineFrom(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(30 * time.Second)
}

// Close shuts down the connection to the inference service.
func (b *RemoteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.loaded = false
	return nil
}
