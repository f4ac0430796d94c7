package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/healthscan/healthscan/internal/preprocess"
)

// ErrNoModel is returned when the model file is missing.
var ErrNoModel = errors.New("model file not found")

// ONNXConfig describes where the exported classifier lives and how its graph
// names the input and output tensors.
type ONNXConfig struct {
	Path       string
	SharedLib  string
	InputName  string
	OutputName string
}

// ONNXModel runs an exported Keras classifier through ONNX Runtime. Predict
// is safe for concurrent use; each call allocates its own tensors.
type ONNXModel struct {
	session *ort.DynamicAdvancedSession
}

// LoadONNX initializes the runtime and opens a session for cfg.Path. The
// runtime environment is process-wide, so call it once at startup.
func LoadONNX(cfg ONNXConfig) (*ONNXModel, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoModel, cfg.Path)
	}
	if cfg.SharedLib != "" {
		ort.SetSharedLibraryPath(cfg.SharedLib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.Path,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("open model %s: %w", cfg.Path, err)
	}
	return &ONNXModel{session: session}, nil
}

// Predict returns the first element of the model output.
func (m *ONNXModel) Predict(_ context.Context, input *preprocess.Tensor) (float32, error) {
	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return 0, fmt.Errorf("input tensor: %w", err)
	}
	defer in.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(input.Shape[0], 1))
	if err != nil {
		return 0, fmt.Errorf("output tensor: %w", err)
	}
	defer out.Destroy()

	if err := m.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return 0, fmt.Errorf("run session: %w", err)
	}
	data := out.GetData()
	if len(data) == 0 {
		return 0, errors.New("empty model output")
	}
	return data[0], nil
}

// Close releases the session and the runtime environment.
func (m *ONNXModel) Close() error {
	if err := m.session.Destroy(); err != nil {
		return err
	}
	return ort.DestroyEnvironment()
}
