package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"go-medscan/internal/imaging"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelSpec is the JSON sidecar describing an exported ONNX classifier.
type ModelSpec struct {
	InputShape   []int64  `json:"input_shape"`
	OutputShape  []int64  `json:"output_shape"`
	Classes      []string `json:"classes"`
	ImageSize    int      `json:"image_size"`
	InputName    string   `json:"input_name"`
	OutputName   string   `json:"output_name"`
	Layout       string   `json:"layout"`
	ApplySoftmax bool     `json:"apply_softmax"`

	Name         string `json:"name"`
	Architecture string `json:"type"`
	Target       string `json:"target"`
	Description  string `json:"description"`
}

// LoadModelSpec reads and validates a model sidecar file.
func LoadModelSpec(path string) (*ModelSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var spec ModelSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := spec.normalize(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *ModelSpec) normalize() error {
	if s.ImageSize == 0 {
		s.ImageSize = imaging.Size
	}
	if s.ImageSize != imaging.Size {
		return fmt.Errorf("model expects %dpx input, pipeline produces %dpx", s.ImageSize, imaging.Size)
	}
	if len(s.Classes) < 2 {
		return fmt.Errorf("model must declare at least two classes, got %d", len(s.Classes))
	}
	s.Layout = strings.ToLower(s.Layout)
	if s.Layout == "" {
		s.Layout = "nchw"
	}
	if s.Layout != "nchw" && s.Layout != "nhwc" {
		return fmt.Errorf("unsupported layout %q", s.Layout)
	}
	if s.InputName == "" {
		s.InputName = "input"
	}
	if s.OutputName == "" {
		s.OutputName = "output"
	}
	if len(s.InputShape) == 0 {
		if s.Layout == "nchw" {
			s.InputShape = []int64{1, imaging.Channels, imaging.Size, imaging.Size}
		} else {
			s.InputShape = []int64{1, imaging.Size, imaging.Size, imaging.Channels}
		}
	}
	if len(s.OutputShape) == 0 {
		s.OutputShape = []int64{1, int64(len(s.Classes))}
	}
	if got, want := product(s.InputShape), int64(imaging.Size*imaging.Size*imaging.Channels); got != want {
		return fmt.Errorf("input shape %v holds %d values, expected %d", s.InputShape, got, want)
	}
	if got := product(s.OutputShape); got != int64(len(s.Classes)) {
		return fmt.Errorf("output shape %v holds %d values for %d classes", s.OutputShape, got, len(s.Classes))
	}
	return nil
}

func (s *ModelSpec) metadata() Metadata {
	meta := DefaultMetadata()
	meta.Labels = append([]string(nil), s.Classes...)
	meta.InputSize = s.ImageSize
	if s.Name != "" {
		meta.Name = s.Name
	}
	if s.Architecture != "" {
		meta.Architecture = s.Architecture
	}
	if s.Target != "" {
		meta.Target = s.Target
	}
	if s.Description != "" {
		meta.Description = s.Description
	}
	return meta
}

func product(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// ONNXModel runs a trained classifier through onnxruntime. The session binds fixed
// input/output tensors, so runs are serialised.
type ONNXModel struct {
	mu           sync.Mutex
	spec         *ModelSpec
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	ownsEnv      bool
}

// NewONNXModel loads modelPath with the sidecar at metadataPath. libPath, when set,
// points at the onnxruntime shared library.
func NewONNXModel(modelPath, metadataPath, libPath string) (*ONNXModel, error) {
	spec, err := LoadModelSpec(metadataPath)
	if err != nil {
		return nil, err
	}

	ownsEnv := false
	if !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
		ownsEnv = true
	}

	m := &ONNXModel{spec: spec, ownsEnv: ownsEnv}
	m.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape...))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	m.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape...))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	m.session, err = ort.NewAdvancedSession(modelPath,
		[]string{spec.InputName}, []string{spec.OutputName},
		[]ort.ArbitraryTensor{m.inputTensor}, []ort.ArbitraryTensor{m.outputTensor},
		nil)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return m, nil
}

func (m *ONNXModel) Metadata() Metadata {
	return m.spec.metadata()
}

func (m *ONNXModel) Infer(ctx context.Context, buf *imaging.ImageBuffer) (Distribution, error) {
	if err := ctx.Err(); err != nil {
		return Distribution{}, err
	}

	m.mu.Lock()
	if m.spec.Layout == "nhwc" {
		copy(m.inputTensor.GetData(), buf.Pix)
	} else {
		copy(m.inputTensor.GetData(), buf.CHW())
	}
	if err := m.session.Run(); err != nil {
		m.mu.Unlock()
		return Distribution{}, fmt.Errorf("inference failed: %w", err)
	}
	raw := m.outputTensor.GetData()
	scores := make([]float64, len(m.spec.Classes))
	for i := range scores {
		scores[i] = float64(raw[i])
	}
	m.mu.Unlock()

	if m.spec.ApplySoftmax || !isDistribution(scores) {
		scores = Softmax(scores)
	} else {
		scores = normalize(scores)
	}
	return NewDistribution(m.spec.Classes, scores)
}

func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	if m.ownsEnv {
		m.ownsEnv = false
		return ort.DestroyEnvironment()
	}
	return nil
}
