package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/farm-advisor/internal/config"
	"github.com/Brownie44l1/farm-advisor/internal/logging"
)

// ONNXMetadata describes the model artifact: tensor shapes, the class
// list in output order, and the square input size in pixels.
type ONNXMetadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// ONNX runs a locally loaded classification model. The session and its
// tensors are created once at start and shared across requests, so
// Detect serializes access with a mutex.
type ONNX struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	metadata     ONNXMetadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	log          *slog.Logger
}

func NewONNX(cfg config.ONNXConfig) (*ONNX, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize ONNX environment: %w", err)
	}

	metaFile, err := os.ReadFile(cfg.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("read model metadata: %w", err)
	}

	var metadata ONNXMetadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("parse model metadata: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	return &ONNX{
		session:      session,
		metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		log:          logging.ForModule("detector.onnx"),
	}, nil
}

// Detect classifies the whole image and reports the best class as a
// single boxless detection.
func (o *ONNX) Detect(ctx context.Context, imageBytes []byte) ([]Detection, error) {
	img, format, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	o.log.Debug("decoded upload", "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	inputData := preprocess(img, o.metadata.ImageSize)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	copy(o.inputTensor.GetData(), inputData)

	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	outputData := o.outputTensor.GetData()
	if len(outputData) == 0 || len(o.metadata.Classes) == 0 {
		return []Detection{}, nil
	}

	maxIdx := 0
	maxVal := outputData[0]
	for i, val := range outputData {
		if i >= len(o.metadata.Classes) {
			break
		}
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	return []Detection{{
		Label: o.metadata.Classes[maxIdx],
		Score: clampScore(float64(maxVal)),
	}}, nil
}

// preprocess resizes to the model's square input and lays the pixels out
// as normalized CHW float32 planes.
func preprocess(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Max.X, bounds.Max.Y

	inputData := make([]float32, 3*width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()

			pixelIndex := y*width + x
			inputData[pixelIndex] = float32(r) / 65535.0
			inputData[width*height+pixelIndex] = float32(g) / 65535.0
			inputData[2*width*height+pixelIndex] = float32(b) / 65535.0
		}
	}

	return inputData
}

func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inputTensor != nil {
		o.inputTensor.Destroy()
	}
	if o.outputTensor != nil {
		o.outputTensor.Destroy()
	}
	if o.session != nil {
		o.session.Destroy()
	}
	return ort.DestroyEnvironment()
}
