// Package detector wraps pretrained image models behind a single Detect
// contract. Callers never know whether inference runs locally or against
// a hosted service.
package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Brownie44l1/farm-advisor/internal/config"
)

var (
	// ErrInvalidImage means the uploaded bytes do not decode as a
	// supported raster image, or the model service rejected them as such.
	ErrInvalidImage = errors.New("invalid image")

	// ErrUnavailable means the model or the inference service could not
	// produce a result: load failure, timeout, rate limit, auth error.
	ErrUnavailable = errors.New("inference unavailable")
)

// Box is an object location in pixel units.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is one object instance found by the model. Box is nil for
// classification models, which label the whole image.
type Detection struct {
	Label string
	Score float64
	Box   *Box
}

// Detector runs a pretrained model against raw image bytes. A nil-length
// result is valid: the model found nothing.
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte) ([]Detection, error)
	Close() error
}

// New builds the detector selected by the model config.
func New(cfg config.ModelConfig) (Detector, error) {
	switch cfg.Backend {
	case config.BackendHuggingFace:
		return NewHuggingFace(cfg.HuggingFace), nil
	case config.BackendONNX:
		return NewONNX(cfg.ONNX)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// NormalizeLabel turns a raw model label like "bean_rust" into a
// human-readable "Bean rust".
func NormalizeLabel(raw string) string {
	label := strings.TrimSpace(strings.ReplaceAll(raw, "_", " "))
	if label == "" {
		return "Unknown"
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
