package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/Brownie44l1/farm-advisor/internal/config"
	"github.com/Brownie44l1/farm-advisor/internal/logging"
)

// HuggingFace runs inference through the hosted inference API. It posts
// the raw image bytes to the configured model and understands both the
// image-classification response shape (label + score) and the
// object-detection shape (label + score + box).
type HuggingFace struct {
	endpoint    string
	modelID     string
	token       string
	maxAttempts int
	backoff     time.Duration
	client      *http.Client
	log         *slog.Logger
}

func NewHuggingFace(cfg config.HuggingFaceConfig) *HuggingFace {
	return &HuggingFace{
		endpoint:    cfg.Endpoint,
		modelID:     cfg.ModelID,
		token:       cfg.Token,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		client:      &http.Client{Timeout: cfg.Timeout},
		log:         logging.ForModule("detector.huggingface"),
	}
}

// hfPrediction covers both response shapes the inference API returns.
// Box is present for object-detection models only.
type hfPrediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	Box   *struct {
		XMin int `json:"xmin"`
		YMin int `json:"ymin"`
		XMax int `json:"xmax"`
		YMax int `json:"ymax"`
	} `json:"box"`
}

type hfError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

func (h *HuggingFace) Detect(ctx context.Context, imageBytes []byte) ([]Detection, error) {
	url := h.endpoint + "/models/" + h.modelID

	var lastErr error
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		if attempt > 1 {
			h.log.Debug("retrying inference", "attempt", attempt, "backoff", h.backoff)
			select {
			case <-time.After(h.backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}

		detections, retryable, err := h.call(ctx, url, imageBytes)
		if err == nil {
			return detections, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// call performs a single inference request. The second return value says
// whether the failure is transient and worth another attempt.
func (h *HuggingFace) call(ctx context.Context, url string, imageBytes []byte) ([]Detection, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(imageBytes))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return h.parse(body)
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidImage, apiMessage(body))
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		// 503 usually means the model is still loading; the error body
		// carries an estimated_time worth waiting for.
		return nil, true, fmt.Errorf("%w: %s", ErrUnavailable, apiMessage(body))
	default:
		return nil, false, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, apiMessage(body))
	}
}

func (h *HuggingFace) parse(body []byte) ([]Detection, bool, error) {
	var preds []hfPrediction
	if err := json.Unmarshal(body, &preds); err != nil {
		return nil, false, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	detections := make([]Detection, 0, len(preds))
	for _, p := range preds {
		d := Detection{
			Label: p.Label,
			Score: clampScore(p.Score),
		}
		if p.Box != nil {
			d.Box = &Box{
				X:      p.Box.XMin,
				Y:      p.Box.YMin,
				Width:  p.Box.XMax - p.Box.XMin,
				Height: p.Box.YMax - p.Box.YMin,
			}
		}
		detections = append(detections, d)
	}

	return detections, false, nil
}

func (h *HuggingFace) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func apiMessage(body []byte) string {
	var apiErr hfError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	if len(body) > 0 {
		return string(body)
	}
	return "no error detail"
}

func clampScore(s float64) float64 {
	return math.Min(1, math.Max(0, s))
}
