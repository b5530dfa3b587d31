// Package analysis connects the model runner and the advisory table:
// detect, normalize labels, enrich, return results in model order.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Brownie44l1/farm-advisor/internal/advisory"
	"github.com/Brownie44l1/farm-advisor/internal/config"
	"github.com/Brownie44l1/farm-advisor/internal/detector"
	"github.com/Brownie44l1/farm-advisor/internal/logging"
)

// Result is one detection merged with its advisory record. Box holds
// [x, y, w, h] in pixels and is omitted for classification models.
type Result struct {
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
	Box       []int   `json:"box,omitempty"`
	Nutrition string  `json:"nutrition,omitempty"`
	Advice    string  `json:"advice,omitempty"`
}

// Service is safe for concurrent use: the detector handles its own
// locking and the table is read-only.
type Service struct {
	detector detector.Detector
	table    *advisory.Table
	cache    *gocache.Cache
	log      *slog.Logger
}

func New(det detector.Detector, table *advisory.Table, cfg config.CacheConfig) *Service {
	s := &Service{
		detector: det,
		table:    table,
		log:      logging.ForModule("analysis"),
	}
	if cfg.Enabled {
		s.cache = gocache.New(cfg.TTL, 2*cfg.TTL)
	}
	return s
}

// Analyze runs the full pipeline for one upload. The returned slice is
// never nil; zero detections is a valid, successful outcome.
func (s *Service) Analyze(ctx context.Context, imageBytes []byte) ([]Result, error) {
	var key string
	if s.cache != nil {
		key = cacheKey(imageBytes)
		if cached, ok := s.cache.Get(key); ok {
			s.log.Debug("cache hit", "key", key)
			return cached.([]Result), nil
		}
	}

	start := time.Now()
	detections, err := s.detector.Detect(ctx, imageBytes)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	s.log.Info("inference complete",
		"detections", len(detections), "elapsed", time.Since(start))

	results := make([]Result, 0, len(detections))
	for _, d := range detections {
		label := detector.NormalizeLabel(d.Label)

		r := Result{
			Label: label,
			Score: d.Score,
		}
		if d.Box != nil {
			r.Box = []int{d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height}
		}
		if rec, ok := s.table.Lookup(label); ok {
			r.Nutrition = rec.Nutrition
			r.Advice = rec.Advice
		}
		results = append(results, r)
	}

	if s.cache != nil {
		s.cache.Set(key, results, gocache.DefaultExpiration)
	}

	return results, nil
}

func cacheKey(imageBytes []byte) string {
	sum := sha256.Sum256(imageBytes)
	return hex.EncodeToString(sum[:])
}
