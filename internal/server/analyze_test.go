package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/farm-advisor/internal/advisory"
	"github.com/Brownie44l1/farm-advisor/internal/analysis"
	"github.com/Brownie44l1/farm-advisor/internal/config"
	"github.com/Brownie44l1/farm-advisor/internal/detector"
)

type fakeDetector struct {
	detections []detector.Detection
	err        error
	calls      int
}

func (f *fakeDetector) Detect(ctx context.Context, imageBytes []byte) ([]detector.Detection, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.detections, nil
}

func (f *fakeDetector) Close() error { return nil }

func newTestServer(t *testing.T, fake detector.Detector, table *advisory.Table) *Server {
	t.Helper()

	cfg := config.ServerConfig{
		Port:           "0",
		AllowedOrigins: []string{"*"},
		MaxUploadBytes: 1 << 20,
		AllowedTypes:   []string{"image/jpeg", "image/png", "image/webp"},
		StaticDir:      t.TempDir(),
	}
	if table == nil {
		table = advisory.Default()
	}

	return New(cfg, analysis.New(fake, table, config.CacheConfig{}))
}

// multipartUpload builds a single-file multipart body with an explicit
// part content type, the way browsers submit file uploads.
func multipartUpload(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}

	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &buf, w.FormDataContentType()
}

func postAnalyze(s *Server, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeSuccess(t *testing.T) {
	fake := &fakeDetector{detections: []detector.Detection{
		{Label: "healthy", Score: 0.97},
	}}
	s := newTestServer(t, fake, nil)

	body, contentType := multipartUpload(t, "file", "field.jpg", "image/jpeg", []byte("jpeg-bytes"))
	rec := postAnalyze(s, body, contentType)

	require.Equal(t, http.StatusOK, rec.Code)

	var results []analysis.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "Healthy", results[0].Label)
	assert.Equal(t, 1, fake.calls)
}

func TestAnalyzeTomatoScenario(t *testing.T) {
	fake := &fakeDetector{detections: []detector.Detection{
		{Label: "Tomato", Score: 0.87, Box: &detector.Box{X: 10, Y: 20, Width: 100, Height: 150}},
	}}
	table := advisory.New(map[string]advisory.Record{
		"Tomato": {
			Nutrition: "Rich in potassium and vitamin C.",
			Advice:    "Stake the plants and water at the base.",
		},
	})
	s := newTestServer(t, fake, table)

	body, contentType := multipartUpload(t, "file", "tomato.jpg", "image/jpeg", []byte("jpeg-bytes"))
	rec := postAnalyze(s, body, contentType)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{
		"label": "Tomato",
		"score": 0.87,
		"box": [10, 20, 100, 150],
		"nutrition": "Rich in potassium and vitamin C.",
		"advice": "Stake the plants and water at the base."
	}]`, rec.Body.String())
}

func TestAnalyzeZeroDetectionsIsEmptyArray(t *testing.T) {
	s := newTestServer(t, &fakeDetector{}, nil)

	body, contentType := multipartUpload(t, "file", "field.png", "image/png", []byte("png-bytes"))
	rec := postAnalyze(s, body, contentType)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()), "empty result must be [], never null")
}

func TestAnalyzeMissingFileField(t *testing.T) {
	fake := &fakeDetector{}
	s := newTestServer(t, fake, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("comment", "no file here"))
	require.NoError(t, w.Close())

	rec := postAnalyze(s, &buf, w.FormDataContentType())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, fake.calls, "validation failures must not reach the model")
}

func TestAnalyzeEmptyFile(t *testing.T) {
	fake := &fakeDetector{}
	s := newTestServer(t, fake, nil)

	body, contentType := multipartUpload(t, "file", "empty.jpg", "image/jpeg", nil)
	rec := postAnalyze(s, body, contentType)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, fake.calls)
}

func TestAnalyzeUnsupportedMediaType(t *testing.T) {
	fake := &fakeDetector{}
	s := newTestServer(t, fake, nil)

	body, contentType := multipartUpload(t, "file", "report.pdf", "application/pdf", []byte("%PDF-1.4"))
	rec := postAnalyze(s, body, contentType)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, 0, fake.calls)

	var errBody map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Contains(t, errBody["error"], "application/pdf")
}

func TestAnalyzeSniffsTypeWhenHeaderIsGeneric(t *testing.T) {
	fake := &fakeDetector{}
	s := newTestServer(t, fake, nil)

	// A text file renamed to .jpg and sent as octet-stream: sniffing
	// identifies it as text/plain and the request is rejected.
	body, contentType := multipartUpload(t, "file", "notes.jpg", "application/octet-stream",
		[]byte("these are plain text notes about the field"))
	rec := postAnalyze(s, body, contentType)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, 0, fake.calls)
}

func TestAnalyzeInvalidImage(t *testing.T) {
	fake := &fakeDetector{err: fmt.Errorf("decode: %w", detector.ErrInvalidImage)}
	s := newTestServer(t, fake, nil)

	body, contentType := multipartUpload(t, "file", "broken.jpg", "image/jpeg", []byte("truncated"))
	rec := postAnalyze(s, body, contentType)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, fake.calls)
}

func TestAnalyzeInferenceUnavailable(t *testing.T) {
	fake := &fakeDetector{err: fmt.Errorf("model loading: %w", detector.ErrUnavailable)}
	s := newTestServer(t, fake, nil)

	body, contentType := multipartUpload(t, "file", "field.jpg", "image/jpeg", []byte("jpeg-bytes"))
	rec := postAnalyze(s, body, contentType)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))

	var errBody map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.NotEmpty(t, errBody["error"], "503 must carry an explanatory message")
	assert.NotContains(t, rec.Body.String(), "[", "no partial JSON array on failure")
}

func TestAnalyzePayloadTooLarge(t *testing.T) {
	fake := &fakeDetector{}
	s := newTestServer(t, fake, nil)
	s.cfg.MaxUploadBytes = 16

	body, contentType := multipartUpload(t, "file", "big.jpg", "image/jpeg",
		bytes.Repeat([]byte("x"), 64))
	rec := postAnalyze(s, body, contentType)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, fake.calls)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeDetector{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestCORSHeaders(t *testing.T) {
	s := newTestServer(t, &fakeDetector{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://farm.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
