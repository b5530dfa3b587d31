package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Brownie44l1/farm-advisor/internal/detector"
)

// Analyze handles POST /analyze: multipart upload in field "file",
// JSON array of results out. Validation failures are reported before
// any inference is attempted.
func (s *Server) Analyze(c echo.Context) error {
	start := time.Now()
	status, err := s.analyze(c)
	s.metrics.observeAnalyze(status, time.Since(start))
	return err
}

func (s *Server) analyze(c echo.Context) (int, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return s.fail(c, http.StatusBadRequest,
			"No file uploaded. Use 'file' as the form field name.")
	}

	if fileHeader.Size == 0 {
		return s.fail(c, http.StatusBadRequest, "Uploaded file is empty.")
	}
	if fileHeader.Size > s.cfg.MaxUploadBytes {
		return s.fail(c, http.StatusRequestEntityTooLarge, "Uploaded file is too large.")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return s.fail(c, http.StatusBadRequest, "Failed to open uploaded file.")
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(file)
	if err != nil {
		s.log.Error("read upload", "error", err)
		return s.fail(c, http.StatusInternalServerError, "Failed to read uploaded file.")
	}

	mediaType := declaredMediaType(fileHeader.Header.Get(echo.HeaderContentType), imageBytes)
	if !s.typeAllowed(mediaType) {
		return s.fail(c, http.StatusUnsupportedMediaType,
			"Unsupported media type "+mediaType+". Upload a JPEG, PNG or WebP image.")
	}

	results, err := s.analyzer.Analyze(c.Request().Context(), imageBytes)
	if err != nil {
		switch {
		case errors.Is(err, detector.ErrInvalidImage):
			return s.fail(c, http.StatusBadRequest,
				"The uploaded file is not a decodable image.")
		case errors.Is(err, detector.ErrUnavailable):
			s.log.Warn("inference unavailable", "error", err)
			c.Response().Header().Set("Retry-After", "10")
			return s.fail(c, http.StatusServiceUnavailable,
				"The inference service is currently unavailable. Please retry in a few seconds.")
		default:
			s.log.Error("analysis failed", "error", err)
			return s.fail(c, http.StatusInternalServerError,
				"An unexpected error occurred while analyzing the image.")
		}
	}

	return http.StatusOK, c.JSON(http.StatusOK, results)
}

func (s *Server) fail(c echo.Context, status int, message string) (int, error) {
	return status, c.JSON(status, echo.Map{"error": message})
}

// declaredMediaType trusts the part's Content-Type header when it names
// a concrete type and falls back to sniffing the bytes otherwise.
func declaredMediaType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
	}
	sniffed := http.DetectContentType(data)
	if mediaType, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mediaType
	}
	return sniffed
}

func (s *Server) typeAllowed(mediaType string) bool {
	for _, allowed := range s.cfg.AllowedTypes {
		if mediaType == allowed {
			return true
		}
	}
	return false
}
