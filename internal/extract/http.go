package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/iris/internal/models"
	"github.com/hyperjump/iris/pkg/utils"
	"go.uber.org/zap"
)

// HTTPExtractor posts images as multipart field "image" to the feature service and
// normalizes the loosely typed JSON it returns.
type HTTPExtractor struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

var _ Extractor = (*HTTPExtractor)(nil)

// Option configures an HTTPExtractor.
type Option func(*HTTPExtractor)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *HTTPExtractor) { e.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *HTTPExtractor) { e.logger = l }
}

// NewHTTPExtractor creates a client for the service at url.
func NewHTTPExtractor(url string, timeout time.Duration, opts ...Option) *HTTPExtractor {
	e := &HTTPExtractor{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract uploads the image and returns the normalized features.
func (e *HTTPExtractor) Extract(ctx context.Context, path string) (*Extraction, error) {
	body, contentType, err := imageForm(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feature service %s: %w", e.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feature service %s returned status %d: %s",
			e.url, resp.StatusCode, utils.Truncate(strings.TrimSpace(string(msg)), 200))
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode feature response: %w", err)
	}
	features, extractedAt := models.NormalizeFeatures(raw)
	e.logger.Debug("Extracted features",
		zap.String("path", path),
		zap.Int("objects", len(features.Objects)),
		zap.Int("embedding_dim", len(features.Embedding)),
		zap.Duration("latency", time.Since(start)))
	return &Extraction{Features: features, ExtractedAt: extractedAt}, nil
}

func imageForm(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
