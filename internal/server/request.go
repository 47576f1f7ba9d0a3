package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/iris/internal/generation"
	"github.com/hyperjump/iris/internal/models"
	"go.uber.org/zap"
)

const imageField = "image"

type upload struct {
	Path string
	Name string
}

func (s *Server) maxUploadBytes() int64 {
	mb := s.config.Server.MaxUploadMB
	if mb <= 0 {
		mb = 32
	}
	return int64(mb) << 20
}

// readFields parses a JSON object, multipart or urlencoded body plus the query string
// into a flat map of string values.
func (s *Server) readFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	out := make(map[string]string)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: invalid request body", models.ErrValidation)
		}
		for k, v := range body {
			switch t := v.(type) {
			case string:
				out[k] = t
			case float64:
				out[k] = strconv.FormatFloat(t, 'f', -1, 64)
			case bool:
				out[k] = strconv.FormatBool(t)
			}
		}
		for k, v := range r.URL.Query() {
			if _, ok := out[k]; !ok && len(v) > 0 {
				out[k] = v[0]
			}
		}
		return out, nil
	}
	if err := r.ParseMultipartForm(s.maxUploadBytes()); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("%w: invalid form data", models.ErrValidation)
	}
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

// saveUpload stores the multipart image under the upload directory with a random name.
// It returns nil when the request carries no image.
func (s *Server) saveUpload(r *http.Request) (*upload, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	file, header, err := r.FormFile(imageField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invalid image upload", models.ErrValidation)
	}
	defer func() { _ = file.Close() }()

	name := secureFilename(header.Filename)
	if name == "" {
		return nil, fmt.Errorf("%w: missing image file", models.ErrValidation)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !s.allowedImage(ext) {
		return nil, fmt.Errorf("%w: unsupported image type %q", models.ErrValidation, ext)
	}

	// Each upload gets its own directory so the original name survives without collisions.
	dir := filepath.Join(s.config.Server.UploadDir, uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, file); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close upload: %w", err)
	}
	return &upload{Path: dst, Name: name}, nil
}

// secureFilename reduces an uploaded file name to a safe base name.
func secureFilename(raw string) string {
	base := filepath.Base(strings.ReplaceAll(raw, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "._")
	if strings.TrimSuffix(name, filepath.Ext(name)) == "" {
		return ""
	}
	return name
}

func (s *Server) allowedImage(ext string) bool {
	allowed := s.config.Watch.Extensions
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), strings.TrimPrefix(ext, ".")) {
			return true
		}
	}
	return false
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps err to a status code. extra is merged into 502 bodies.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	var upstream *generation.UpstreamUnavailableError
	switch {
	case errors.Is(err, models.ErrValidation):
		s.respondError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": "))
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, strings.TrimPrefix(err.Error(), models.ErrNotFound.Error()+": ")+" not found")
	case errors.As(err, &upstream):
		body := map[string]any{
			"error":    "generative model unavailable",
			"details":  upstream.Err.Error(),
			"model":    upstream.Model,
			"base_url": upstream.BaseURL,
		}
		for k, v := range extra {
			body[k] = v
		}
		s.respondJSON(w, http.StatusBadGateway, body)
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid number %q", models.ErrValidation, raw)
	}
	return n, nil
}
