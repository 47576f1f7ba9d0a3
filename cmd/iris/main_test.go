package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/iris/internal/config"
	"github.com/hyperjump/iris/internal/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after image are moved first",
			args:     []string{"photo.jpg", "-prompt", "what is this"},
			expected: []string{"-prompt", "what is this", "photo.jpg"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-k", "3", "photo.jpg"},
			expected: []string{"-k", "3", "photo.jpg"},
		},
		{
			name:     "image only returns unchanged",
			args:     []string{"photo.jpg"},
			expected: []string{"photo.jpg"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, argsReorder(tt.args))
		})
	}
}

func TestServerMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"generative model unavailable","details":"connection refused"}`, "generative model unavailable: connection refused"},
		{`{"error":"missing image file"}`, "missing image file"},
		{"plain failure\n", "plain failure"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, serverMessage([]byte(tt.body)), tt.body)
	}
}

func TestAPIClient_postImage(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "cat.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpegbytes"), 0600))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/describe" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name":   header.Filename,
			"body":   string(data),
			"prompt": r.FormValue("prompt"),
		})
	}))
	defer srv.Close()

	var out map[string]string
	err := newAPIClient(srv.URL+"/").postImage("/describe", img, map[string]string{"prompt": "what?", "model": ""}, &out)
	require.NoError(t, err)
	assert.Equal(t, "cat.jpg", out["name"])
	assert.Equal(t, "jpegbytes", out["body"])
	assert.Equal(t, "what?", out["prompt"])

	err = newAPIClient(srv.URL).getJSON("/missing", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
llm:
  model: "llava:7b"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	t.Setenv("OLLAMA_MODEL", "")
	origWd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(origWd) }()
	require.NoError(t, os.Chdir(dir))

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	assert.Equal(t, configPathCanon, resolvedCanon)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "llava:7b", cfg.LLM.Model)
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, resolved, err := loadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, configPath, resolved)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func testConfig(t *testing.T, dir string, persist bool) *config.Config {
	t.Helper()
	t.Setenv("FEATURE_SERVICE_URL", "")
	t.Setenv("OLLAMA_MODEL", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Vector.Dimensions = 16
	cfg.Storage.PersistLedger = persist
	cfg.Storage.DatabasePath = filepath.Join(dir, "db", "ledger.db")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "indices", "vectors.bin")
	cfg.RunLog.Path = filepath.Join(dir, "logs", "runs.jsonl")
	cfg.Server.UploadDir = filepath.Join(dir, "uploads")
	return cfg
}

func TestInitializeComponents_persistedLedgerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "db"), 0755))
	img := filepath.Join(dir, "red_bicycle.png")
	require.NoError(t, os.WriteFile(img, []byte("pngbytes"), 0600))
	cfg := testConfig(t, dir, true)
	ctx := context.Background()

	c, err := initializeComponents(ctx, cfg, zap.NewNop(), false)
	require.NoError(t, err)
	sink := &inboxSink{indexer: c.Indexer, extensions: cfg.Watch.Extensions, logger: zap.NewNop()}
	require.NoError(t, sink.IngestFile(ctx, img))
	require.NoError(t, sink.IngestFile(ctx, img))
	require.Equal(t, 1, c.Ledger.Len(), "unchanged file is ingested once")
	c.Close()

	c2, err := initializeComponents(ctx, cfg, zap.NewNop(), false)
	require.NoError(t, err)
	defer c2.Close()
	assert.Equal(t, 1, c2.Ledger.Len())
	assert.Equal(t, 1, c2.VectorIndex.Size())
	hits, err := c2.Indexer.SearchText(ctx, "bicycle", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1, "keyword index rebuilt")
	assert.Equal(t, indexer.SourceWatch, hits[0].Source)
}

func TestInitializeComponents_memoryOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, false)
	c, err := initializeComponents(context.Background(), cfg, zap.NewNop(), true)
	require.NoError(t, err)
	defer c.Close()
	assert.Nil(t, c.Store)
	assert.Equal(t, config.DefaultModel, c.Assistant.DefaultModel())
	_, err = os.Stat(cfg.Storage.DatabasePath)
	assert.True(t, os.IsNotExist(err), "database is not created")
}
