package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/iris/internal/assistant"
	"github.com/hyperjump/iris/internal/config"
	"github.com/hyperjump/iris/internal/extract"
	"github.com/hyperjump/iris/internal/gateway"
	"github.com/hyperjump/iris/internal/generation"
	"github.com/hyperjump/iris/internal/indexer"
	"github.com/hyperjump/iris/internal/keyword"
	"github.com/hyperjump/iris/internal/ledger"
	"github.com/hyperjump/iris/internal/session"
	"github.com/hyperjump/iris/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const dims = 8

type stubGateway struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *stubGateway) record(prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func (g *stubGateway) Chat(_ context.Context, _ string, msgs []gateway.Message) (string, error) {
	return g.record(msgs[0].Content)
}

func (g *stubGateway) Generate(_ context.Context, _ string, prompt string, _ []string) (string, error) {
	return g.record(prompt)
}

func (g *stubGateway) BaseURL() string { return "http://stub" }

func (g *stubGateway) Health(_ context.Context, model string) (*gateway.HealthStatus, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.HealthStatus{Status: "ok", BaseURL: "http://stub", Model: model, ResponsePreview: "OK"}, nil
}

func (g *stubGateway) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type fixture struct {
	srv     *Server
	handler http.Handler
	gw      *stubGateway
	ledger  *ledger.Ledger
	uploads string
}

// storedUploads lists what is left in the upload directory.
func (f *fixture) storedUploads(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.uploads)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func newFixture(t *testing.T, reply string, watch WatchService) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.UploadDir = filepath.Join(dir, "uploads")
	cfg.Storage.DatabasePath = filepath.Join(dir, "ledger.db")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "vectors.bin")
	cfg.Vector.Dimensions = dims

	gw := &stubGateway{reply: reply}
	ext := extract.NewMockExtractor(dims)
	l, err := ledger.New(context.Background())
	require.NoError(t, err)
	vecs, err := vector.NewFlatIndex(dims)
	require.NoError(t, err)
	kw, err := keyword.NewMemIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	idx := indexer.NewIndexer(ext, vecs, l, kw)
	orch := generation.NewOrchestrator(gw, generation.Options{HistoryWindow: 6}, nil)
	svc := assistant.New(ext, orch, session.NewStore(10, 30),
		assistant.Options{DefaultModel: "qwen3-vl:8b", HistoryWindow: 6},
		assistant.WithHealthChecker(gw))
	srv := NewServer(svc, idx, l, vecs, cfg, zap.NewNop(), watch, "")
	return &fixture{srv: srv, handler: srv.Handler(), gw: gw, ledger: l, uploads: cfg.Server.UploadDir}
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (f *fixture) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	r := httptest.NewRequest(method, target, body)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestReasonFlow_followUpSeesPriorTurn(t *testing.T) {
	f := newFixture(t, "A brown dog is running across the grass chasing a red ball.", nil)

	body, ct := multipartBody(t, map[string]string{"prompt": "What is the dog doing?"}, "dog_park.jpg", []byte("jpegbytes"))
	w := f.do(t, http.MethodPost, "/reason", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode(t, w)
	sessionID, _ := first["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, float64(1), first["turn"])
	assert.Equal(t, true, first["new_session"])
	assert.Equal(t, false, first["degraded"])
	assert.Equal(t, "qwen3-vl:8b", first["model"])
	assert.NotEmpty(t, first["request_id"])

	body, ct = multipartBody(t, map[string]string{"prompt": "What color is the ball?", "session_id": sessionID}, "", nil)
	w = f.do(t, http.MethodPost, "/reason", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode(t, w)
	assert.Equal(t, sessionID, second["session_id"])
	assert.Equal(t, float64(2), second["turn"])
	assert.Equal(t, false, second["new_session"])

	prompt := f.gw.lastPrompt()
	assert.Contains(t, prompt, "User: What is the dog doing?")
	assert.Contains(t, prompt, "Assistant: A brown dog is running across the grass chasing a red ball.")
	assert.Contains(t, prompt, "What color is the ball?")

	w = f.do(t, http.MethodGet, "/reason/sessions/"+sessionID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	history, _ := detail["history"].([]any)
	assert.Len(t, history, 2)

	w = f.do(t, http.MethodGet, "/reason/sessions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	sessions, _ := decode(t, w)["sessions"].([]any)
	assert.Len(t, sessions, 1)
}

func TestReason_validationAndNotFound(t *testing.T) {
	f := newFixture(t, "fine answer for the test", nil)

	body, ct := multipartBody(t, map[string]string{"prompt": "What is this?"}, "", nil)
	w := f.do(t, http.MethodPost, "/reason", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "upload an image")

	body, ct = multipartBody(t, map[string]string{"prompt": "", "session_id": "x"}, "", nil)
	w = f.do(t, http.MethodPost, "/reason", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = multipartBody(t, map[string]string{"prompt": "What now?", "session_id": "missing"}, "", nil)
	w = f.do(t, http.MethodPost, "/reason", body, ct)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReason_unsupportedUpload(t *testing.T) {
	f := newFixture(t, "answer", nil)
	body, ct := multipartBody(t, map[string]string{"prompt": "What is this?"}, "notes.txt", []byte("text"))
	w := f.do(t, http.MethodPost, "/reason", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReason_upstreamUnavailable(t *testing.T) {
	f := newFixture(t, "", nil)
	f.gw.err = errors.New("connection refused")
	body, ct := multipartBody(t, map[string]string{"prompt": "What is the dog doing?"}, "dog.jpg", []byte("jpegbytes"))
	w := f.do(t, http.MethodPost, "/reason", body, ct)
	require.Equal(t, http.StatusBadGateway, w.Code)
	out := decode(t, w)
	assert.Contains(t, out["details"], "connection refused")
	assert.Equal(t, "qwen3-vl:8b", out["model"])
	assert.NotEmpty(t, out["session_id"])
}

func TestReason_emptyRepliesDegrade(t *testing.T) {
	f := newFixture(t, "   ", nil)
	body, ct := multipartBody(t, map[string]string{"prompt": "Describe this image in detail."}, "beach_sunset.png", []byte("pngbytes"))
	w := f.do(t, http.MethodPost, "/reason", body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, true, out["degraded"])
	assert.Contains(t, out["text"], "beach sunset")
}

func TestEndSession(t *testing.T) {
	f := newFixture(t, "A short answer here.", nil)
	body, ct := multipartBody(t, map[string]string{"prompt": "What is it?"}, "cat.jpg", []byte("jpegbytes"))
	w := f.do(t, http.MethodPost, "/reason", body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	id := decode(t, w)["session_id"].(string)

	w = f.do(t, http.MethodPost, "/reason/end", bytes.NewBufferString(`{"session_id":"`+id+`"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ended"])

	form := url.Values{"session_id": {id}}
	w = f.do(t, http.MethodPost, "/reason/end", bytes.NewBufferString(form.Encode()), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["ended"])

	w = f.do(t, http.MethodPost, "/reason/end", bytes.NewBufferString(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDescribe(t *testing.T) {
	long := strings.Repeat("The image shows a dog playing in a sunny park. ", 8)
	f := newFixture(t, long, nil)
	body, ct := multipartBody(t, nil, "dog_park.jpg", []byte("jpegbytes"))
	w := f.do(t, http.MethodPost, "/describe", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, false, out["degraded"])
	features, _ := out["features"].(map[string]any)
	require.NotNil(t, features)
	assert.Equal(t, "a picture of dog park", features["caption"])
	assert.NotContains(t, features, "embedding")
	assert.Contains(t, f.gw.lastPrompt(), "Describe this image in detail.")
	assert.Equal(t, 0, f.ledger.Len())
	assert.Empty(t, f.storedUploads(t))

	w = f.do(t, http.MethodPost, "/describe", &bytes.Buffer{}, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDescribe_upstreamUnavailableCarriesFeatures(t *testing.T) {
	f := newFixture(t, "", nil)
	f.gw.err = errors.New("dial tcp: refused")
	body, ct := multipartBody(t, map[string]string{"model": "llava:7b"}, "dog.jpg", []byte("jpegbytes"))
	w := f.do(t, http.MethodPost, "/describe", body, ct)
	require.Equal(t, http.StatusBadGateway, w.Code)
	out := decode(t, w)
	assert.Equal(t, "llava:7b", out["model"])
	assert.Contains(t, out["details"], "refused")
	assert.NotNil(t, out["features"])
	assert.Empty(t, f.storedUploads(t))
}

func TestExtractListSearchDelete(t *testing.T) {
	f := newFixture(t, "", nil)

	body, ct := multipartBody(t, nil, "red_car.jpg", []byte("car image bytes"))
	w := f.do(t, http.MethodPost, "/extract", body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode(t, w)
	id, _ := out["extraction_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "a picture of red car", out["caption"])
	assert.Equal(t, true, out["indexed"])

	body, ct = multipartBody(t, nil, "green_tree.png", []byte("tree image bytes"))
	w = f.do(t, http.MethodPost, "/extract", body, ct)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/extractions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)
	entries, _ := list["extractions"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "green_tree.png", entries[0].(map[string]any)["image_name"])

	w = f.do(t, http.MethodGet, "/extractions?q=car", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	hits, _ := decode(t, w)["extractions"].([]any)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].(map[string]any)["id"])

	w = f.do(t, http.MethodGet, "/extractions?limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = multipartBody(t, map[string]string{"k": "1"}, "red_car.jpg", []byte("car image bytes"))
	w = f.do(t, http.MethodPost, "/search", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	results, _ := decode(t, w)["results"].([]any)
	require.Len(t, results, 1)
	top := results[0].(map[string]any)
	assert.InDelta(t, 0, top["distance"], 1e-9)
	assert.Equal(t, "red_car.jpg", top["metadata"].(map[string]any)[indexer.MetaFilename])

	w = f.do(t, http.MethodDelete, "/extractions/"+id, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodDelete, "/extractions/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestExtract_missingImage(t *testing.T) {
	f := newFixture(t, "", nil)
	body, ct := multipartBody(t, map[string]string{"prompt": "x"}, "", nil)
	w := f.do(t, http.MethodPost, "/extract", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLLMHealth(t *testing.T) {
	f := newFixture(t, "", nil)
	w := f.do(t, http.MethodGet, "/llm/health?model=llava:7b", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "llava:7b", out["model"])

	f.gw.err = errors.New("down")
	w = f.do(t, http.MethodGet, "/llm/health", nil, "")
	require.Equal(t, http.StatusBadGateway, w.Code)
	out = decode(t, w)
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "qwen3-vl:8b", out["model"])
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, "", nil)
	w := f.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = f.do(t, http.MethodGet, "/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, float64(0), out["extractions"])
	assert.Equal(t, float64(0), out["vector_index_size"])
	assert.Equal(t, float64(dims), out["config"].(map[string]any)["vector_dimensions"])
}

func TestWatchDirectories(t *testing.T) {
	f := newFixture(t, "", &mockWatchService{dirs: []string{"/tmp/inbox"}})

	w := f.do(t, http.MethodGet, "/watch/directories", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	dirs, _ := decode(t, w)["directories"].([]any)
	assert.Equal(t, []any{"/tmp/inbox"}, dirs)

	newDir := t.TempDir()
	w = f.do(t, http.MethodPost, "/watch/directories", bytes.NewBufferString(`{"path":"`+newDir+`","sync":false}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	missing := filepath.Join(newDir, "nope")
	w = f.do(t, http.MethodPost, "/watch/directories", bytes.NewBufferString(`{"path":"`+missing+`"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)

	file := filepath.Join(newDir, "a.jpg")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	w = f.do(t, http.MethodPost, "/watch/directories", bytes.NewBufferString(`{"path":"`+file+`"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, "/watch/directories?path="+url.QueryEscape(newDir), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/watch/directories", nil, "")
	dirs, _ = decode(t, w)["directories"].([]any)
	assert.Equal(t, []any{"/tmp/inbox"}, dirs)
}

func TestWatchDirectories_disabled(t *testing.T) {
	f := newFixture(t, "", nil)
	w := f.do(t, http.MethodGet, "/watch/directories", nil, "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"dog_park.jpg":         "dog_park.jpg",
		"../../etc/passwd.png": "passwd.png",
		`C:\photos\my cat.jpg`: "my_cat.jpg",
		".jpg":                 "jpg",
		"":                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, secureFilename(in), in)
	}
}
