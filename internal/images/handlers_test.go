package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visionapi/internal/media"
	"visionapi/internal/vision"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	urls     []string
	payloads [][]byte
	mimes    []string
	err      error
}

func (f *fakeAnalyzer) AnalyzeURL(_ context.Context, imageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, imageURL)
	return "a description of " + imageURL, f.err
}

func (f *fakeAnalyzer) AnalyzeBytes(_ context.Context, data []byte, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, data)
	f.mimes = append(f.mimes, mimeType)
	return "a description of bytes", f.err
}

func (f *fakeAnalyzer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls) + len(f.payloads)
}

type fakeGenerator struct {
	artifact vision.Artifact
	err      error
	prompts  []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (vision.Artifact, error) {
	f.prompts = append(f.prompts, prompt)
	return f.artifact, f.err
}

type fakeMirror struct {
	mu      sync.Mutex
	folders []string
}

func (f *fakeMirror) Upload(_ context.Context, input media.UploadInput) (media.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, input.Folder)
	return media.UploadResult{Key: input.Folder + "/x"}, nil
}

type handlerEnv struct {
	root      string
	handler   Handler
	analyzer  *fakeAnalyzer
	generator *fakeGenerator
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	root := t.TempDir()
	disk, err := media.NewDisk(filepath.Join(root, "uploads"))
	require.NoError(t, err)

	env := &handlerEnv{
		root:      root,
		analyzer:  &fakeAnalyzer{},
		generator: &fakeGenerator{},
	}
	env.handler = Handler{
		Disk:         disk,
		Analyzer:     env.analyzer,
		Generator:    env.generator,
		Downloader:   media.NewDownloader(5 * time.Second),
		PromptPrefix: 50,
		Log:          zerolog.Nop(),
	}
	return env
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func doUpload(env *handlerEnv, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.handler.Upload(rec, req)
	return rec
}

func TestUploadWritesFile(t *testing.T) {
	env := newHandlerEnv(t)
	body, ct := multipartBody(t, "file", "cat.png", "image/png", []byte("meow"))

	rec := doUpload(env, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, env.handler.Disk.Path("cat.png"), out["path"])

	data, err := os.ReadFile(out["path"])
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))
}

func TestUploadPathTraversalWritesOutsideUploadDir(t *testing.T) {
	env := newHandlerEnv(t)
	body, ct := multipartBody(t, "file", "../escaped.bin", "", []byte("outside"))

	rec := doUpload(env, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	data, err := os.ReadFile(filepath.Join(env.root, "escaped.bin"))
	require.NoError(t, err)
	assert.Equal(t, "outside", string(data))
	assert.Contains(t, decodeBody(t, rec)["path"], "../escaped.bin")
}

func TestUploadMissingFile(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doUpload(env, strings.NewReader("raw"), "application/octet-stream")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body, ct := multipartBody(t, "other", "cat.png", "", []byte("meow"))
	rec = doUpload(env, body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUploadConcurrentSameNameKeepsOnePayload(t *testing.T) {
	env := newHandlerEnv(t)
	payloads := [][]byte{bytes.Repeat([]byte("1"), 256<<10), bytes.Repeat([]byte("2"), 128<<10)}

	var wg sync.WaitGroup
	for _, p := range payloads {
		body, ct := multipartBody(t, "file", "shared.bin", "", p)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := doUpload(env, body, ct)
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(env.handler.Disk.Path("shared.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, payloads[0]) || bytes.Equal(data, payloads[1]))
}

func TestUploadMirrorsWhenConfigured(t *testing.T) {
	env := newHandlerEnv(t)
	mirror := &fakeMirror{}
	env.handler.Mirror = mirror
	body, ct := multipartBody(t, "file", "cat.png", "image/png", []byte("meow"))

	rec := doUpload(env, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"uploads"}, mirror.folders)
}

func doAnalyze(env *handlerEnv, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	env.handler.Analyze(rec, req)
	return rec
}

func TestAnalyzeJSONImageURL(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doAnalyze(env, strings.NewReader(`{"image_url":"https://example.com/a.jpg"}`), "application/json; charset=utf-8")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "a description of https://example.com/a.jpg", decodeBody(t, rec)["analysis"])
	assert.Equal(t, []string{"https://example.com/a.jpg"}, env.analyzer.urls)
}

func TestAnalyzeMultipartFile(t *testing.T) {
	env := newHandlerEnv(t)
	body, ct := multipartBody(t, "file", "photo.jpg", "image/jpeg", []byte("jpeg-bytes"))

	rec := doAnalyze(env, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "a description of bytes", decodeBody(t, rec)["analysis"])
	require.Len(t, env.analyzer.payloads, 1)
	assert.Equal(t, []byte("jpeg-bytes"), env.analyzer.payloads[0])
	assert.Equal(t, []string{"image/jpeg"}, env.analyzer.mimes)
}

func TestAnalyzeLogsInput(t *testing.T) {
	env := newHandlerEnv(t)
	var logs bytes.Buffer
	env.handler.Log = zerolog.New(&logs)

	rec := doAnalyze(env, strings.NewReader(`{"image_url":"https://example.com/cat.png"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	body, ct := multipartBody(t, "file", "dog.jpg", "image/jpeg", []byte("jpeg"))
	rec = doAnalyze(env, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, logs.String(), `"image_url":"https://example.com/cat.png"`)
	assert.Contains(t, logs.String(), `"filename":"dog.jpg"`)
}

func TestAnalyzeRejectsOtherContentTypes(t *testing.T) {
	for _, ct := range []string{"text/plain", "application/x-www-form-urlencoded", ""} {
		t.Run(ct, func(t *testing.T) {
			env := newHandlerEnv(t)

			rec := doAnalyze(env, strings.NewReader(`{"image_url":"https://example.com/a.jpg"}`), ct)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, rec.Body.String())
			assert.Zero(t, env.analyzer.calls())
		})
	}
}

func TestAnalyzeMultipartWithoutFilePart(t *testing.T) {
	env := newHandlerEnv(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())

	rec := doAnalyze(env, &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.analyzer.calls())
}

func TestAnalyzeJSONValidation(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doAnalyze(env, strings.NewReader(`{not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doAnalyze(env, strings.NewReader(`{"image_url":"  "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.analyzer.calls())
}

func TestAnalyzeProviderErrorIsServerError(t *testing.T) {
	env := newHandlerEnv(t)
	env.analyzer.err = errors.New("quota exceeded")

	rec := doAnalyze(env, strings.NewReader(`{"image_url":"https://example.com/a.jpg"}`), "application/json")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "quota")
}

func imageServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("generated-png"))
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func doGenerateForm(env *handlerEnv, prompt string) *httptest.ResponseRecorder {
	form := url.Values{"prompt": {prompt}}
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.Generate(rec, req)
	return rec
}

func TestGenerateFormPromptDownloadsResult(t *testing.T) {
	env := newHandlerEnv(t)
	srv, _ := imageServer(t, http.StatusOK)
	env.generator.artifact = vision.Artifact{URL: srv.URL + "/img.png"}

	rec := doGenerateForm(env, "a red ball")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, srv.URL+"/img.png", out["url"])
	assert.Contains(t, out["path"], "a_red_ball")
	assert.Equal(t, env.handler.Disk.Path("generated_a_red_ball.png"), out["path"])
	assert.Equal(t, []string{"a red ball"}, env.generator.prompts)

	data, err := os.ReadFile(out["path"])
	require.NoError(t, err)
	assert.Equal(t, "generated-png", string(data))
}

func TestGenerateJSONPromptWithInlineData(t *testing.T) {
	env := newHandlerEnv(t)
	env.handler.PromptPrefix = 5
	env.generator.artifact = vision.Artifact{Data: []byte("inline-png")}

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"a red ball"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.Generate(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody(t, rec)
	assert.Equal(t, env.handler.Disk.Path("generated_a_red.png"), out["path"])
	assert.Equal(t, "", out["url"])

	data, err := os.ReadFile(out["path"])
	require.NoError(t, err)
	assert.Equal(t, "inline-png", string(data))
}

func TestGenerateMultipartPrompt(t *testing.T) {
	env := newHandlerEnv(t)
	env.generator.artifact = vision.Artifact{Data: []byte("png")}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("prompt", "blue sky"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/generate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.Generate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"blue sky"}, env.generator.prompts)
}

func TestGeneratePromptWithSlashNeedsExistingDirectory(t *testing.T) {
	env := newHandlerEnv(t)
	env.generator.artifact = vision.Artifact{Data: []byte("png")}

	rec := doGenerateForm(env, "cats/dogs on a hill")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	_, err := os.Stat(env.handler.Disk.Path("generated_cats"))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateMissingPrompt(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doGenerateForm(env, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, env.generator.prompts)
}

func TestGenerateDownloadFailureIsNotRetried(t *testing.T) {
	env := newHandlerEnv(t)
	srv, calls := imageServer(t, http.StatusBadGateway)
	env.generator.artifact = vision.Artifact{URL: srv.URL + "/img.png"}

	rec := doGenerateForm(env, "a red ball")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateProviderError(t *testing.T) {
	env := newHandlerEnv(t)
	env.generator.err = errors.New("content policy")

	rec := doGenerateForm(env, "a red ball")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGenerateMirrorsWhenConfigured(t *testing.T) {
	env := newHandlerEnv(t)
	mirror := &fakeMirror{}
	env.handler.Mirror = mirror
	env.generator.artifact = vision.Artifact{Data: []byte("png")}

	rec := doGenerateForm(env, "a red ball")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"generated"}, mirror.folders)
}

func TestHealth(t *testing.T) {
	env := newHandlerEnv(t)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		env.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]string{"status": "ok"}, decodeBody(t, rec))
	}

	entries, err := os.ReadDir(env.handler.Disk.BaseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
