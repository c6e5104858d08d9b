package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/sandbox"
)

// stubRuntime answers every run with fn.
type stubRuntime struct {
	fn func(spec sandbox.LanguageSpec, ws *sandbox.Workspace) (string, error)
}

func (s *stubRuntime) Run(_ context.Context, spec sandbox.LanguageSpec, ws *sandbox.Workspace) (string, error) {
	return s.fn(spec, ws)
}

func echoStdin(_ sandbox.LanguageSpec, ws *sandbox.Workspace) (string, error) {
	input, err := os.ReadFile(ws.InputPath)
	return string(input), err
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{HTTPAddr: ":0"},
		RateLimit: config.RateLimitConfig{RPS: 1000, Burst: 1000, MaxConcurrent: 4},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, root string, runtime sandbox.ContainerRuntime) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	engine := sandbox.NewEngine(logger, sandbox.NewRegistry(nil, true), sandbox.NewProvisioner(logger, root), runtime)
	return New(cfg, logger, engine)
}

func postRunCode(t *testing.T, s *Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/coding/run-code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	return resp, decoded
}

func TestRunCode(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, testConfig(), root, &stubRuntime{fn: echoStdin})

	t.Run("Stdin", func(t *testing.T) {
		resp, body := postRunCode(t, s, `{"language":"python","code":"print(input())","stdin":"hello"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "hello", body["output"])
	})

	t.Run("InputAlias", func(t *testing.T) {
		resp, body := postRunCode(t, s, `{"language":"python","code":"print(input())","input":"legacy"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "legacy", body["output"])
	})

	t.Run("UnsupportedLanguage", func(t *testing.T) {
		resp, body := postRunCode(t, s, `{"language":"cobol","code":"x"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["detail"], "unsupported language")
	})

	t.Run("MissingLanguage", func(t *testing.T) {
		resp, body := postRunCode(t, s, `{"code":"x"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "language is required", body["detail"])
	})

	t.Run("MalformedBody", func(t *testing.T) {
		resp, body := postRunCode(t, s, `{"language":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Invalid request body", body["detail"])
	})

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunCodeFailuresAreOutput(t *testing.T) {
	s := newTestServer(t, testConfig(), t.TempDir(), &stubRuntime{
		fn: func(spec sandbox.LanguageSpec, _ *sandbox.Workspace) (string, error) {
			return "", &sandbox.ImageMissingError{Image: spec.Image}
		},
	})

	resp, body := postRunCode(t, s, `{"language":"java","code":"class A {}"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Execution environment not found. Please build the 'java-runner' Docker image.", body["output"])
}

func TestRunCodeWorkspaceFailure(t *testing.T) {
	root := t.TempDir() + "/file"
	require.NoError(t, os.WriteFile(root, nil, 0o600))
	s := newTestServer(t, testConfig(), root, &stubRuntime{fn: echoStdin})

	resp, body := postRunCode(t, s, `{"language":"python","code":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body["detail"], "failed to prepare workspace")
}

func TestRunCodeConcurrencyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxConcurrent = 1

	started := make(chan struct{})
	release := make(chan struct{})
	s := newTestServer(t, cfg, t.TempDir(), &stubRuntime{
		fn: func(sandbox.LanguageSpec, *sandbox.Workspace) (string, error) {
			close(started)
			<-release
			return "done", nil
		},
	})

	done := make(chan int)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/coding/run-code", strings.NewReader(`{"language":"python","code":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.App().Test(req, -1)
		if err != nil {
			done <- 0
			return
		}
		done <- resp.StatusCode
	}()

	<-started
	resp, body := postRunCode(t, s, `{"language":"python","code":"y"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too many requests", body["detail"])

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestLanguagesAndHealth(t *testing.T) {
	s := newTestServer(t, testConfig(), t.TempDir(), &stubRuntime{fn: echoStdin})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/api/coding/languages", nil), -1)
	require.NoError(t, err)
	var langs languagesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&langs))
	assert.Equal(t, []string{"cpp", "java", "python"}, langs.Languages)

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "coderun_rate_limit_hits_total")

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/nope", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLimiter(t *testing.T) {
	t.Run("TokenBucket", func(t *testing.T) {
		l := NewLimiter(0.0001, 2, 10)
		assert.True(t, l.Acquire())
		assert.True(t, l.Acquire())
		assert.False(t, l.Acquire())
		l.Release()
		l.Release()
	})

	t.Run("Unlimited", func(t *testing.T) {
		l := NewLimiter(0, 0, 3)
		for range 3 {
			assert.True(t, l.Acquire())
		}
		assert.False(t, l.Acquire(), "concurrency cap still applies")
	})
}
