package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"zaigate/internal/config"
	"zaigate/internal/fingerprint"
	"zaigate/internal/models"
	"zaigate/internal/pool"
	"zaigate/internal/types"
)

func testConfig(baseURL string) *config.ServerConfig {
	return &config.ServerConfig{
		BaseURL:         baseURL,
		UpstreamTimeout: 5 * time.Second,
		AuthTimeout:     time.Second,
	}
}

func testClient(t *testing.T, baseURL string, tokens ...string) *Client {
	t.Helper()
	cfg := testConfig(baseURL)
	return NewClient(cfg, pool.New(tokens, nil), fingerprint.New(baseURL, time.Second))
}

func testEnvelope() *types.UpstreamEnvelope {
	mc := models.NewRegistry().Resolve("glm-4.5")
	return BuildEnvelope([]types.Message{types.TextMessage(types.RoleUser, "hi")}, mc, types.FeatureOverrides{}, nil, true)
}

func TestDoSetsSignedEnvelope(t *testing.T) {
	var gotQuery, gotSig, gotAuth, gotUA, gotFE atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// fingerprint version scrape
			http.NotFound(w, r)
			return
		}
		gotQuery.Store(r.URL.Query().Encode())
		gotSig.Store(r.Header.Get("X-Signature"))
		gotAuth.Store(r.Header.Get("Authorization"))
		gotUA.Store(r.Header.Get("User-Agent"))
		gotFE.Store(r.Header.Get("X-FE-Version"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "tok-a")
	cred, err := c.pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	resp, err := c.Do(context.Background(), testEnvelope(), "hi", cred)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	q := gotQuery.Load().(string)
	for _, key := range []string{"requestId=", "timestamp=", "user_id="} {
		if !strings.Contains(q, key) {
			t.Errorf("query %q missing %s", q, key)
		}
	}
	if sig := gotSig.Load().(string); len(sig) != 64 {
		t.Errorf("X-Signature = %q, want 64 hex chars", sig)
	}
	if auth := gotAuth.Load().(string); auth != "Bearer tok-a" {
		t.Errorf("Authorization = %q", auth)
	}
	if ua := gotUA.Load().(string); !strings.Contains(ua, "Mozilla/5.0") {
		t.Errorf("User-Agent = %q, want a browser signature", ua)
	}
	if fe := gotFE.Load().(string); fe == "" {
		t.Error("X-FE-Version header missing")
	}
}

func TestDoRejectsMissingSigningText(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:0", "tok-a")
	cred, _ := c.pool.Acquire(context.Background())
	if _, err := c.Do(context.Background(), testEnvelope(), "", cred); err != ErrNoSigningText {
		t.Errorf("err = %v, want ErrNoSigningText", err)
	}
}

func TestDoWithRotateRetriesOnceOnAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "bad", "good")
	resp, err := c.DoWithRotate(context.Background(), testEnvelope(), "hi")
	if err != nil {
		t.Fatalf("DoWithRotate: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d after rotation, want 200", resp.StatusCode)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream called %d times, want 2 (original + one retry)", n)
	}
}

func TestDoWithRotateGivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "bad-1", "bad-2")
	resp, err := c.DoWithRotate(context.Background(), testEnvelope(), "hi")
	if err != nil {
		t.Fatalf("DoWithRotate: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("final status = %d, want the upstream's 401", resp.StatusCode)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream called %d times, want exactly 2", n)
	}
}

func TestUploadFileParsesHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		w.Write([]byte(`{"id":"file-123","meta":{"content_url":"https://files.example/file-123"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "tok-a")
	h, err := c.UploadFile(context.Background(), []byte("png bytes"), "image/png")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if h.ID != "file-123" || h.URL != "https://files.example/file-123" {
		t.Errorf("handle = %+v", h)
	}
}

func TestRedactPayloadElidesDataURLs(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAAAAAA"}}]}]}`)
	out := string(redactPayload(body))
	if strings.Contains(out, "AAAAAAAA") {
		t.Errorf("data URL not elided: %s", out)
	}
	if !strings.Contains(out, "data:") {
		t.Errorf("redaction marker missing: %s", out)
	}
}

func TestRedactPayloadTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 1000)
	body := []byte(`{"messages":[{"role":"user","content":"` + long + `"}]}`)
	out := string(redactPayload(body))
	if len(out) >= len(body) {
		t.Errorf("long text not truncated (len %d >= %d)", len(out), len(body))
	}
}
