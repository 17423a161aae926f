package stats

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"zaigate/internal/types"
)

func TestPrometheusExposition(t *testing.T) {
	p := NewPrometheus()
	p.RequestFinished("/v1/chat/completions", 200, 120*time.Millisecond)
	p.RequestFinished("/v1/chat/completions", 502, 30*time.Millisecond)
	p.CredentialRotated(true)
	p.TokensUsed("glm-4.5", &types.Usage{PromptTokens: 10, CompletionTokens: 20})
	p.TokensUsed("glm-4.5", nil) // must not panic

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`zaigate_requests_total{route="/v1/chat/completions",status="200"} 1`,
		`zaigate_requests_total{route="/v1/chat/completions",status="502"} 1`,
		`zaigate_credential_rotations_total{kind="guest"} 1`,
		`zaigate_tokens_total{direction="prompt",model="glm-4.5"} 10`,
		`zaigate_tokens_total{direction="completion",model="glm-4.5"} 20`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
