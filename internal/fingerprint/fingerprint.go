// Package fingerprint produces the browser-like transport headers the
// upstream expects, plus the remotely-discovered frontend version token.
package fingerprint

import (
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// headerTTL is how long a generated header set is reused before a new
// browser profile is rolled.
const headerTTL = 30 * time.Minute

// versionRefreshInterval is how often the remote version token is re-scraped.
const versionRefreshInterval = time.Hour

// feVersionFallback is used until the first successful homepage scrape.
const feVersionFallback = "prod-fe-1.0.70"

// profile is one plausible browser signature. The client-hint values must
// agree with the user agent's browser and OS.
type profile struct {
	userAgent string
	secChUA   string
	platform  string // sec-ch-ua-platform value
}

var profiles = []profile{
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
		secChUA:   `"Not;A=Brand";v="99", "Google Chrome";v="139", "Chromium";v="139"`,
		platform:  `"Windows"`,
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
		secChUA:   `"Not;A=Brand";v="99", "Google Chrome";v="139", "Chromium";v="139"`,
		platform:  `"macOS"`,
	},
	{
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
		secChUA:   `"Not;A=Brand";v="99", "Google Chrome";v="138", "Chromium";v="138"`,
		platform:  `"Linux"`,
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36 Edg/139.0.0.0",
		secChUA:   `"Not;A=Brand";v="99", "Microsoft Edge";v="139", "Chromium";v="139"`,
		platform:  `"Windows"`,
	},
}

var feVersionPattern = regexp.MustCompile(`prod-fe-[0-9]+\.[0-9]+\.[0-9]+`)

// Generator caches a rolled browser profile and tracks the remote frontend
// version token. Safe for concurrent use.
type Generator struct {
	mu        sync.Mutex
	baseURL   string
	client    *http.Client
	active    profile
	rolledAt  time.Time
	feVersion string
	feFetched time.Time
}

// New creates a Generator scraping version tokens from baseURL.
func New(baseURL string, timeout time.Duration) *Generator {
	return &Generator{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		feVersion: feVersionFallback,
	}
}

// Headers returns the browser header set for an upstream request. The
// profile is cached for headerTTL, then re-rolled. Referer and Origin are
// derived from the chat ID when present.
func (g *Generator) Headers(chatID string) map[string]string {
	g.mu.Lock()
	if time.Since(g.rolledAt) > headerTTL || g.active.userAgent == "" {
		g.active = profiles[rand.Intn(len(profiles))]
		g.rolledAt = time.Now()
	}
	p := g.active
	g.mu.Unlock()

	h := map[string]string{
		"User-Agent":         p.userAgent,
		"sec-ch-ua":          p.secChUA,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": p.platform,
		"Accept-Language":    "en-US,en;q=0.9",
		"X-FE-Version":       g.FEVersion(),
		"Origin":             g.baseURL,
	}
	if chatID != "" {
		h["Referer"] = g.baseURL + "/c/" + chatID
	} else {
		h["Referer"] = g.baseURL + "/"
	}
	return h
}

// FEVersion returns the frontend version token, refreshing it from the
// upstream homepage when stale. Fetch failures keep the previous value and
// never propagate to the caller.
func (g *Generator) FEVersion() string {
	g.mu.Lock()
	stale := time.Since(g.feFetched) > versionRefreshInterval
	current := g.feVersion
	if stale {
		// Stamp before fetching so concurrent callers don't pile on.
		g.feFetched = time.Now()
	}
	g.mu.Unlock()

	if !stale {
		return current
	}
	if v := g.scrapeVersion(); v != "" {
		g.mu.Lock()
		g.feVersion = v
		g.mu.Unlock()
		return v
	}
	return current
}

func (g *Generator) scrapeVersion() string {
	resp, err := g.client.Get(g.baseURL + "/")
	if err != nil {
		slog.Debug("fe version fetch failed, keeping previous", "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return ""
	}
	return feVersionPattern.FindString(string(body))
}
