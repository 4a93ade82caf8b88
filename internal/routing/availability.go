package routing

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// minCredentialLength filters out placeholder keys like "x" or "todo".
const minCredentialLength = 8

// probeTTL bounds how long a local liveness probe result is reused. The TTL
// exists only to keep a burst of routing decisions from hammering the local
// daemon; credential checks are never cached.
const probeTTL = 15 * time.Second

// CredentialSource resolves the secret for a cloud provider. Implementations
// must re-read their backing store on every call so rotated keys take effect
// within a single routing decision.
type CredentialSource interface {
	Credential(provider string) string
	Endpoint(provider string) string
}

// ═══════════════════════════════════════════════════════════════════════════════
// AVAILABILITY ORACLE
// ═══════════════════════════════════════════════════════════════════════════════

// Oracle answers "can this provider serve a request right now?".
// Local providers are probed over HTTP; cloud providers are available when a
// plausible credential is present.
type Oracle struct {
	creds      CredentialSource
	httpClient *http.Client
	log        zerolog.Logger

	mu          sync.Mutex
	ollamaAlive bool
	ollamaAt    time.Time
}

// NewOracle builds an oracle over the given credential source.
func NewOracle(creds CredentialSource, log zerolog.Logger) *Oracle {
	return &Oracle{
		creds:      creds,
		httpClient: &http.Client{Timeout: 2 * time.Second},
		log:        log,
	}
}

// Available reports whether the named provider can serve a request.
// Unknown providers are unavailable.
func (o *Oracle) Available(ctx context.Context, provider string) bool {
	switch provider {
	case "ollama":
		return o.ollamaOnline(ctx)
	case "openai", "anthropic":
		return o.hasCredential(provider)
	default:
		return false
	}
}

// AvailableProviders returns the subset of providers that are currently
// serviceable, for status endpoints and diagnostics.
func (o *Oracle) AvailableProviders(ctx context.Context) []string {
	var out []string
	for _, p := range []string{"ollama", "openai", "anthropic"} {
		if o.Available(ctx, p) {
			out = append(out, p)
		}
	}
	return out
}

// hasCredential checks for a plausible key. Resolution happens on every call;
// only the liveness probe below is memoized.
func (o *Oracle) hasCredential(provider string) bool {
	key := o.creds.Credential(provider)
	return len(key) >= minCredentialLength
}

// ollamaOnline probes the local daemon's tags endpoint. A 200 means online;
// any error or other status means offline. Results are reused for probeTTL.
func (o *Oracle) ollamaOnline(ctx context.Context) bool {
	o.mu.Lock()
	if time.Since(o.ollamaAt) < probeTTL {
		alive := o.ollamaAlive
		o.mu.Unlock()
		return alive
	}
	o.mu.Unlock()

	alive := o.probeOllama(ctx)

	o.mu.Lock()
	o.ollamaAlive = alive
	o.ollamaAt = time.Now()
	o.mu.Unlock()

	return alive
}

func (o *Oracle) probeOllama(ctx context.Context) bool {
	endpoint := o.creds.Endpoint("ollama")
	if endpoint == "" {
		endpoint = "http://127.0.0.1:11434"
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.log.Debug().Err(err).Msg("ollama probe failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
