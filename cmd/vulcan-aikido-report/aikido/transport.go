/*
Copyright 2026 Adevinta
*/

package aikido

import (
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// TransportConfig defines how requests to the Aikido API leave the process.
type TransportConfig struct {
	// Timeout bounds every single request, zero means no timeout.
	Timeout time.Duration
	// RateLimit is the maximum number of requests per second, zero means
	// unlimited.
	RateLimit float64
	// Proxy selects the proxy for each request. A nil Proxy disables proxies.
	Proxy *httpproxy.Config
}

// NewHTTPClient returns an unauthenticated client suitable for the token
// exchange. Its transport is shared with the clients derived from it with
// [WithToken], so the rate limit applies to all of them.
func NewHTTPClient(cfg TransportConfig) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	if cfg.Proxy != nil {
		proxyFunc := cfg.Proxy.ProxyFunc()
		tr.Proxy = func(r *http.Request) (*url.URL, error) {
			return proxyFunc(r.URL)
		}
	}

	var rt http.RoundTripper = tr
	if cfg.RateLimit > 0 {
		burst := max(int(cfg.RateLimit), 1)
		rt = &rateLimitedTransport{
			base:    tr,
			limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
		}
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: rt}
}

// WithToken returns a copy of hc that authenticates every request with the
// given bearer token.
func WithToken(hc *http.Client, token *oauth2.Token) *http.Client {
	return &http.Client{
		Timeout: hc.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   hc.Transport,
		},
	}
}

type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
