package postcode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/joeblew999/casemap/internal/metrics"
)

// DefaultURL is the public postcode search endpoint.
const DefaultURL = "https://api.coronavirus.data.gov.uk/search"

// Client resolves postcodes against the search endpoint:
// GET {url}?category=postcode&search=<normalized>.
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption { return func(cl *Client) { cl.httpClient = c } }

// WithRateLimit bounds requests per second.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewClient creates a client for endpoint (DefaultURL when empty).
func NewClient(endpoint string, opts ...ClientOption) *Client {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	c := &Client{
		url:        endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Resolver = (*Client)(nil)

// Resolve looks up normalized. Every top-level string field other than
// the postcode itself is taken as an area type to code mapping.
func (c *Client) Resolve(ctx context.Context, normalized string) (res *Result, err error) {
	start := time.Now()
	defer func() {
		metrics.LookupsTotal.WithLabelValues("postcode", metrics.Outcome(err)).Inc()
		metrics.LookupDurationMs.WithLabelValues("postcode").Observe(float64(time.Since(start).Milliseconds()))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "postcode: rate limit")
	}

	params := url.Values{"category": {"postcode"}, "search": {normalized}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "postcode: build request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "postcode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, eris.Wrapf(ErrNotFound, "postcode: %s", normalized)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, eris.Wrapf(ErrMalformed, "postcode: %s rejected", normalized)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("postcode: search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "postcode: read body")
	}
	return parse(normalized, body)
}

func parse(normalized string, body []byte) (*Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, eris.Wrap(err, "postcode: parse response")
	}
	raw, ok := fields["geometry"]
	if !ok || string(raw) == "null" {
		return nil, eris.Wrapf(ErrNotFound, "postcode: %s has no location", normalized)
	}

	var g geojson.Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(err, "postcode: parse geometry")
	}
	pt, ok := g.Coordinates.(orb.Point)
	if !ok {
		return nil, eris.Errorf("postcode: geometry is %s, want Point", g.Type)
	}

	r := &Result{Postcode: normalized, Codes: map[string]string{}, Coordinates: pt}
	for k, v := range fields {
		if k == "geometry" || k == "type" {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) != nil || s == "" {
			continue
		}
		if k == "postcode" {
			r.Postcode = s
			continue
		}
		r.Codes[k] = s
	}
	return r, nil
}
