// Package stats fetches area statistics for the map's info panel, either
// from the public statistics API or from a local DuckDB table.
package stats

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/joeblew999/casemap/internal/areadetail"
	"github.com/joeblew999/casemap/internal/metrics"
)

// DefaultBaseURL is the public statistics API.
const DefaultBaseURL = "https://api.coronavirus.data.gov.uk"

// ErrStatus is returned for non-2xx responses other than 404.
var ErrStatus = eris.New("stats: unexpected status")

// Client queries the statistics API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

// WithRateLimit bounds requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ areadetail.Source = (*Client)(nil)

// structure maps response fields to API metric names for the combined query.
var structure = map[string]string{
	"date":        "date",
	"name":        "areaName",
	"type":        "areaType",
	"rollingRate": "newCasesBySpecimenDateRollingRate",
	"rollingSum":  "newCasesBySpecimenDateRollingSum",
	"change":      "newCasesBySpecimenDateChange",
	"direction":   "newCasesBySpecimenDateDirection",
	"percentage":  "newCasesBySpecimenDateChangePercentage",
}

type dataRow struct {
	Date        string   `json:"date"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	RollingRate *float64 `json:"rollingRate"`
	RollingSum  *float64 `json:"rollingSum"`
	Change      *float64 `json:"change"`
	Direction   string   `json:"direction"`
	Percentage  *float64 `json:"percentage"`
}

type dataResponse struct {
	Data []dataRow `json:"data"`
}

type soaResponse struct {
	Payload *struct {
		Date             string   `json:"date"`
		RollingSum       *float64 `json:"rollingSum"`
		RollingRate      *float64 `json:"rollingRate"`
		Change           *float64 `json:"change"`
		ChangePercentage *float64 `json:"changePercentage"`
		Direction        string   `json:"direction"`
	} `json:"payload"`
}

// AreaOnDate runs the combined query filtered by code, type and date.
func (c *Client) AreaOnDate(ctx context.Context, areaCode, areaType, date string) ([]areadetail.Row, error) {
	st, err := json.Marshal(structure)
	if err != nil {
		return nil, eris.Wrap(err, "stats: encode structure")
	}
	params := url.Values{
		"filters":   {"areaCode=" + areaCode + ";areaType=" + areaType + ";date=" + date},
		"structure": {string(st)},
	}

	var resp dataResponse
	found, err := c.getJSON(ctx, "/v1/data?"+params.Encode(), &resp)
	if err != nil || !found {
		return nil, err
	}

	rows := make([]areadetail.Row, 0, len(resp.Data))
	for _, d := range resp.Data {
		rows = append(rows, areadetail.Row{
			AreaName:         d.Name,
			Date:             d.Date,
			RollingSum:       d.RollingSum,
			RollingRate:      d.RollingRate,
			Change:           d.Change,
			ChangePercentage: d.Percentage,
			Direction:        d.Direction,
		})
	}
	return rows, nil
}

// RollingAggregate fetches the small-area rolling statistics.
func (c *Client) RollingAggregate(ctx context.Context, areaType, areaCode, metric, date string) (*areadetail.Row, error) {
	path := "/generic/soa/" + url.PathEscape(areaType) + "/" + url.PathEscape(areaCode) + "/" + url.PathEscape(metric)
	if date != "" {
		path += "?" + url.Values{"date": {date}}.Encode()
	}

	var resp soaResponse
	found, err := c.getJSON(ctx, path, &resp)
	if err != nil || !found || resp.Payload == nil {
		return nil, err
	}
	p := resp.Payload
	return &areadetail.Row{
		Date:             p.Date,
		RollingSum:       p.RollingSum,
		RollingRate:      p.RollingRate,
		Change:           p.Change,
		ChangePercentage: p.ChangePercentage,
		Direction:        p.Direction,
	}, nil
}

// AreaName looks up the display name, read from the "<areaType>Name" field.
func (c *Client) AreaName(ctx context.Context, areaType, areaCode string) (string, error) {
	var resp map[string]any
	found, err := c.getJSON(ctx, "/generic/code/"+url.PathEscape(areaType)+"/"+url.PathEscape(areaCode), &resp)
	if err != nil || !found {
		return "", err
	}
	name, _ := resp[areaType+"Name"].(string)
	return name, nil
}

// getJSON decodes a GET response into out. A 404 or 204 reports found=false
// with no error.
func (c *Client) getJSON(ctx context.Context, path string, out any) (found bool, err error) {
	start := time.Now()
	defer func() {
		metrics.LookupsTotal.WithLabelValues("stats", metrics.Outcome(err)).Inc()
		metrics.LookupDurationMs.WithLabelValues("stats").Observe(float64(time.Since(start).Milliseconds()))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return false, eris.Wrap(err, "stats: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, eris.Wrap(err, "stats: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, eris.Wrap(err, "stats: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		zap.L().Debug("stats: no data", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, eris.Wrapf(ErrStatus, "stats: %s returned %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, eris.Wrap(err, "stats: read body")
	}
	if len(body) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, eris.Wrap(err, "stats: parse response")
	}
	return true, nil
}
