// Package nominatim is a client for the OpenStreetMap Nominatim search API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/opzones/internal/core/domain"
)

const op = "nominatim.search"

// defaultRetryAfter is used when a 429 carries no usable timing headers.
const defaultRetryAfter = 60 * time.Second

// Client implements ports.Geocoder against a Nominatim-compatible server.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a Nominatim client. timeout bounds each request.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode resolves address to its best match within the United States.
func (c *Client) Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error) {
	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("countrycodes", "us")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, domain.RateLimited(op, ParseRateLimit(resp.Header, c.now()))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("geocoder returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(results) == 0 {
		return nil, domain.NotFound(op, "no match for address")
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse longitude %q: %w", results[0].Lon, err)
	}

	return &domain.GeocodeResult{Latitude: lat, Longitude: lon, DisplayName: results[0].DisplayName}, nil
}

// ParseRateLimit reads rate-limit state from a 429 response. It understands
// Retry-After (seconds or HTTP date), the X-RateLimit-* family where Reset is
// a Unix timestamp, and the IETF RateLimit-* family where Reset is seconds
// from now.
func ParseRateLimit(h http.Header, now time.Time) domain.RateLimitState {
	var st domain.RateLimitState

	st.Limit = headerInt(h, "X-RateLimit-Limit", "RateLimit-Limit")
	st.Remaining = headerInt(h, "X-RateLimit-Remaining", "RateLimit-Remaining")

	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			st.ResetAt = time.Unix(ts, 0).UTC()
		}
	} else if v := h.Get("RateLimit-Reset"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			st.ResetAt = now.Add(time.Duration(secs) * time.Second).UTC()
		}
	}

	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			st.RetryAfter = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			st.RetryAfter = at.Sub(now)
		}
	}
	if st.RetryAfter <= 0 && !st.ResetAt.IsZero() {
		st.RetryAfter = st.ResetAt.Sub(now)
	}
	if st.RetryAfter <= 0 {
		st.RetryAfter = defaultRetryAfter
	}
	st.RetryAfter = st.RetryAfter.Round(time.Second)
	if st.ResetAt.IsZero() {
		st.ResetAt = now.Add(st.RetryAfter).UTC()
	}
	return st
}

func headerInt(h http.Header, keys ...string) int {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}
