package estimate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fieldops/internal/model"
)

// HTTPEstimator calls an external routing service. Every request is rate
// limited and bounded by a timeout; failures are returned to the caller,
// which falls back per-leg rather than aborting the route.
type HTTPEstimator struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Limiter *rate.Limiter
	Timeout time.Duration
}

// NewHTTPEstimator constructs an estimator against a routing API endpoint.
func NewHTTPEstimator(baseURL, apiKey string, rps float64) *HTTPEstimator {
	if rps <= 0 {
		rps = 5
	}
	return &HTTPEstimator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		Timeout: 5 * time.Second,
	}
}

type routeLegResponse struct {
	DriveMinutes  int     `json:"driveMinutes"`
	DistanceMiles float64 `json:"distanceMiles"`
}

func (e *HTTPEstimator) Estimate(ctx context.Context, from, to model.Location) (Estimate, error) {
	if !from.HasCoordinates() || !to.HasCoordinates() {
		return Estimate{}, fmt.Errorf("estimate leg: coordinates missing")
	}
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	if err := e.Limiter.Wait(ctx); err != nil {
		return Estimate{}, fmt.Errorf("estimate leg: rate wait: %w", err)
	}

	q := url.Values{}
	q.Set("fromLat", fmt.Sprintf("%f", *from.Lat))
	q.Set("fromLng", fmt.Sprintf("%f", *from.Lng))
	q.Set("toLat", fmt.Sprintf("%f", *to.Lat))
	q.Set("toLng", fmt.Sprintf("%f", *to.Lng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+"/v1/route-leg?"+q.Encode(), nil)
	if err != nil {
		return Estimate{}, fmt.Errorf("estimate leg: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", e.APIKey)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return Estimate{}, fmt.Errorf("estimate leg: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Estimate{}, fmt.Errorf("estimate leg: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var leg routeLegResponse
	if err := json.NewDecoder(resp.Body).Decode(&leg); err != nil {
		return Estimate{}, fmt.Errorf("estimate leg: decode: %w", err)
	}
	if leg.DriveMinutes < 0 || leg.DistanceMiles < 0 {
		return Estimate{}, fmt.Errorf("estimate leg: negative values in response")
	}
	return Estimate{DriveMinutes: leg.DriveMinutes, Distance: leg.DistanceMiles}, nil
}
