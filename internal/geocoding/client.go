package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jengzang/fleet-records-go/internal/observability"
	"github.com/jengzang/fleet-records-go/internal/throttle"
)

// ErrNoAddress is returned when the geocoder has no address for a coordinate
var ErrNoAddress = errors.New("no address for coordinate")

// Config holds the reverse geocoder client settings
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration // per attempt
	MaxRetries int           // additional attempts after the first
	Backoff    time.Duration // first retry delay, doubled per attempt
	RateLimit  int           // requests per minute, 0 disables
}

// NominatimClient reverse geocodes coordinates against a Nominatim compatible API
type NominatimClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *throttle.Limiter
	host       string
}

// NewNominatimClient creates a new reverse geocoding client
func NewNominatimClient(cfg Config) *NominatimClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	host := cfg.BaseURL
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}

	return &NominatimClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: throttle.NewLimiter(cfg.RateLimit, time.Minute),
		host:    host,
	}
}

// Close releases the client's rate limiter
func (c *NominatimClient) Close() {
	c.limiter.Close()
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error,omitempty"`
	Address     struct {
		HouseNumber string `json:"house_number"`
		Road        string `json:"road"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		State       string `json:"state"`
		Postcode    string `json:"postcode"`
	} `json:"address"`
}

// retryableError marks failures worth another attempt
type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// ReverseGeocode returns a street address for the coordinate. Transient
// failures are retried with exponential backoff.
func (c *NominatimClient) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	start := time.Now()
	defer observability.ObserveGeocodeLatency(start)

	var lastErr error
	delay := c.cfg.Backoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				observability.GeocodeRequests.WithLabelValues("canceled").Inc()
				return "", ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		if err := c.limiter.Wait(ctx, c.host); err != nil {
			observability.GeocodeRequests.WithLabelValues("canceled").Inc()
			return "", err
		}

		address, err := c.fetch(ctx, lat, lng)
		if err == nil {
			observability.GeocodeRequests.WithLabelValues("ok").Inc()
			return address, nil
		}
		lastErr = err

		var retryable retryableError
		if !errors.As(err, &retryable) {
			break
		}
		log.Printf("[Geocoder] Attempt %d/%d failed for (%.6f, %.6f): %v", attempt+1, c.cfg.MaxRetries+1, lat, lng, err)
	}

	if errors.Is(lastErr, ErrNoAddress) {
		observability.GeocodeRequests.WithLabelValues("empty").Inc()
	} else {
		observability.GeocodeRequests.WithLabelValues("error").Inc()
	}
	return "", fmt.Errorf("failed to reverse geocode (%.6f, %.6f): %w", lat, lng, lastErr)
}

func (c *NominatimClient) fetch(ctx context.Context, lat, lng float64) (string, error) {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	params.Set("addressdetails", "1")

	reqURL := fmt.Sprintf("%s/reverse?%s", strings.TrimRight(c.cfg.BaseURL, "/"), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", retryableError{fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", retryableError{fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if body.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, body.Error)
	}

	return formatAddress(body), nil
}

// formatAddress renders "house road, city, state postcode" when the parts are
// known and falls back to the display name
func formatAddress(r reverseResponse) string {
	a := r.Address
	if a.Road == "" {
		return r.DisplayName
	}

	street := a.Road
	if a.HouseNumber != "" {
		street = a.HouseNumber + " " + a.Road
	}

	parts := []string{street}
	for _, city := range []string{a.City, a.Town, a.Village} {
		if city != "" {
			parts = append(parts, city)
			break
		}
	}
	if region := strings.TrimSpace(a.State + " " + a.Postcode); region != "" {
		parts = append(parts, region)
	}
	return strings.Join(parts, ", ")
}
