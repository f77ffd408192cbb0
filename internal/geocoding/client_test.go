package geocoding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jengzang/fleet-records-go/internal/cache"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*NominatimClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewNominatimClient(Config{
		BaseURL:    srv.URL,
		UserAgent:  "fleet-records-test",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c, srv
}

func TestReverseGeocodeFormatsAddress(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("lat") != "37.793600" || r.URL.Query().Get("lon") != "-122.395800" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") != "fleet-records-test" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"display_name":"ignored","address":{"house_number":"1234","road":"Oak Street","city":"Springfield","state":"IL","postcode":"62701"}}`))
	})

	got, err := c.ReverseGeocode(context.Background(), 37.7936, -122.3958)
	if err != nil {
		t.Fatalf("ReverseGeocode() error = %v", err)
	}
	if want := "1234 Oak Street, Springfield, IL 62701"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReverseGeocodeFallsBackToDisplayName(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"display_name":"Golden Gate Park, San Francisco","address":{"city":"San Francisco"}}`))
	})

	got, err := c.ReverseGeocode(context.Background(), 37.77, -122.48)
	if err != nil {
		t.Fatalf("ReverseGeocode() error = %v", err)
	}
	if got != "Golden Gate Park, San Francisco" {
		t.Errorf("unexpected address %q", got)
	}
}

func TestReverseGeocodeRetriesTransientFailures(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Write([]byte(`{"address":{"road":"Elm Ave"}}`))
		}
	})

	got, err := c.ReverseGeocode(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("ReverseGeocode() error = %v", err)
	}
	if got != "Elm Ave" {
		t.Errorf("unexpected address %q", got)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestReverseGeocodeGivesUpAfterRetries(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := c.ReverseGeocode(context.Background(), 1, 1); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 1 attempt plus 2 retries, got %d", n)
	}
}

func TestReverseGeocodeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	if _, err := c.ReverseGeocode(context.Background(), 1, 1); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestReverseGeocodeNoAddress(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	})

	_, err := c.ReverseGeocode(context.Background(), 0, 0)
	if !errors.Is(err, ErrNoAddress) {
		t.Errorf("expected ErrNoAddress, got %v", err)
	}
}

type countingGeocoder struct {
	calls   int
	address string
	err     error
}

func (g *countingGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	g.calls++
	return g.address, g.err
}

func TestCachedGeocoderSharesCell(t *testing.T) {
	upstream := &countingGeocoder{address: "1234 Oak Street, Springfield"}
	g := NewCachedGeocoder(upstream, cache.NewMemoryCache(100), 0)
	ctx := context.Background()

	first, err := g.ReverseGeocode(ctx, 39.781700, -89.650100)
	if err != nil {
		t.Fatalf("ReverseGeocode() error = %v", err)
	}
	// about a meter away, same cell
	second, err := g.ReverseGeocode(ctx, 39.781701, -89.650101)
	if err != nil {
		t.Fatalf("ReverseGeocode() error = %v", err)
	}

	if first != second || first != upstream.address {
		t.Errorf("unexpected addresses %q and %q", first, second)
	}
	if upstream.calls != 1 {
		t.Errorf("expected one upstream call, got %d", upstream.calls)
	}

	// several kilometers away
	if _, err := g.ReverseGeocode(ctx, 39.80, -89.60); err != nil {
		t.Fatalf("ReverseGeocode() error = %v", err)
	}
	if upstream.calls != 2 {
		t.Errorf("expected a second upstream call for a distant cell, got %d", upstream.calls)
	}
}

func TestCachedGeocoderDoesNotCacheFailures(t *testing.T) {
	upstream := &countingGeocoder{err: errors.New("boom")}
	g := NewCachedGeocoder(upstream, cache.NewMemoryCache(100), 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.ReverseGeocode(ctx, 1, 1); err == nil {
			t.Fatal("expected upstream error")
		}
	}
	if upstream.calls != 2 {
		t.Errorf("failures must not be cached, got %d upstream calls", upstream.calls)
	}
}
