// Package metrics exposes Prometheus collectors for outbound fetches and the
// status server.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/archive-crawler/internal/crawler"
)

// Collectors holds the transport and HTTP server metrics for one registry.
type Collectors struct {
	fetchesTotal          *prometheus.CounterVec
	fetchBytesTotal       *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurSeconds *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_crawler_fetches_total",
				Help: "Raw fetches issued, labeled by site and status code.",
			},
			[]string{"site", "status"},
		),
		fetchBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_crawler_fetch_bytes_total",
				Help: "Response bytes received, labeled by site.",
			},
			[]string{"site"},
		),
		fetchDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_crawler_fetch_duration_seconds",
				Help:    "Latency of raw fetches, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_crawler_http_requests_total",
				Help: "Status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_crawler_http_request_duration_seconds",
				Help:    "Status server latency, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		),
	}
	for _, collector := range []prometheus.Collector{
		c.fetchesTotal,
		c.fetchBytesTotal,
		c.fetchDurationSeconds,
		c.httpRequestsTotal,
		c.httpRequestDurSeconds,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	return c, nil
}

// SanitizeSite reduces a URL to a lowercase hostname, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// InstrumentFetcher wraps next so every raw fetch is counted. Transport
// errors are labeled "error".
func (c *Collectors) InstrumentFetcher(next crawler.Fetcher) crawler.Fetcher {
	return &instrumentedFetcher{next: next, metrics: c}
}

type instrumentedFetcher struct {
	next    crawler.Fetcher
	metrics *Collectors
}

func (f *instrumentedFetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := f.next.Fetch(ctx, request)
	if errors.Is(err, context.Canceled) {
		return resp, err
	}
	site := SanitizeSite(request.URL)
	status := "error"
	switch {
	case resp.StatusCode > 0:
		status = strconv.Itoa(resp.StatusCode)
	case errors.Is(err, crawler.ErrBlocked):
		status = "blocked"
	}
	f.metrics.fetchesTotal.WithLabelValues(site, status).Inc()
	if n := len(resp.Body); n > 0 {
		f.metrics.fetchBytesTotal.WithLabelValues(site).Add(float64(n))
	}
	if resp.Duration > 0 {
		f.metrics.fetchDurationSeconds.WithLabelValues(site).Observe(resp.Duration.Seconds())
	}
	return resp, err
}
