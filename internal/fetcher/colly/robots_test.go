package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// scriptedTrip answers round trips from a fixed list, repeating the last entry.
type scriptedTrip struct {
	answers []tripAnswer
	calls   int
}

type tripAnswer struct {
	resp *http.Response
	err  error
}

func (s *scriptedTrip) RoundTrip(_ *http.Request) (*http.Response, error) {
	i := min(s.calls, len(s.answers)-1)
	s.calls++
	return s.answers[i].resp, s.answers[i].err
}

func quickRobots(next http.RoundTripper) *robotsTransport {
	t := newRobotsTransport(next, nil)
	t.backoff = []time.Duration{0, 0, 0}
	return t
}

func TestRobotsTimeoutsFallBackToAllowAll(t *testing.T) {
	t.Parallel()

	next := &scriptedTrip{answers: []tripAnswer{{err: context.DeadlineExceeded}}}
	resp, err := quickRobots(next).RoundTrip(httptest.NewRequest(http.MethodGet, "https://archiveofourown.org/robots.txt", nil))
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != allowAllRobots {
		t.Fatalf("unexpected fallback body: %q", body)
	}
	if next.calls != 4 {
		t.Fatalf("expected 4 probes, got %d", next.calls)
	}
}

func TestRobotsProbeStopsOnceAnswered(t *testing.T) {
	t.Parallel()

	next := &scriptedTrip{answers: []tripAnswer{
		{err: context.DeadlineExceeded},
		{resp: httptest.NewRecorder().Result()},
	}}
	resp, err := quickRobots(next).RoundTrip(httptest.NewRequest(http.MethodGet, "https://archiveofourown.org/robots.txt", nil))
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	_ = resp.Body.Close()
	if next.calls != 2 {
		t.Fatalf("expected 2 probes, got %d", next.calls)
	}
}

func TestRobotsTransportLeavesPagesAlone(t *testing.T) {
	t.Parallel()

	next := &scriptedTrip{answers: []tripAnswer{{err: context.DeadlineExceeded}}}
	if _, err := quickRobots(next).RoundTrip(httptest.NewRequest(http.MethodGet, "https://archiveofourown.org/works", nil)); err == nil {
		t.Fatal("expected page errors to surface")
	}
	if next.calls != 1 {
		t.Fatalf("expected a single attempt for pages, got %d", next.calls)
	}
}

func TestRobotsProbeSurfacesPermanentErrors(t *testing.T) {
	t.Parallel()

	next := &scriptedTrip{answers: []tripAnswer{{err: errors.New("no such host")}}}
	if _, err := quickRobots(next).RoundTrip(httptest.NewRequest(http.MethodGet, "https://archiveofourown.org/robots.txt", nil)); err == nil {
		t.Fatal("expected permanent robots error to surface")
	}
	if next.calls != 1 {
		t.Fatalf("expected no retries, got %d", next.calls)
	}
}

func TestRobotsProbeHonoursCancellation(t *testing.T) {
	t.Parallel()

	next := &scriptedTrip{answers: []tripAnswer{{err: context.DeadlineExceeded}}}
	transport := newRobotsTransport(next, nil)
	transport.backoff = []time.Duration{time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "https://archiveofourown.org/robots.txt", nil).WithContext(ctx)
	if _, err := transport.RoundTrip(req); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
