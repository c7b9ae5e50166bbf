package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-crawler/internal/checkpoint"
	"github.com/JakeFAU/archive-crawler/internal/config"
	"github.com/JakeFAU/archive-crawler/internal/crawler"
)

const workHTML = `<html><body>
<dl class="work meta group">
  <dd class="rating tags"><ul><li><a class="tag">General Audiences</a></li></ul></dd>
  <dd class="language">English</dd>
  <dd class="published">2022-01-01</dd>
  <dd class="words">500</dd>
</dl>
<h2 class="title heading">Work %s</h2>
<h3 class="byline heading"><a rel="author">writer</a></h3>
<div id="chapters"><p>Body of %s.</p></div>
</body></html>`

func newArchive(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/works", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" && r.URL.Query().Get("page") != "" {
			fmt.Fprint(w, `<html><body><ol class="work index group"></ol></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><ol class="work index group">
<li id="work_11" class="work blurb group"></li>
<li id="work_12" class="work blurb group"></li>
</ol></body></html>`)
	})
	mux.HandleFunc("/works/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/works/")
		if id == "404" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, workHTML, id, id)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			BaseURL:        baseURL,
			UserAgent:      "archive-crawler-test",
			RequestTimeout: 5 * time.Second,
		},
		Retry: config.RetryConfig{ListingAttempts: 1},
	}
}

func TestBuildFetchesWorksEndToEnd(t *testing.T) {
	t.Parallel()

	archive := newArchive(t)
	a, err := Build(context.Background(), testConfig(archive.URL), nil, zap.NewNop())
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "fanfics.csv")
	records, err := checkpoint.OpenRecordWriter(out)
	require.NoError(t, err)
	errorsOut, err := checkpoint.OpenErrorWriter(checkpoint.ErrorPath(out))
	require.NoError(t, err)

	summary, err := a.Controller().Fetch(context.Background(), crawler.FetchRunRequest{
		IDs:     []crawler.Identifier{"7", "404", "8"},
		Options: crawler.ItemOptions{View: crawler.ViewFull},
		Records: records,
		Errors:  errorsOut,
	})
	require.NoError(t, err)
	require.NoError(t, records.Close())
	require.NoError(t, errorsOut.Close())
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)

	ids, err := checkpoint.ReadIdentifiers(out)
	require.NoError(t, err)
	require.Equal(t, []crawler.Identifier{"7", "8"}, ids)

	failed, err := os.ReadFile(checkpoint.ErrorPath(out))
	require.NoError(t, err)
	require.Contains(t, string(failed), "404,404")

	families, err := a.registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	require.Contains(t, names, "archive_crawler_fetches_total")

	require.NoError(t, a.Close(context.Background()))
	runs := a.snapshot.Runs()
	require.Len(t, runs, 1)
	require.Equal(t, "success", runs[0].Status)
	require.Equal(t, 2, runs[0].Units["success"])
}

func TestBuildDiscoverFailsWhenRobotsForbidsListing(t *testing.T) {
	t.Parallel()

	var listingHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /works?\n")
	})
	mux.HandleFunc("/works", func(w http.ResponseWriter, _ *http.Request) {
		listingHits.Add(1)
		fmt.Fprint(w, `<html><body><ol class="work index group"><li id="work_1" class="work blurb group"></li></ol></body></html>`)
	})
	archive := httptest.NewServer(mux)
	t.Cleanup(archive.Close)

	cfg := testConfig(archive.URL)
	cfg.Crawler.RespectRobots = true
	a, err := Build(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	sink, err := checkpoint.OpenDiscoveryWriter(filepath.Join(t.TempDir(), "work_ids.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	summary, err := a.Controller().Discover(context.Background(), crawler.DiscoverRequest{
		URL:   archive.URL + "/works?tag_id=x",
		Quota: crawler.Unbounded,
		Sink:  sink,
	})
	require.ErrorIs(t, err, crawler.ErrBlocked)
	require.Zero(t, summary.Written)
	require.Zero(t, listingHits.Load())
}

func TestBuildDiscoversAndExportsLocally(t *testing.T) {
	t.Parallel()

	archive := newArchive(t)
	exportDir := t.TempDir()
	cfg := testConfig(archive.URL)
	cfg.Export = config.ExportConfig{Provider: config.ExportLocal, BaseDir: exportDir, Prefix: "runs"}
	a, err := Build(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "work_ids.csv")
	sink, err := checkpoint.OpenDiscoveryWriter(out)
	require.NoError(t, err)
	summary, err := a.Controller().Discover(context.Background(), crawler.DiscoverRequest{
		URL:   archive.URL + "/works?page=1",
		Quota: crawler.Unbounded,
		Sink:  sink,
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.Equal(t, 2, summary.Written)

	require.NoError(t, a.Export(context.Background(), summary.RunID, out))
	exported, err := os.ReadFile(filepath.Join(exportDir, "runs", summary.RunID.String(), "work_ids.csv"))
	require.NoError(t, err)
	require.Contains(t, string(exported), "11,")
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildRejectsUnreachableDatabase(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://archiveofourown.org")
	cfg.DB.DSN = "::not a dsn::"
	_, err := Build(context.Background(), cfg, nil, zap.NewNop())
	require.ErrorContains(t, err, "run store init failed")
}
