package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/archive-crawler/internal/progress"
)

// fakeClock advances only when slept on and remembers every sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
		c.sleeps = append(c.sleeps, d)
	}
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type scripted struct {
	status int
	body   string
	err    error
}

func ok(body string) scripted { return scripted{status: 200, body: body} }

func status(code int) scripted { return scripted{status: code} }

func netErr(msg string) scripted { return scripted{err: errors.New(msg)} }

func blocked() scripted { return scripted{err: fmt.Errorf("colly visit: %w", ErrBlocked)} }

// scriptedFetcher replays responses per URL. The last response of a script
// repeats; unknown URLs answer 404.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]scripted
	calls   []string
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{scripts: make(map[string][]scripted)}
}

func (f *scriptedFetcher) on(url string, responses ...scripted) *scriptedFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[url] = append(f.scripts[url], responses...)
	return f
}

func (f *scriptedFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	queue := f.scripts[req.URL]
	if len(queue) == 0 {
		return FetchResponse{URL: req.URL, StatusCode: 404}, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		f.scripts[req.URL] = queue[1:]
	}
	if next.err != nil {
		return FetchResponse{}, next.err
	}
	return FetchResponse{URL: req.URL, StatusCode: next.status, Body: []byte(next.body)}, nil
}

func (f *scriptedFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *scriptedFetcher) count(url string) int {
	n := 0
	for _, call := range f.Calls() {
		if call == url {
			n++
		}
	}
	return n
}

// textExtractor understands a tiny line format instead of markup:
// listings are comma separated ids, works are "title|language|body",
// bookmark pages are "lastPage|user,user".
type textExtractor struct{}

func (textExtractor) ListingIdentifiers(body []byte) ([]Identifier, error) {
	var ids []Identifier
	for _, part := range strings.Split(string(body), ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, Identifier(part))
		}
	}
	return ids, nil
}

func (textExtractor) Work(body []byte, _ ViewMode) (WorkFields, error) {
	text := string(body)
	if text == "denied" {
		return WorkFields{}, ErrDenied
	}
	parts := strings.SplitN(text, "|", 3)
	if len(parts) != 3 {
		return WorkFields{}, fmt.Errorf("malformed work %q", text)
	}
	return WorkFields{
		Title:   parts[0],
		Authors: []string{"author"},
		Stats:   Stats{Language: parts[1]},
		Kudos:   []string{"fan"},
		Body:    parts[2],
	}, nil
}

func (textExtractor) Bookmarks(body []byte) (BookmarkPage, error) {
	last, users, _ := strings.Cut(string(body), "|")
	n, err := strconv.Atoi(last)
	if err != nil {
		return BookmarkPage{}, err
	}
	page := BookmarkPage{LastPage: n}
	for _, user := range strings.Split(users, ",") {
		if user != "" {
			page.Users = append(page.Users, user)
		}
	}
	return page, nil
}

type testSite struct{}

func (testSite) WorkURL(id Identifier, view ViewMode) string {
	return fmt.Sprintf("https://archive.test/works/%s?view=%d", id, view)
}

func (testSite) BookmarksURL(id Identifier, page int) string {
	return fmt.Sprintf("https://archive.test/works/%s/bookmarks?page=%d", id, page)
}

func workURL(id string) string {
	return testSite{}.WorkURL(Identifier(id), ViewFull)
}

type memDiscovery struct {
	ids     []Identifier
	sources []string
	err     error
}

func (m *memDiscovery) WriteDiscovery(id Identifier, source string) error {
	if m.err != nil {
		return m.err
	}
	m.ids = append(m.ids, id)
	m.sources = append(m.sources, source)
	return nil
}

func (m *memDiscovery) Count() int { return len(m.ids) }

type memRecords struct {
	records []Record
	fail    map[Identifier]error
}

func (m *memRecords) WriteRecord(record Record) error {
	if err := m.fail[record.ID]; err != nil {
		return err
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memRecords) IDs() []Identifier {
	ids := make([]Identifier, 0, len(m.records))
	for _, r := range m.records {
		ids = append(ids, r.ID)
	}
	return ids
}

type memErrors struct {
	entries []ErrorEntry
}

func (m *memErrors) WriteError(entry ErrorEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

// idRange renders ids start..start+n-1 as a listing body.
func idRange(start, n int) string {
	parts := make([]string, 0, n)
	for i := start; i < start+n; i++ {
		parts = append(parts, strconv.Itoa(i))
	}
	return strings.Join(parts, ",")
}

func identifiers(raw ...string) []Identifier {
	out := make([]Identifier, 0, len(raw))
	for _, r := range raw {
		out = append(out, Identifier(r))
	}
	return out
}
