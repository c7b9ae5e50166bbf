package crawler

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by the crawl components.
var (
	// ErrDenied is returned by extractors when a valid page hides its content.
	ErrDenied = errors.New("access denied")
	// ErrBlocked is wrapped by fetchers when robots.txt forbids a URL. It is
	// never retried.
	ErrBlocked = errors.New("blocked by robots.txt")
	// ErrExhausted marks a listing cursor that ran out of results.
	ErrExhausted = errors.New("listing exhausted")
)

// Fetcher is the raw transport: one request, no retries.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Clock abstracts time so pacing and backoff can be driven by a fake in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// ListingExtractor pulls identifiers out of a listing page body.
type ListingExtractor interface {
	ListingIdentifiers(body []byte) ([]Identifier, error)
}

// WorkExtractor turns a detail page body into record fields or ErrDenied.
type WorkExtractor interface {
	Work(body []byte, view ViewMode) (WorkFields, error)
}

// BookmarkPage is one page of the bookmarks sub-resource.
type BookmarkPage struct {
	Users []string
	// LastPage is the highest page number advertised by the pagination
	// widget, or 0 when the page has no pagination.
	LastPage int
}

// BookmarkExtractor reads one bookmarks page.
type BookmarkExtractor interface {
	Bookmarks(body []byte) (BookmarkPage, error)
}

// Extractor bundles the markup-specific collaborators.
type Extractor interface {
	ListingExtractor
	WorkExtractor
	BookmarkExtractor
}

// Site builds target-specific URLs.
type Site interface {
	WorkURL(id Identifier, view ViewMode) string
	BookmarksURL(id Identifier, page int) string
}

// RecordSink durably appends records.
type RecordSink interface {
	WriteRecord(record Record) error
}

// ErrorSink durably appends error entries.
type ErrorSink interface {
	WriteError(entry ErrorEntry) error
}

// DiscoverySink durably appends discovered identifiers with their source URL.
// Count returns the rows recorded through the sink and drives the walk quota.
type DiscoverySink interface {
	WriteDiscovery(id Identifier, source string) error
	Count() int
}
