package crawler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Identifier names one crawl unit (a work on the target archive).
type Identifier string

// String returns the raw identifier.
func (id Identifier) String() string {
	return string(id)
}

// OutcomeKind tags a FetchOutcome.
type OutcomeKind int

// Fetch outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransientFailure
	OutcomeDenied
	OutcomeNetworkError
	OutcomeBlocked
)

// String renders the kind for logs.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeDenied:
		return "denied"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// FetchOutcome is the result of one RetryingFetcher call. The status and error
// always describe the last attempt.
type FetchOutcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	Err        error
	Attempts   int
}

// OK reports whether the outcome carries a usable body.
func (o FetchOutcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// Reason renders the failure reason recorded in the error sink.
func (o FetchOutcome) Reason() string {
	switch o.Kind {
	case OutcomeSuccess:
		return ""
	case OutcomeDenied:
		return ReasonDenied
	case OutcomeNetworkError:
		if o.Err != nil {
			return "network error: " + o.Err.Error()
		}
		return "network error"
	case OutcomeBlocked:
		return ReasonBlocked
	default:
		return strconv.Itoa(o.StatusCode)
	}
}

// ReasonDenied is recorded when a valid page hides its content.
const ReasonDenied = "Access Denied"

// ReasonBlocked is recorded when robots.txt forbids the page.
const ReasonBlocked = "blocked by robots.txt"

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// ViewMode selects how much of a work the detail page renders.
type ViewMode int

// Supported detail page views.
const (
	ViewFull ViewMode = iota
	ViewFirstChapter
	ViewMetadataOnly
)

// IncludesBody reports whether the record body is populated for this view.
func (v ViewMode) IncludesBody() bool {
	return v != ViewMetadataOnly
}

// TagGroups holds the categorical tag columns in output order.
type TagGroups struct {
	Rating       []string
	Category     []string
	Fandom       []string
	Relationship []string
	Character    []string
	Freeform     []string
}

func (g TagGroups) columns() []string {
	groups := [][]string{g.Rating, g.Category, g.Fandom, g.Relationship, g.Character, g.Freeform}
	out := make([]string, 0, len(groups))
	for _, group := range groups {
		out = append(out, strings.Join(group, ", "))
	}
	return out
}

// Stats holds the statistic columns in output order. Missing values are
// rendered as "null" by the extractor.
type Stats struct {
	Language   string
	Published  string
	Status     string
	StatusDate string
	Words      string
	Chapters   string
	Comments   string
	Kudos      string
	Bookmarks  string
	Hits       string
}

func (s Stats) columns() []string {
	return []string{
		s.Language, s.Published, s.Status, s.StatusDate, s.Words,
		s.Chapters, s.Comments, s.Kudos, s.Bookmarks, s.Hits,
	}
}

// WorkFields is what the extraction collaborator returns for a detail page.
type WorkFields struct {
	Title   string
	Authors []string
	Tags    TagGroups
	Stats   Stats
	Kudos   []string
	Body    string
}

// Record is the structured result for one Identifier.
type Record struct {
	ID        Identifier
	Title     string
	Authors   []string
	Tags      TagGroups
	Stats     Stats
	Kudos     []string
	Bookmarks []string
	Body      string
}

// RecordHeader is the fixed column order of the record file.
var RecordHeader = []string{
	"work_id", "title", "author",
	"rating", "category", "fandom", "relationship", "character", "additional tags",
	"language", "published", "status", "status date", "words", "chapters",
	"comments", "kudos", "bookmarks", "hits",
	"all_kudos", "all_bookmarks", "body",
}

// Row renders the record in RecordHeader order.
func (r Record) Row() []string {
	row := make([]string, 0, len(RecordHeader))
	row = append(row, string(r.ID), r.Title, encodeList(r.Authors))
	row = append(row, r.Tags.columns()...)
	row = append(row, r.Stats.columns()...)
	row = append(row, encodeList(r.Kudos), encodeList(r.Bookmarks), r.Body)
	return row
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// ErrorEntry is recorded when a unit cannot produce a Record.
type ErrorEntry struct {
	ID     Identifier
	Reason string
}

// Row renders the entry as (identifier, reason).
func (e ErrorEntry) Row() []string {
	return []string{string(e.ID), e.Reason}
}

// Quota bounds the number of identifiers one discovery sequence may write.
type Quota int

// Unbounded disables the quota.
const Unbounded Quota = -1

// ParseQuota accepts "a"/"all"/"" for unbounded or a non-negative integer.
func ParseQuota(raw string) (Quota, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "a", "all":
		return Unbounded, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, &QuotaError{Raw: raw}
	}
	return Quota(n), nil
}

// Reached reports whether written identifiers satisfy the quota.
func (q Quota) Reached(written int) bool {
	if q < 0 {
		return false
	}
	return written >= int(q)
}

// String renders -1 for unbounded, matching the run summary format.
func (q Quota) String() string {
	return strconv.Itoa(int(q))
}

// QuotaError reports an unparsable quota.
type QuotaError struct {
	Raw string
}

func (e *QuotaError) Error() string {
	return "invalid quota " + strconv.Quote(e.Raw) + ": want a non-negative integer or \"a\""
}
