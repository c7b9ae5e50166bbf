package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	pageParam     = "page"
	otherTagParam = "work_search%5Bother_tag_names%5D"
	otherTagPlain = "work_search[other_tag_names]"
)

// ListingCursor is a position within a paginated listing query. The query
// string is kept as raw segments so the archive sees exactly the parameters
// and encoding the user pasted.
type ListingCursor struct {
	path     string
	segments []string
	page     int
	explicit bool
}

// NewListingCursor parses a listing URL. The starting page is read from the
// page parameter and defaults to 1.
func NewListingCursor(raw string) (*ListingCursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("listing url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("listing url %q must be absolute", raw)
	}
	c := &ListingCursor{page: 1}
	path, query, _ := strings.Cut(raw, "?")
	c.path = path
	if query == "" {
		return c, nil
	}
	for _, segment := range strings.Split(query, "&") {
		key, value, _ := strings.Cut(segment, "=")
		if key != pageParam {
			c.segments = append(c.segments, segment)
			continue
		}
		page, err := strconv.Atoi(value)
		if err != nil || page < 1 {
			return nil, fmt.Errorf("listing url has invalid page %q", value)
		}
		c.page = page
		c.explicit = true
	}
	return c, nil
}

// Page returns the current page number.
func (c *ListingCursor) Page() int {
	return c.page
}

// Advance moves to the next page.
func (c *ListingCursor) Advance() {
	c.page++
	c.explicit = true
}

// URL renders the listing URL for the current page.
func (c *ListingCursor) URL() string {
	segments := append([]string(nil), c.segments...)
	if c.explicit || c.page > 1 {
		segments = append(segments, pageParam+"="+strconv.Itoa(c.page))
	}
	if len(segments) == 0 {
		return c.path
	}
	return c.path + "?" + strings.Join(segments, "&")
}

// WithTag derives an independent cursor that ORs tag into the query's other
// tag filter. The new cursor starts at this cursor's page.
func (c *ListingCursor) WithTag(tag string) *ListingCursor {
	escaped := strings.ReplaceAll(url.QueryEscape(strings.TrimSpace(tag)), "+", "%20")
	derived := &ListingCursor{
		path:     c.path,
		segments: make([]string, 0, len(c.segments)+1),
		page:     c.page,
		explicit: c.explicit,
	}
	merged := false
	for _, segment := range c.segments {
		key, value, _ := strings.Cut(segment, "=")
		if merged || (key != otherTagParam && key != otherTagPlain) {
			derived.segments = append(derived.segments, segment)
			continue
		}
		if value == "" {
			value = escaped
		} else {
			value = escaped + "%2C" + value
		}
		derived.segments = append(derived.segments, key+"="+value)
		merged = true
	}
	if !merged {
		derived.segments = append(derived.segments, otherTagParam+"="+escaped)
	}
	return derived
}
