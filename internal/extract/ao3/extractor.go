// Package ao3 reads Archive of Our Own markup: listing pages, work pages and
// bookmark pages. It also builds the archive's work and bookmark URLs.
package ao3

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/archive-crawler/internal/crawler"
)

// DefaultBaseURL is the public archive.
const DefaultBaseURL = "https://archiveofourown.org"

const missingStat = "null"

var statClasses = []string{"language", "published", "status", "words", "chapters", "comments", "kudos", "bookmarks", "hits"}

// Extractor implements crawler.Extractor and crawler.Site for the archive.
type Extractor struct {
	baseURL string
}

// New returns an Extractor rooted at baseURL, or the public archive when empty.
func New(baseURL string) *Extractor {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Extractor{baseURL: baseURL}
}

// WorkURL renders the detail page URL. Adult content is always shown; the
// full work is requested unless only the first chapter is wanted.
func (e *Extractor) WorkURL(id crawler.Identifier, view crawler.ViewMode) string {
	u := fmt.Sprintf("%s/works/%s?view_adult=true", e.baseURL, id)
	if view == crawler.ViewFull {
		u += "&view_full_work=true"
	}
	return u
}

// BookmarksURL renders one page of a work's bookmarks.
func (e *Extractor) BookmarksURL(id crawler.Identifier, page int) string {
	u := fmt.Sprintf("%s/works/%s/bookmarks", e.baseURL, id)
	if page > 1 {
		u += "?page=" + strconv.Itoa(page)
	}
	return u
}

// ListingIdentifiers returns the work ids of a search or tag listing page in
// page order.
func (e *Extractor) ListingIdentifiers(body []byte) ([]crawler.Identifier, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, err
	}
	var ids []crawler.Identifier
	doc.Find("li.work.blurb.group").Each(func(_ int, s *goquery.Selection) {
		raw, ok := s.Attr("id")
		if !ok {
			return
		}
		if id := strings.TrimPrefix(strings.TrimSpace(raw), "work_"); id != "" {
			ids = append(ids, crawler.Identifier(id))
		}
	})
	return ids, nil
}

// Work extracts record fields from a work page. Pages that render an error
// flash or lack the work meta block are reported as crawler.ErrDenied.
func (e *Extractor) Work(body []byte, view crawler.ViewMode) (crawler.WorkFields, error) {
	doc, err := parse(body)
	if err != nil {
		return crawler.WorkFields{}, err
	}
	if denied(doc) {
		return crawler.WorkFields{}, crawler.ErrDenied
	}
	meta := doc.Find("dl.work.meta.group").First()
	fields := crawler.WorkFields{
		Title:   Clean(doc.Find("h2.title.heading").First().Text()),
		Authors: childLinks(doc.Find("h3.byline.heading").First()),
		Tags: crawler.TagGroups{
			Rating:       tagList(meta, "rating"),
			Category:     tagList(meta, "category"),
			Fandom:       tagList(meta, "fandom"),
			Relationship: tagList(meta, "relationship"),
			Character:    tagList(meta, "character"),
			Freeform:     tagList(meta, "freeform"),
		},
		Stats: stats(meta),
		Kudos: append(kudos(doc.Find("p.kudos").First()), kudos(doc.Find("span.kudos_expanded.hidden").First())...),
	}
	if view.IncludesBody() {
		var paragraphs []string
		doc.Find("div#chapters p").Each(func(_ int, s *goquery.Selection) {
			paragraphs = append(paragraphs, Clean(s.Text()))
		})
		fields.Body = strings.Join(paragraphs, "\n\n")
	}
	return fields, nil
}

// Bookmarks reads the users on one bookmarks page and the last page number
// advertised by the pagination widget.
func (e *Extractor) Bookmarks(body []byte) (crawler.BookmarkPage, error) {
	doc, err := parse(body)
	if err != nil {
		return crawler.BookmarkPage{}, err
	}
	page := crawler.BookmarkPage{}
	doc.Find("h5.byline.heading").Each(func(_ int, s *goquery.Selection) {
		if user := strings.TrimSpace(s.ChildrenFiltered("a").First().Text()); user != "" {
			page.Users = append(page.Users, user)
		}
	})
	items := doc.Find("ol.pagination.actions").First().ChildrenFiltered("li")
	if n := items.Length(); n >= 2 {
		last, err := strconv.Atoi(strings.TrimSpace(items.Eq(n - 2).Text()))
		if err == nil {
			page.LastPage = last
		}
	}
	return page, nil
}

func parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func denied(doc *goquery.Document) bool {
	if doc.Find(".flash.error").Length() > 0 {
		return true
	}
	return doc.Find(".work.meta.group").Length() == 0
}

func tagList(meta *goquery.Selection, category string) []string {
	tags := []string{}
	meta.Find("dd." + category + ".tags .tag").Each(func(_ int, s *goquery.Selection) {
		tags = append(tags, Clean(s.Text()))
	})
	return tags
}

// stats returns the statistic columns. A missing status date falls back to
// the published date and any other missing value becomes "null".
func stats(meta *goquery.Selection) crawler.Stats {
	values := make(map[string]string, len(statClasses))
	for _, class := range statClasses {
		if dd := meta.Find("dd." + class).First(); dd.Length() > 0 {
			values[class] = Clean(dd.Text())
		}
	}
	if _, ok := values["status"]; !ok {
		if published, ok := values["published"]; ok {
			values["status"] = published
		}
	}
	get := func(class string) string {
		if v, ok := values[class]; ok {
			return v
		}
		return missingStat
	}
	label := "Completed"
	if dt := meta.Find("dt.status").First(); dt.Length() > 0 {
		label = strings.Trim(strings.TrimSpace(dt.Text()), ":")
	}
	return crawler.Stats{
		Language:   get("language"),
		Published:  get("published"),
		Status:     label,
		StatusDate: get("status"),
		Words:      get("words"),
		Chapters:   get("chapters"),
		Comments:   get("comments"),
		Kudos:      get("kudos"),
		Bookmarks:  get("bookmarks"),
		Hits:       get("hits"),
	}
}

func childLinks(s *goquery.Selection) []string {
	out := []string{}
	s.ChildrenFiltered("a").Each(func(_ int, a *goquery.Selection) {
		if name := strings.TrimSpace(a.Text()); name != "" {
			out = append(out, name)
		}
	})
	return out
}

func kudos(s *goquery.Selection) []string {
	users := []string{}
	for _, name := range childLinks(s) {
		if strings.Contains(name, "more users") || strings.Contains(name, "(collapse)") {
			continue
		}
		users = append(users, name)
	}
	return users
}

var (
	_ crawler.Extractor = (*Extractor)(nil)
	_ crawler.Site      = (*Extractor)(nil)
)
