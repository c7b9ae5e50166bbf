package ao3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-crawler/internal/crawler"
)

const listingPage = `<html><body><ol class="work index group">
<li id="work_101" class="work blurb group" role="article"><h4>One</h4></li>
<li id="work_202" class="work blurb group" role="article"><h4>Two</h4></li>
<li class="work blurb group"><h4>No id</h4></li>
<li id="series_9" class="series blurb group"></li>
</ol></body></html>`

const workPage = `<html><body>
<div class="wrapper">
<dl class="work meta group">
  <dt class="rating tags">Rating:</dt>
  <dd class="rating tags"><ul><li><a class="tag">Teen And Up Audiences</a></li></ul></dd>
  <dt class="category tags">Category:</dt>
  <dd class="category tags"><ul><li><a class="tag">F/M</a></li><li><a class="tag">Gen</a></li></ul></dd>
  <dd class="fandom tags"><ul><li><a class="tag">Pokémon</a></li></ul></dd>
  <dd class="relationship tags"><ul></ul></dd>
  <dd class="character tags"><ul><li><a class="tag">Ash</a></li></ul></dd>
  <dd class="freeform tags"><ul><li><a class="tag">Fluff</a></li></ul></dd>
  <dd class="language" lang="en">
      English
  </dd>
  <dd class="stats"><dl class="stats">
    <dt class="published">Published:</dt><dd class="published">2020-01-02</dd>
    <dt class="status">Updated:</dt><dd class="status">2021-03-04</dd>
    <dt class="words">Words:</dt><dd class="words">1,234</dd>
    <dt class="chapters">Chapters:</dt><dd class="chapters">2/?</dd>
    <dt class="comments">Comments:</dt><dd class="comments">5</dd>
    <dt class="kudos">Kudos:</dt><dd class="kudos">40</dd>
    <dt class="bookmarks">Bookmarks:</dt><dd class="bookmarks"><a href="/b">7</a></dd>
  </dl></dd>
</dl>
<h2 class="title heading">
  Café Days
</h2>
<h3 class="byline heading"><a rel="author">alpha</a>, <a rel="author">beta</a></h3>
<div id="chapters">
  <div class="chapter"><p>First paragraph.</p><p>Naïve second.</p></div>
</div>
<div id="kudos">
  <p class="kudos"><a href="/u/x">xena</a>, <a href="/u/y">yuri</a> and <a href="#">12 more users</a> left kudos!</p>
  <span class="kudos_expanded hidden"><a href="/u/z">zed</a> <a href="#">(collapse)</a></span>
</div>
</div></body></html>`

const oneShotPage = `<html><body>
<dl class="work meta group">
  <dd class="language">Français</dd>
  <dd class="published">2019-05-06</dd>
  <dd class="words">900</dd>
</dl>
<h2 class="title heading">Short</h2>
<h3 class="byline heading"><a>solo</a></h3>
</body></html>`

const deniedFlash = `<html><body><div class="flash error">Sorry, you don't have permission to access the page you were trying to reach.</div>
<dl class="work meta group"></dl></body></html>`

const deniedNoMeta = `<html><body><p>This work is only available to registered users of the Archive.</p></body></html>`

const bookmarksPage = `<html><body>
<li class="user short blurb group"><h5 class="byline heading"><a href="/users/ann">ann</a></h5></li>
<li class="user short blurb group"><h5 class="byline heading"><a href="/users/bo">bo</a> <a href="/x">other</a></h5></li>
<ol class="pagination actions">
  <li class="previous"><span>← Previous</span></li>
  <li><span class="current">1</span></li>
  <li><a href="?page=2">2</a></li>
  <li><a href="?page=3">3</a></li>
  <li class="next"><a href="?page=2">Next →</a></li>
</ol>
</body></html>`

func TestListingIdentifiers(t *testing.T) {
	ids, err := New("").ListingIdentifiers([]byte(listingPage))
	require.NoError(t, err)
	require.Equal(t, []crawler.Identifier{"101", "202"}, ids)

	ids, err = New("").ListingIdentifiers([]byte("<html><body>No results found.</body></html>"))
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestWorkFields(t *testing.T) {
	fields, err := New("").Work([]byte(workPage), crawler.ViewFull)
	require.NoError(t, err)

	assert.Equal(t, "Cafe Days", fields.Title)
	assert.Equal(t, []string{"alpha", "beta"}, fields.Authors)
	assert.Equal(t, []string{"Teen And Up Audiences"}, fields.Tags.Rating)
	assert.Equal(t, []string{"F/M", "Gen"}, fields.Tags.Category)
	assert.Equal(t, []string{"Pokemon"}, fields.Tags.Fandom)
	assert.Empty(t, fields.Tags.Relationship)
	assert.Equal(t, crawler.Stats{
		Language:   "English",
		Published:  "2020-01-02",
		Status:     "Updated",
		StatusDate: "2021-03-04",
		Words:      "1,234",
		Chapters:   "2/?",
		Comments:   "5",
		Kudos:      "40",
		Bookmarks:  "7",
		Hits:       "null",
	}, fields.Stats)
	assert.Equal(t, []string{"xena", "yuri", "zed"}, fields.Kudos)
	assert.Equal(t, "First paragraph.\n\nNaive second.", fields.Body)
}

func TestWorkOneShotDefaults(t *testing.T) {
	fields, err := New("").Work([]byte(oneShotPage), crawler.ViewMetadataOnly)
	require.NoError(t, err)

	assert.Equal(t, "Francais", fields.Stats.Language)
	assert.Equal(t, "Completed", fields.Stats.Status)
	assert.Equal(t, "2019-05-06", fields.Stats.StatusDate)
	assert.Equal(t, "null", fields.Stats.Hits)
	assert.Empty(t, fields.Kudos)
	assert.Empty(t, fields.Body)
}

func TestWorkDenied(t *testing.T) {
	for name, page := range map[string]string{"flash": deniedFlash, "no meta": deniedNoMeta} {
		t.Run(name, func(t *testing.T) {
			_, err := New("").Work([]byte(page), crawler.ViewFull)
			require.ErrorIs(t, err, crawler.ErrDenied)
		})
	}
}

func TestBookmarks(t *testing.T) {
	page, err := New("").Bookmarks([]byte(bookmarksPage))
	require.NoError(t, err)
	assert.Equal(t, []string{"ann", "bo"}, page.Users)
	assert.Equal(t, 3, page.LastPage)

	page, err = New("").Bookmarks([]byte(`<h5 class="byline heading"><a>solo</a></h5>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, page.Users)
	assert.Zero(t, page.LastPage)
}

func TestURLs(t *testing.T) {
	e := New("https://archive.test/")
	assert.Equal(t, "https://archive.test/works/7?view_adult=true&view_full_work=true", e.WorkURL("7", crawler.ViewFull))
	assert.Equal(t, "https://archive.test/works/7?view_adult=true", e.WorkURL("7", crawler.ViewFirstChapter))
	assert.Equal(t, "https://archive.test/works/7?view_adult=true", e.WorkURL("7", crawler.ViewMetadataOnly))
	assert.Equal(t, "https://archive.test/works/7/bookmarks", e.BookmarksURL("7", 1))
	assert.Equal(t, "https://archive.test/works/7/bookmarks?page=3", e.BookmarksURL("7", 3))
	assert.Equal(t, DefaultBaseURL+"/works/1?view_adult=true", New("").WorkURL("1", crawler.ViewFirstChapter))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Pokemon", Clean("  Pokémon\n"))
	assert.Equal(t, "fi", Clean("ﬁ"))
	assert.Equal(t, "plain", Clean("plain"))
}
