package checkpoint

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-crawler/internal/crawler"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	return rows
}

func sampleRecord(id string) crawler.Record {
	return crawler.Record{
		ID:      crawler.Identifier(id),
		Title:   "Title, with comma",
		Authors: []string{"a", "b"},
		Tags:    crawler.TagGroups{Rating: []string{"General"}, Freeform: []string{"x", "y"}},
		Stats:   crawler.Stats{Language: "English", Hits: "null"},
		Kudos:   []string{"k"},
		Body:    "line one\n\nline \"two\"",
	}
}

func TestRecordWriterWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "works.csv")

	w, err := OpenRecordWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteRecord(sampleRecord("1")))
	require.Equal(t, 1, w.Count())
	require.NoError(t, w.Close())

	w, err = OpenRecordWriter(path)
	require.NoError(t, err)
	require.Zero(t, w.Count())
	require.NoError(t, w.WriteRecord(sampleRecord("2")))
	require.NoError(t, w.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, crawler.RecordHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2", rows[2][0])
	assert.Len(t, rows[1], len(crawler.RecordHeader))
	assert.Equal(t, `["a","b"]`, rows[1][2])
	assert.Equal(t, "x, y", rows[1][8])
	assert.Equal(t, `[]`, rows[1][20], "missing bookmarks render as an empty list")
	assert.Equal(t, "line one\n\nline \"two\"", rows[1][21])
}

func TestAppendNeverRewritesExistingRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.csv")
	require.NoError(t, os.WriteFile(path, []byte("10,https://a\n11,https://a\n"), 0o644))

	w, err := OpenDiscoveryWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteDiscovery("12", "https://b"))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "10,https://a\n11,https://a\n"))
	assert.Equal(t, [][]string{{"10", "https://a"}, {"11", "https://a"}, {"12", "https://b"}}, readRows(t, path))
}

func TestErrorWriter(t *testing.T) {
	dir := t.TempDir()
	recordPath := filepath.Join(dir, "works.csv")
	errPath := ErrorPath(recordPath)
	assert.Equal(t, filepath.Join(dir, "errors_works.csv"), errPath)

	w, err := OpenErrorWriter(errPath)
	require.NoError(t, err)
	require.NoError(t, w.WriteError(crawler.ErrorEntry{ID: "5", Reason: crawler.ReasonDenied}))
	require.NoError(t, w.WriteError(crawler.ErrorEntry{ID: "6", Reason: "429"}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, [][]string{{"5", "Access Denied"}, {"6", "429"}}, readRows(t, errPath))
	assert.Error(t, w.WriteError(crawler.ErrorEntry{ID: "7"}), "closed writers reject rows")
}

func TestReadIdentifiers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "works.csv")
	w, err := OpenRecordWriter(path)
	require.NoError(t, err)
	for _, id := range []string{"3", "1", "3"} {
		require.NoError(t, w.WriteRecord(sampleRecord(id)))
	}
	require.NoError(t, w.Close())

	ids, err := ReadIdentifiers(path)
	require.NoError(t, err)
	assert.Equal(t, []crawler.Identifier{"3", "1", "3"}, ids)

	plain := filepath.Join(dir, "plain.csv")
	require.NoError(t, os.WriteFile(plain, []byte("7\n\n8,extra\n"), 0o644))
	ids, err = ReadIdentifiers(plain)
	require.NoError(t, err)
	assert.Equal(t, []crawler.Identifier{"7", "8"}, ids)

	_, err = ReadIdentifiers(filepath.Join(dir, "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	ids, err = ReadPriorIdentifiers(filepath.Join(dir, "missing.csv"))
	assert.NoError(t, err)
	assert.Empty(t, ids)
}

// A run killed after K rows leaves K intact rows; the next run appends.
func TestResumeAfterCrashKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "works.csv")
	w, err := OpenRecordWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteRecord(sampleRecord("1")))
	require.NoError(t, w.WriteRecord(sampleRecord("2")))
	// No Close: the process dies here.
	before := readRows(t, path)

	w2, err := OpenRecordWriter(path)
	require.NoError(t, err)
	require.NoError(t, w2.WriteRecord(sampleRecord("3")))
	require.NoError(t, w2.Close())
	require.NoError(t, w.Close())

	after := readRows(t, path)
	require.Len(t, after, 4)
	assert.Equal(t, before, after[:3])
}

func TestOpenStartsNewLineAfterTornRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work_ids.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,https://a\n2,https://"), 0o600))

	w, err := OpenDiscoveryWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteDiscovery("3", "https://b"))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1,https://a\n2,https://\n3,https://b\n", string(raw))

	ids, err := ReadIdentifiers(path)
	require.NoError(t, err)
	assert.Equal(t, []crawler.Identifier{"1", "2", "3"}, ids)
}

func TestOpenLeavesCompleteFileAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work_ids.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,https://a\n"), 0o600))

	w, err := OpenDiscoveryWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteDiscovery("2", "https://b"))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1,https://a\n2,https://b\n", string(raw))
}

func TestLargeRowIsWrittenWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "works.csv")
	w, err := OpenRecordWriter(path)
	require.NoError(t, err)
	record := sampleRecord("9")
	record.Body = strings.Repeat("chapter text, \"quoted\"\n", 4096)
	require.NoError(t, w.WriteRecord(record))
	require.NoError(t, w.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, record.Body, rows[1][len(rows[1])-1])
}

func TestWriteRunSummary(t *testing.T) {
	path := SummaryPath(filepath.Join(t.TempDir(), "work_ids"))
	require.True(t, strings.HasSuffix(path, "work_ids_readme.txt"))

	err := WriteRunSummary(path, RunSummary{
		URL:         "https://archive.test/works?q=x",
		Quota:       crawler.Unbounded,
		RetrievedOn: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		RunID:       "run-1",
		Tags:        []string{"Fluff", "Angst"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "url: https://archive.test/works?q=x\n"+
		"num_requested_fic: -1\n"+
		"retrieved on: 2024-01-02T03:04:05Z\n"+
		"run id: run-1\n"+
		"tags: Fluff, Angst\n", string(data))
}
