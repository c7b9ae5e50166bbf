// Package checkpoint persists crawl progress as append-only CSV files. Every
// row is flushed and synced before the write returns, so a resumed run can
// trust whatever is on disk.
package checkpoint

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/archive-crawler/internal/crawler"
)

// IDColumn is the header of the identifier column in record files.
const IDColumn = "work_id"

// Writer appends CSV rows to one file. Each row reaches the file in a single
// write, so an interrupted run leaves at most one torn line behind.
type Writer struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	buf   bytes.Buffer
	count int
}

// Open opens path for appending, creating it and its directory when missing.
// header is written only when the file is empty. A file whose last line was
// cut short gets a line break first so new rows start on their own line.
func Open(path string, header []string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat checkpoint %s: %w", path, err)
	}
	w := &Writer{path: path, file: file}
	if info.Size() > 0 {
		if err := w.terminateLastLine(info.Size()); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	if info.Size() == 0 && len(header) > 0 {
		if err := w.commit(header); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write header to %s: %w", path, err)
		}
	}
	return w, nil
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// Count returns the number of data rows appended through this writer.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Append durably writes one data row.
func (w *Writer) Append(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("checkpoint %s is closed", w.path)
	}
	if err := w.commit(row); err != nil {
		return fmt.Errorf("append to %s: %w", w.path, err)
	}
	w.count++
	return nil
}

func (w *Writer) commit(row []string) error {
	w.buf.Reset()
	enc := csv.NewWriter(&w.buf)
	if err := enc.Write(row); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	enc.Flush()
	if err := enc.Error(); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if _, err := w.file.Write(w.buf.Bytes()); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

func (w *Writer) terminateLastLine(size int64) error {
	// #nosec G304 -- path is the checkpoint the caller asked to open.
	file, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("inspect checkpoint %s: %w", w.path, err)
	}
	defer func() { _ = file.Close() }()
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return fmt.Errorf("inspect checkpoint %s: %w", w.path, err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := w.file.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("repair checkpoint %s: %w", w.path, err)
	}
	return nil
}

// Close closes the underlying file. Later calls are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("close checkpoint %s: %w", w.path, err)
	}
	return nil
}

// RecordWriter appends work records under the fixed record header.
type RecordWriter struct {
	*Writer
}

// OpenRecordWriter opens the record file at path.
func OpenRecordWriter(path string) (*RecordWriter, error) {
	w, err := Open(path, crawler.RecordHeader)
	if err != nil {
		return nil, err
	}
	return &RecordWriter{Writer: w}, nil
}

// WriteRecord implements crawler.RecordSink.
func (w *RecordWriter) WriteRecord(record crawler.Record) error {
	return w.Append(record.Row())
}

// ErrorWriter appends (identifier, reason) rows.
type ErrorWriter struct {
	*Writer
}

// ErrorPath returns the error file that sits next to a record file.
func ErrorPath(recordPath string) string {
	return filepath.Join(filepath.Dir(recordPath), "errors_"+filepath.Base(recordPath))
}

// OpenErrorWriter opens the error file at path.
func OpenErrorWriter(path string) (*ErrorWriter, error) {
	w, err := Open(path, nil)
	if err != nil {
		return nil, err
	}
	return &ErrorWriter{Writer: w}, nil
}

// WriteError implements crawler.ErrorSink.
func (w *ErrorWriter) WriteError(entry crawler.ErrorEntry) error {
	return w.Append(entry.Row())
}

// DiscoveryWriter appends (identifier, listing url) rows.
type DiscoveryWriter struct {
	*Writer
}

// OpenDiscoveryWriter opens the discovery file at path.
func OpenDiscoveryWriter(path string) (*DiscoveryWriter, error) {
	w, err := Open(path, nil)
	if err != nil {
		return nil, err
	}
	return &DiscoveryWriter{Writer: w}, nil
}

// WriteDiscovery implements crawler.DiscoverySink.
func (w *DiscoveryWriter) WriteDiscovery(id crawler.Identifier, source string) error {
	return w.Append([]string{id.String(), source})
}

// ReadIdentifiers returns the first column of a checkpoint file in order.
// Empty rows and a work_id header are skipped. Duplicates are kept.
func ReadIdentifiers(path string) ([]crawler.Identifier, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	var ids []crawler.Identifier
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return ids, fmt.Errorf("read %s: %w", path, err)
		}
		if len(row) == 0 {
			continue
		}
		first := strings.TrimSpace(row[0])
		if first == "" || first == IDColumn {
			continue
		}
		ids = append(ids, crawler.Identifier(first))
	}
}

// ReadPriorIdentifiers is ReadIdentifiers for hydration: a missing file
// yields no identifiers.
func ReadPriorIdentifiers(path string) ([]crawler.Identifier, error) {
	ids, err := ReadIdentifiers(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return ids, err
}

var (
	_ crawler.RecordSink    = (*RecordWriter)(nil)
	_ crawler.ErrorSink     = (*ErrorWriter)(nil)
	_ crawler.DiscoverySink = (*DiscoveryWriter)(nil)
)
