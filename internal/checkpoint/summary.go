package checkpoint

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/JakeFAU/archive-crawler/internal/crawler"
)

// RunSummary is the human-readable companion of a discovery file.
type RunSummary struct {
	URL              string
	Quota            crawler.Quota
	RetrievedOn      time.Time
	RunID            string
	Tags             []string
	MultichapterOnly bool
}

// SummaryPath returns the readme path for a discovery output stem.
func SummaryPath(stem string) string {
	return stem + "_readme.txt"
}

// WriteRunSummary replaces the summary file at path.
func WriteRunSummary(path string, s RunSummary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "url: %s\n", s.URL)
	fmt.Fprintf(&b, "num_requested_fic: %s\n", s.Quota)
	fmt.Fprintf(&b, "retrieved on: %s\n", s.RetrievedOn.Format(time.RFC3339))
	if s.RunID != "" {
		fmt.Fprintf(&b, "run id: %s\n", s.RunID)
	}
	if len(s.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(s.Tags, ", "))
	}
	if s.MultichapterOnly {
		b.WriteString("multichapter only: true\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write run summary %s: %w", path, err)
	}
	return nil
}
