package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-crawler/internal/checkpoint"
	"github.com/JakeFAU/archive-crawler/internal/crawler"
	"github.com/JakeFAU/archive-crawler/internal/extract/ao3"
)

type worksOptions struct {
	csv          string
	header       string
	restart      string
	firstChapter bool
	language     string
	bookmarks    bool
	metadataOnly bool
}

// newWorksCmd creates the 'works' subcommand, which fetches works by
// identifier and appends one row per work to a checkpoint file.
func newWorksCmd() *cobra.Command {
	opts := &worksOptions{}
	cmd := &cobra.Command{
		Use:   "works (IDS... | FILE.csv)",
		Short: "Fetch works and write their metadata and text",
		Long: `Fetches each work in turn and appends its metadata, tags, statistics and
text to the output file. Works that cannot be fetched are listed in
errors_<output>. Pass --restart with the last identifier written to continue
an interrupted run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorksCommand(cmd, args, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.csv, "csv", "fanfics.csv", "output file")
	flags.StringVar(&opts.header, "header", "", "User-Agent sent with every request")
	flags.StringVar(&opts.restart, "restart", "", "skip input until this work identifier")
	flags.BoolVar(&opts.firstChapter, "firstchap", false, "only fetch the first chapter of each work")
	flags.StringVar(&opts.language, "lang", "", "only keep works in this language")
	flags.BoolVar(&opts.bookmarks, "bookmarks", false, "collect the users who bookmarked each work")
	flags.BoolVar(&opts.metadataOnly, "metadata-only", false, "only collect metadata, no text")
	return cmd
}

func runWorksCommand(cmd *cobra.Command, args []string, opts *worksOptions) error {
	instance, cfg, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := instance.Logger()

	ids, err := workIdentifiers(args)
	if err != nil {
		return err
	}

	outPath := outputPath(cfg.Output.Dir, opts.csv)
	errPath := checkpoint.ErrorPath(outPath)
	records, err := checkpoint.OpenRecordWriter(outPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := records.Close(); cerr != nil {
			logger.Warn("failed to close output file", zap.String("path", outPath), zap.Error(cerr))
		}
	}()
	failures, err := checkpoint.OpenErrorWriter(errPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := failures.Close(); cerr != nil {
			logger.Warn("failed to close error file", zap.String("path", errPath), zap.Error(cerr))
		}
	}()

	summary, err := instance.Controller().Fetch(cmd.Context(), crawler.FetchRunRequest{
		IDs:    ids,
		Resume: crawler.Identifier(strings.TrimSpace(opts.restart)),
		Options: crawler.ItemOptions{
			View:      opts.view(),
			Language:  ao3.Clean(opts.language),
			Bookmarks: opts.bookmarks,
			Headers:   requestHeaders(opts.header),
		},
		Records: records,
		Errors:  failures,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "processed %d of %d works: %d written, %d failed, %d filtered, %d skipped\n",
		summary.Processed, summary.Total, summary.Succeeded, summary.Failed, summary.Filtered, summary.Skipped)
	return instance.Export(cmd.Context(), summary.RunID, outPath, errPath)
}

func (o *worksOptions) view() crawler.ViewMode {
	switch {
	case o.metadataOnly:
		return crawler.ViewMetadataOnly
	case o.firstChapter:
		return crawler.ViewFirstChapter
	default:
		return crawler.ViewFull
	}
}

// workIdentifiers reads a single .csv argument as a checkpoint file and
// treats anything else as literal identifiers.
func workIdentifiers(args []string) ([]crawler.Identifier, error) {
	if len(args) == 1 && strings.HasSuffix(strings.ToLower(args[0]), ".csv") {
		ids, err := checkpoint.ReadIdentifiers(args[0])
		if err != nil {
			return nil, fmt.Errorf("read input identifiers: %w", err)
		}
		return ids, nil
	}
	ids := make([]crawler.Identifier, 0, len(args))
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" {
			ids = append(ids, crawler.Identifier(arg))
		}
	}
	return ids, nil
}
