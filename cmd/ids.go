package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-crawler/internal/checkpoint"
	"github.com/JakeFAU/archive-crawler/internal/crawler"
)

type idsOptions struct {
	outCSV           string
	header           string
	numToRetrieve    string
	multichapterOnly bool
	tagCSV           string
}

// newIDsCmd creates the 'ids' subcommand, which walks a listing URL and
// appends every new work identifier to a checkpoint file.
func newIDsCmd() *cobra.Command {
	opts := &idsOptions{}
	cmd := &cobra.Command{
		Use:   "ids URL",
		Short: "Collect work identifiers from a listing URL",
		Long: `Walks the pages of a works listing and appends each work identifier to
<out_csv>.csv together with the listing page it came from. Identifiers already
in the file are never written again, so the command can be rerun to top up a
previous collection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIDsCommand(cmd, args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.outCSV, "out_csv", "work_ids", "output file stem; .csv is appended")
	flags.StringVar(&opts.header, "header", "", "User-Agent sent with every request")
	flags.StringVar(&opts.numToRetrieve, "num_to_retrieve", "a", `number of identifiers to collect, or "a" for all`)
	flags.BoolVar(&opts.multichapterOnly, "multichapter_only", false, "only collect multichapter works")
	flags.StringVar(&opts.tagCSV, "tag_csv", "", "file of extra tags to OR into the query, one per row")
	return cmd
}

func runIDsCommand(cmd *cobra.Command, listingURL string, opts *idsOptions) error {
	instance, cfg, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := instance.Logger()

	quota, err := crawler.ParseQuota(opts.numToRetrieve)
	if err != nil {
		return err
	}
	var tags []string
	if opts.tagCSV != "" {
		rows, err := checkpoint.ReadIdentifiers(opts.tagCSV)
		if err != nil {
			return fmt.Errorf("read tag file: %w", err)
		}
		for _, row := range rows {
			tags = append(tags, row.String())
		}
	}

	stem := outputPath(cfg.Output.Dir, strings.TrimSuffix(opts.outCSV, ".csv"))
	outPath := stem + ".csv"
	summaryPath := checkpoint.SummaryPath(stem)
	summary := checkpoint.RunSummary{
		URL:              listingURL,
		Quota:            quota,
		RetrievedOn:      time.Now(),
		Tags:             tags,
		MultichapterOnly: opts.multichapterOnly,
	}

	prior, err := checkpoint.ReadPriorIdentifiers(outPath)
	if err != nil {
		return fmt.Errorf("read existing identifiers: %w", err)
	}
	sink, err := checkpoint.OpenDiscoveryWriter(outPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Warn("failed to close identifier file", zap.String("path", outPath), zap.Error(cerr))
		}
	}()
	if err := checkpoint.WriteRunSummary(summaryPath, summary); err != nil {
		return err
	}

	result, runErr := instance.Controller().Discover(cmd.Context(), crawler.DiscoverRequest{
		URL:     listingURL,
		Tags:    tags,
		Quota:   quota,
		Prior:   prior,
		Headers: requestHeaders(opts.header),
		Sink:    sink,
	})
	summary.RunID = result.RunID.String()
	if err := checkpoint.WriteRunSummary(summaryPath, summary); err != nil {
		logger.Warn("failed to update run summary", zap.String("path", summaryPath), zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "collected %d new identifiers from %d pages into %s\n",
		result.Written, result.Pages, outPath)
	return instance.Export(cmd.Context(), result.RunID, outPath, summaryPath)
}
