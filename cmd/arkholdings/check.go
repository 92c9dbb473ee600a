package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/sawpanic/arkholdings/internal/holdings"
	applog "github.com/sawpanic/arkholdings/internal/log"
	"github.com/sawpanic/arkholdings/internal/projection"
	"github.com/sawpanic/arkholdings/internal/ticker"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify every served ticker has a readable dataset",
		Long: `Loads the dataset of every ticker the configured endpoints serve, projects it
to JSON and reads it back. Reports tickers without a dataset and datasets no
endpoint serves. Exits non-zero when any served ticker fails.`,
		RunE: runCheck,
	}
	cmd.Flags().String("data-dir", "", "Parquet dataset directory")
	cmd.Flags().String("backend", "", "Storage backend (parquet|postgres)")
	cmd.Flags().Int("concurrency", 4, "Datasets loaded in parallel")
	return cmd
}

// Check statuses.
const (
	statusOK      = "ok"
	statusMissing = "missing"
	statusError   = "error"
)

type datasetCheck struct {
	Ticker ticker.Ticker
	Status string
	Rows   int
	First  string
	Last   string
	Err    error
}

type checkReport struct {
	Results []datasetCheck
	// Orphans are datasets present in storage that no endpoint serves.
	Orphans []string
}

func (r checkReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status != statusOK {
			n++
		}
	}
	return n
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeStore, err := openStore(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var served []ticker.Ticker
	for _, ep := range cfg.Endpoints {
		set, err := ticker.Lookup(ep.Tickers)
		if err != nil {
			return fmt.Errorf("endpoint %s: %w", ep.Path, err)
		}
		served = append(served, set.Members()...)
	}

	out := cmd.OutOrStdout()
	render := false
	if f, ok := out.(*os.File); ok {
		render = term.IsTerminal(int(f.Fd()))
	}
	progress := applog.NewProgress(cmd.ErrOrStderr(), "check", len(dedupe(served)), render)

	report, err := checkDatasets(ctx, store, served, concurrency, progress)
	if err != nil {
		return err
	}
	progress.Finish()
	printReport(out, report)

	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d of %d served tickers failed", n, len(report.Results))
	}
	return nil
}

func dedupe(ts []ticker.Ticker) []ticker.Ticker {
	seen := make(map[ticker.Ticker]bool, len(ts))
	var out []ticker.Ticker
	for _, t := range ts {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// checkDatasets loads every served ticker with bounded parallelism. Per-ticker
// failures are reported, not returned; only an inventory failure aborts.
func checkDatasets(ctx context.Context, store holdings.Store, served []ticker.Ticker, concurrency int, progress *applog.Progress) (checkReport, error) {
	tickers := dedupe(served)
	results := make([]datasetCheck, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, t := range tickers {
		i, t := i, t
		g.Go(func() error {
			results[i] = checkOne(gctx, store, t)
			if progress != nil {
				progress.Step(t.String(), results[i].Status == statusOK)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return checkReport{}, err
	}

	inventory, err := store.Inventory(ctx)
	if err != nil {
		return checkReport{}, fmt.Errorf("inventory: %w", err)
	}
	servedSet := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		servedSet[t.String()] = true
	}
	report := checkReport{Results: results}
	for _, name := range inventory {
		if !servedSet[name] {
			report.Orphans = append(report.Orphans, name)
		}
	}
	return report, nil
}

func checkOne(ctx context.Context, store holdings.Store, t ticker.Ticker) datasetCheck {
	res := datasetCheck{Ticker: t, Status: statusOK}

	ds, err := store.Load(ctx, t)
	if err != nil {
		res.Err = err
		res.Status = statusError
		if errors.Is(err, holdings.ErrDatasetNotFound) {
			res.Status = statusMissing
		}
		return res
	}

	body, err := projection.JSON(ds)
	if err == nil {
		var records []projection.Record
		records, err = projection.Decode(body)
		if err == nil && len(records) != ds.Len() {
			err = fmt.Errorf("projected %d rows, read back %d", ds.Len(), len(records))
		}
	}
	if err != nil {
		res.Err = err
		res.Status = statusError
		return res
	}

	res.Rows = ds.Len()
	var first, last *holdings.Date
	for _, row := range ds.Rows {
		if row.Date == nil {
			continue
		}
		if first == nil || row.Date.Before(*first) {
			first = row.Date
		}
		if last == nil || row.Date.After(*last) {
			last = row.Date
		}
	}
	if first != nil {
		res.First, res.Last = first.String(), last.String()
	}
	return res
}

func printReport(w io.Writer, r checkReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tSTATUS\tROWS\tFIRST\tLAST\tDETAIL")
	for _, res := range r.Results {
		detail := ""
		if res.Err != nil {
			detail = res.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", res.Ticker, res.Status, res.Rows, dash(res.First), dash(res.Last), detail)
	}
	_ = tw.Flush()

	if len(r.Orphans) > 0 {
		fmt.Fprintf(w, "\nDatasets not served by any endpoint: %v\n", r.Orphans)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
