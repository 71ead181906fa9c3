// Package pipeline orchestrates a full run: classify header records, pull
// notice text out of the filing PDFs, extract holder and voting fields,
// resolve holder identities per ticker, reconcile event histories and
// write the tabular artifacts.
//
// Failures are isolated to their filing or ticker and aggregated into a
// failure artifact; no single failure halts the rest of the batch. A run
// always completes and emits both a success artifact and a failure
// artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/investair/holdwatch/docext"
	"github.com/investair/holdwatch/fields"
	"github.com/investair/holdwatch/header"
	"github.com/investair/holdwatch/objstore"
	"github.com/investair/holdwatch/reconcile"
	"github.com/investair/holdwatch/resolve"
	"github.com/investair/holdwatch/retry"
	"github.com/investair/holdwatch/segment"
	"github.com/investair/holdwatch/store"
)

// TextExtractor is the document-text seam; *docext.Extractor implements
// it.
type TextExtractor interface {
	Text(ctx context.Context, filingID string, pdf []byte) (string, error)
}

// Runner executes pipeline runs.
type Runner struct {
	cfg     *Config
	objects objstore.Store
	db      *store.Store
	extract TextExtractor
	policy  retry.Policy
	logger  *slog.Logger
}

// New wires a Runner. Logger may be nil.
func New(cfg *Config, objects objstore.Store, db *store.Store, extract TextExtractor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:     cfg,
		objects: objects,
		db:      db,
		extract: extract,
		policy:  cfg.RetryPolicy(),
		logger:  logger,
	}
}

// Report summarises one run.
type Report struct {
	Classified    int // headers parsed and stored this run
	Malformed     int // header records rejected with FormatError
	Skipped       int // filings already classified in a previous run
	Extracted     int // raw events written
	Failed        int // filings recorded in the failure artifact
	Tickers       int // tickers reconciled
	NoInformation []reconcile.NoInformation
	Exports       []string // artifact paths written
}

// candidate is a substantial-holding filing queued for extraction.
type candidate struct {
	ann    *header.Announcement
	pdfKey string
}

// outcome is one extraction result folded by the single consumer.
type outcome struct {
	event   *reconcile.Event
	failure *store.Failure
}

// Run processes every filing under the configured prefix end to end.
// Only infrastructure breakage (store or listing unavailable) returns an
// error; per-filing problems land in the failure artifact.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	candidates, err := r.classify(ctx, report)
	if err != nil {
		return nil, err
	}
	if err := r.extractAll(ctx, candidates, report); err != nil {
		return nil, err
	}
	if err := r.reconcileAll(ctx, report); err != nil {
		return nil, err
	}
	if err := r.export(ctx, report); err != nil {
		return nil, err
	}

	r.logger.Info("run complete",
		"classified", report.Classified, "skipped", report.Skipped,
		"extracted", report.Extracted, "failed", report.Failed,
		"tickers", report.Tickers)
	return report, nil
}

// classify parses every header record under the prefix and collects the
// substantial-holding filings still needing extraction.
func (r *Runner) classify(ctx context.Context, report *Report) ([]candidate, error) {
	var keys []string
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		keys, err = r.objects.List(ctx, r.cfg.Prefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: list objects: %w", err)
	}

	var candidates []candidate
	for _, key := range keys {
		if !isHeaderKey(key) {
			continue
		}
		filingID := objstore.FilingID(key)

		exists, err := r.db.AnnouncementExists(ctx, filingID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: existence check: %w", err)
		}
		if exists {
			report.Skipped++
			continue
		}

		data, err := r.fetch(ctx, key)
		if err != nil {
			r.recordFailure(ctx, report, store.Failure{
				FilingID: filingID, Stage: "fetch-header", Reason: err.Error(),
			})
			continue
		}

		ann, err := header.Parse(filingID, string(data))
		if err != nil {
			var fe *header.FormatError
			if errors.As(err, &fe) {
				// Structurally invalid headers are skipped and logged,
				// never fatal to the batch.
				r.logger.Warn("malformed header", "filing", filingID, "reason", fe.Reason)
				report.Malformed++
				continue
			}
			return nil, err
		}

		if _, err := r.db.InsertAnnouncement(ctx, ann); err != nil {
			return nil, err
		}
		report.Classified++

		if ann.SubstantialHolding() && ann.Ticker != header.UnknownTicker {
			candidates = append(candidates, candidate{ann: ann, pdfKey: filingID + ".pdf"})
		}
	}
	return candidates, nil
}

// extractAll runs document extraction across a bounded worker pool. The
// workers push outcomes into a channel and a single consumer folds them
// into the store sequentially.
func (r *Runner) extractAll(ctx context.Context, candidates []candidate, report *Report) error {
	if len(candidates) == 0 {
		return nil
	}

	outcomes := make(chan outcome)
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- r.consume(ctx, outcomes, report)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, c := range candidates {
		g.Go(func() error {
			outcomes <- r.extractOne(gctx, c)
			return nil
		})
	}
	werr := g.Wait()
	close(outcomes)
	cerr := <-consumerDone
	if werr != nil {
		return werr
	}
	return cerr
}

// consume folds outcomes into the store. It drains the channel to the
// end even after a store error so producers never block on send; the
// first error is returned.
func (r *Runner) consume(ctx context.Context, outcomes <-chan outcome, report *Report) error {
	var firstErr error
	for o := range outcomes {
		if firstErr != nil {
			continue
		}
		switch {
		case o.failure != nil:
			if err := r.db.InsertFailure(ctx, *o.failure); err != nil {
				firstErr = err
				continue
			}
			report.Failed++
		case o.event != nil:
			if err := r.db.UpsertEvent(ctx, *o.event); err != nil {
				firstErr = err
				continue
			}
			report.Extracted++
		}
	}
	return firstErr
}

// extractOne turns one filing into a raw event, or a recorded failure.
// Partial extraction is not a failure: missing fields stay null and the
// record is kept, making the gap visible instead of losing it.
func (r *Runner) extractOne(ctx context.Context, c candidate) outcome {
	a := c.ann

	pdf, err := r.fetch(ctx, c.pdfKey)
	if err != nil {
		return outcome{failure: &store.Failure{
			FilingID: a.FilingID, Ticker: a.Ticker, Stage: "fetch-pdf", Reason: err.Error(),
		}}
	}

	text, err := r.extract.Text(ctx, a.FilingID, pdf)
	if err != nil {
		return outcome{failure: &store.Failure{
			FilingID: a.FilingID, Ticker: a.Ticker, Stage: "extract", Reason: err.Error(),
		}}
	}

	secs := segment.Split(text, segment.DefaultHeadings)
	ev := &reconcile.Event{
		FilingID: a.FilingID,
		Ticker:   a.Ticker,
		Holder:   fields.HolderName(secs.Body("details of substantial holder")),
		Type:     eventType(a),
		Voting:   fields.ExtractVoting(secs.Body("previous and present voting power")),
	}
	if d, ok := objstore.KeyDate(c.pdfKey); ok {
		ev.Date = &d
	}
	return outcome{event: ev}
}

// reconcileAll resolves identities and rebuilds the derived views for
// every ticker with events. Tickers are independent and distributed
// across the worker pool; aggregation into the report is lock-protected.
func (r *Runner) reconcileAll(ctx context.Context, report *Report) error {
	tickers, err := r.db.EventTickers(ctx)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, ticker := range tickers {
		g.Go(func() error {
			noInfo, err := r.reconcileTicker(gctx, ticker)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Tickers++
			report.NoInformation = append(report.NoInformation, noInfo...)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// reconcileTicker is the single-threaded per-ticker pass: clustering
// state is accumulate-only and order-sensitive, so no concurrency inside
// a ticker.
func (r *Runner) reconcileTicker(ctx context.Context, ticker string) ([]reconcile.NoInformation, error) {
	events, err := r.db.EventsByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}

	clusters := resolve.New(resolve.Options{Threshold: r.cfg.SimilarityThreshold})
	seed, err := r.db.CanonicalMap(ctx, ticker)
	if err != nil {
		return nil, err
	}
	clusters.Seed(seed)

	for i := range events {
		ev := &events[i]
		if ev.Holder == "" {
			continue
		}
		canon := clusters.Assign(ev.Holder)
		if err := r.db.SetCanonical(ctx, ticker, ev.Holder, canon); err != nil {
			return nil, err
		}
		if ev.Canonical != canon {
			ev.Canonical = canon
			if err := r.db.UpsertEvent(ctx, *ev); err != nil {
				return nil, err
			}
		}
	}

	_, noInfo := reconcile.BuildHistories(events)
	return noInfo, nil
}

// export writes the per-ticker tabular artifacts for downstream
// reporting tools.
func (r *Runner) export(ctx context.Context, report *Report) error {
	anns, err := r.db.Announcements(ctx)
	if err != nil {
		return err
	}

	var allEvents []reconcile.Event
	tickers, err := r.db.EventTickers(ctx)
	if err != nil {
		return err
	}
	for _, ticker := range tickers {
		evs, err := r.db.EventsByTicker(ctx, ticker)
		if err != nil {
			return err
		}
		allEvents = append(allEvents, evs...)
	}
	histories, noInfo := reconcile.BuildHistories(allEvents)
	report.NoInformation = mergeNoInfo(report.NoInformation, noInfo)

	failures, err := r.db.Failures(ctx)
	if err != nil {
		return err
	}

	paths, err := writeArtifacts(r.cfg.ExportDir, artifacts{
		announcements: anns,
		events:        allEvents,
		histories:     histories,
		snapshots:     reconcile.Snapshots(histories),
		active:        reconcile.ActiveHolders(histories),
		failures:      failures,
	})
	if err != nil {
		return fmt.Errorf("pipeline: export: %w", err)
	}
	report.Exports = paths
	return nil
}

func (r *Runner) fetch(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		data, err = r.objects.Get(ctx, key)
		return err
	})
	return data, err
}

func (r *Runner) recordFailure(ctx context.Context, report *Report, f store.Failure) {
	if err := r.db.InsertFailure(ctx, f); err != nil {
		r.logger.Error("record failure", "filing", f.FilingID, "err", err)
	}
	report.Failed++
}

// eventType maps a filing's rep-type codes onto the event taxonomy. A
// cease notice wins over other codes carried alongside it.
func eventType(a *header.Announcement) reconcile.EventType {
	switch {
	case a.HasRepType(header.RepCeasing):
		return reconcile.EventCease
	case a.HasRepType(header.RepBecoming):
		return reconcile.EventNew
	default:
		return reconcile.EventChange
	}
}

func isHeaderKey(key string) bool {
	return len(key) > 4 && key[len(key)-4:] == ".txt"
}

func mergeNoInfo(a, b []reconcile.NoInformation) []reconcile.NoInformation {
	seen := make(map[string]bool, len(a))
	for _, n := range a {
		seen[n.Ticker+"\x00"+n.Holder] = true
	}
	for _, n := range b {
		if !seen[n.Ticker+"\x00"+n.Holder] {
			a = append(a, n)
		}
	}
	return a
}

var _ TextExtractor = (*docext.Extractor)(nil)
