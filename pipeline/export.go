package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/investair/holdwatch/header"
	"github.com/investair/holdwatch/reconcile"
	"github.com/investair/holdwatch/store"
)

// artifacts bundles everything one run exports.
type artifacts struct {
	announcements []header.Announcement
	events        []reconcile.Event
	histories     []reconcile.History
	snapshots     []reconcile.Snapshot
	active        []reconcile.Snapshot
	failures      []store.Failure
}

// writeArtifacts writes the tabular run outputs under dir and returns
// the paths written. Files are rewritten whole each run; the tables are
// derived state and the store stays authoritative.
func writeArtifacts(dir string, a artifacts) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var paths []string
	write := func(name string, head []string, rows [][]string) error {
		path := filepath.Join(dir, name)
		if err := writeCSV(path, head, rows); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		paths = append(paths, path)
		return nil
	}

	if err := write("announcements.csv",
		[]string{"filing_id", "ticker", "rep_types", "number", "received", "released", "headline", "pages", "sensitive"},
		announcementRows(a.announcements)); err != nil {
		return nil, err
	}
	if err := write("events.csv",
		[]string{"filing_id", "ticker", "holder", "canonical", "type", "date", "previous_votes", "previous_power", "present_votes", "present_power"},
		eventRows(a.events)); err != nil {
		return nil, err
	}
	if err := write("history.csv",
		[]string{"ticker", "holder", "date", "type", "present_votes", "present_power", "filing_id"},
		historyRows(a.histories)); err != nil {
		return nil, err
	}
	if err := write("snapshot.csv",
		snapshotHeader, snapshotRows(a.snapshots)); err != nil {
		return nil, err
	}
	if err := write("active_holders.csv",
		snapshotHeader, snapshotRows(a.active)); err != nil {
		return nil, err
	}
	if err := write("failures.csv",
		[]string{"filing_id", "ticker", "stage", "reason"},
		failureRows(a.failures)); err != nil {
		return nil, err
	}
	return paths, nil
}

var snapshotHeader = []string{"ticker", "holder", "latest_votes", "latest_power", "as_of", "source_filing", "source_type", "ceased"}

func writeCSV(path string, head []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(head); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func announcementRows(anns []header.Announcement) [][]string {
	rows := make([][]string, 0, len(anns))
	for _, a := range anns {
		pages := ""
		if a.Pages != nil {
			pages = strconv.Itoa(*a.Pages)
		}
		rows = append(rows, []string{
			a.FilingID, a.Ticker, strings.Join(a.RepTypes, ";"), a.Number,
			stampCSV(a.Received), stampCSV(a.Released), a.Headline,
			pages, strconv.FormatBool(a.Sensitive),
		})
	}
	return rows
}

func eventRows(events []reconcile.Event) [][]string {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.FilingID, ev.Ticker, ev.Holder, ev.Canonical, string(ev.Type),
			dateCSV(ev.Date),
			i64CSV(ev.Voting.PreviousVotes), f64CSV(ev.Voting.PreviousPower),
			i64CSV(ev.Voting.PresentVotes), f64CSV(ev.Voting.PresentPower),
		})
	}
	return rows
}

func historyRows(histories []reconcile.History) [][]string {
	var rows [][]string
	for _, h := range histories {
		for _, ev := range h.Events {
			rows = append(rows, []string{
				h.Ticker, h.Holder, dateCSV(ev.Date), string(ev.Type),
				i64CSV(ev.Voting.PresentVotes), f64CSV(ev.Voting.PresentPower),
				ev.FilingID,
			})
		}
	}
	return rows
}

func snapshotRows(snaps []reconcile.Snapshot) [][]string {
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, []string{
			s.Ticker, s.Holder, i64CSV(s.LatestVotes), f64CSV(s.LatestPower),
			s.AsOf.Format("2006-01-02"), s.SourceFiling, string(s.SourceType),
			strconv.FormatBool(s.Ceased),
		})
	}
	return rows
}

func failureRows(failures []store.Failure) [][]string {
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.FilingID, f.Ticker, f.Stage, f.Reason})
	}
	return rows
}

func stampCSV(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func dateCSV(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func i64CSV(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func f64CSV(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
