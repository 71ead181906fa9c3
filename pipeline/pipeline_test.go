package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/investair/holdwatch/header"
	"github.com/investair/holdwatch/objstore"
	"github.com/investair/holdwatch/reconcile"
	"github.com/investair/holdwatch/store"
)

// fakeText serves canned notice text per filing id and fails the ids
// listed in broken.
type fakeText struct {
	texts  map[string]string
	broken map[string]bool
	calls  []string
}

func (f *fakeText) Text(ctx context.Context, filingID string, pdf []byte) (string, error) {
	f.calls = append(f.calls, filingID)
	if f.broken[filingID] {
		return "", errors.New("no text layer and no recognizer")
	}
	text, ok := f.texts[filingID]
	if !ok {
		return "", fmt.Errorf("unexpected filing %s", filingID)
	}
	return text, nil
}

// headerRecord builds a minimal valid 37-field record: page count, receipt
// stamp, one rep-type code, release stamp, number, issuer code, sensitivity
// and headline, with reserved positions left blank.
func headerRecord(repCode, ticker, headline string) string {
	f := make([]string, 37)
	f[0] = "2"
	f[5] = "20240115"
	f[6] = "093000"
	f[7] = repCode
	f[27] = "20240115"
	f[28] = "100000"
	f[32] = "02768986"
	f[33] = ticker
	f[35] = "N"
	f[36] = headline
	return strings.Join(f, "\n")
}

func noticeText(holder, prevVotes, prevPct, presVotes, presPct string) string {
	return "1. Details of substantial holder\n" +
		"Name: " + holder + "\n" +
		"ACN/ARSN 004 044 937\n" +
		"2. Previous and present voting power\n" +
		"Previous notice " + prevVotes + " " + prevPct + "\n" +
		"Present notice " + presVotes + " " + presPct + "\n"
}

func ceaseText(holder string) string {
	return "1. Details of substantial holder\n" +
		"Name: " + holder + "\n" +
		"2. Previous and present voting power\n" +
		"Previous notice 2,000,000 6.20%\n"
}

// writeFiling drops the header record and a placeholder document under
// the bucket root.
func writeFiling(t *testing.T, root, key, record string) {
	t.Helper()
	dir := filepath.Join(root, filepath.Dir(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, key+".txt"), []byte(record), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, key+".pdf"), []byte("%PDF-1.4 placeholder"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testRunner(t *testing.T, bucket string, ft *fakeText) (*Runner, *store.Store) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "holdwatch.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := DefaultConfig()
	cfg.BucketDir = bucket
	cfg.ExportDir = t.TempDir()
	cfg.Workers = 2
	return New(cfg, objstore.NewDir(bucket), db, ft, nil), db
}

func TestRunEndToEnd(t *testing.T) {
	bucket := t.TempDir()
	writeFiling(t, bucket, "20240110/02768901", headerRecord("02001", "XYZ", "Becoming a substantial holder"))
	writeFiling(t, bucket, "20240115/02768986", headerRecord("02002", "XYZ", "Change in substantial holding"))
	writeFiling(t, bucket, "20240120/02769001", headerRecord("02003", "XYZ", "Ceasing to be a substantial holder"))
	// Top-20 report: classified but never extracted.
	writeFiling(t, bucket, "20240115/02768990", headerRecord("03002", "XYZ", "Top 20 shareholders"))

	ft := &fakeText{texts: map[string]string{
		"20240110/02768901": noticeText("Acme Capital Pty Ltd", "1,000", "0.90%", "1,000,000", "5.10%"),
		"20240115/02768986": noticeText("Acme Capital Pty. Limited", "1,000,000", "5.10%", "1,500,000", "6.20%"),
		"20240120/02769001": ceaseText("Acme Capital Pty Ltd"),
	}}
	r, db := testRunner(t, bucket, ft)

	ctx := context.Background()
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Classified != 4 {
		t.Errorf("Classified = %d, want 4", report.Classified)
	}
	if report.Extracted != 3 {
		t.Errorf("Extracted = %d, want 3", report.Extracted)
	}
	if report.Failed != 0 {
		t.Errorf("Failed = %d, want 0", report.Failed)
	}
	if report.Tickers != 1 {
		t.Errorf("Tickers = %d, want 1", report.Tickers)
	}
	for _, id := range ft.calls {
		if id == "20240115/02768990" {
			t.Error("top-20 filing was sent to extraction")
		}
	}

	events, err := db.EventsByTicker(ctx, "XYZ")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Spelling variants resolve to one canonical identity.
	canon := events[0].Canonical
	if canon == "" {
		t.Fatal("canonical name not assigned")
	}
	for _, ev := range events {
		if ev.Canonical != canon {
			t.Errorf("event %s canonical = %q, want %q", ev.FilingID, ev.Canonical, canon)
		}
	}

	histories, noInfo := reconcile.BuildHistories(events)
	if len(noInfo) != 0 {
		t.Errorf("unexpected no-information holders: %v", noInfo)
	}
	if len(histories) != 1 {
		t.Fatalf("got %d histories, want 1", len(histories))
	}
	snap, ok := reconcile.Latest(histories[0])
	if !ok {
		t.Fatal("no snapshot")
	}
	if snap.LatestVotes == nil || *snap.LatestVotes != 1500000 {
		t.Errorf("LatestVotes = %v, want 1500000", snap.LatestVotes)
	}
	if !snap.Ceased {
		t.Error("holder should be marked ceased after the cease notice")
	}

	for _, name := range []string{"announcements.csv", "events.csv", "history.csv", "snapshot.csv", "active_holders.csv", "failures.csv"} {
		path := filepath.Join(r.cfg.ExportDir, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("artifact %s not written: %v", name, err)
		}
	}
	if len(report.Exports) != 6 {
		t.Errorf("Exports = %d paths, want 6", len(report.Exports))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	bucket := t.TempDir()
	writeFiling(t, bucket, "20240110/02768901", headerRecord("02001", "XYZ", "Becoming a substantial holder"))

	ft := &fakeText{texts: map[string]string{
		"20240110/02768901": noticeText("Acme Capital Pty Ltd", "1,000", "0.90%", "1,000,000", "5.10%"),
	}}
	r, db := testRunner(t, bucket, ft)

	ctx := context.Background()
	if _, err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if report.Classified != 0 {
		t.Errorf("second run Classified = %d, want 0", report.Classified)
	}
	if report.Skipped != 1 {
		t.Errorf("second run Skipped = %d, want 1", report.Skipped)
	}
	events, err := db.EventsByTicker(ctx, "XYZ")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events after two runs, want 1", len(events))
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	bucket := t.TempDir()
	writeFiling(t, bucket, "20240110/02768901", headerRecord("02001", "XYZ", "Becoming a substantial holder"))
	writeFiling(t, bucket, "20240112/02768950", headerRecord("02002", "ABC", "Change in substantial holding"))
	// Truncated record: structural failure, skipped without a failure row.
	writeFiling(t, bucket, "20240113/02768960", "3\n20240113\n093000")

	ft := &fakeText{
		texts: map[string]string{
			"20240110/02768901": noticeText("Acme Capital Pty Ltd", "1,000", "0.90%", "1,000,000", "5.10%"),
		},
		broken: map[string]bool{"20240112/02768950": true},
	}
	r, db := testRunner(t, bucket, ft)

	ctx := context.Background()
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", report.Malformed)
	}
	if report.Extracted != 1 {
		t.Errorf("Extracted = %d, want 1", report.Extracted)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}

	failures, err := db.Failures(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failure rows, want 1", len(failures))
	}
	if failures[0].FilingID != "20240112/02768950" || failures[0].Stage != "extract" {
		t.Errorf("failure = %+v", failures[0])
	}

	// The healthy filing still made it through.
	events, err := db.EventsByTicker(ctx, "XYZ")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("got %d XYZ events, want 1", len(events))
	}
}

func announcementWithCodes(codes []string) *header.Announcement {
	return &header.Announcement{FilingID: "20240101/1", Ticker: "XYZ", RepTypes: codes}
}

func TestEventTypePriority(t *testing.T) {
	tests := []struct {
		name  string
		codes []string
		want  reconcile.EventType
	}{
		{"becoming", []string{"02001"}, reconcile.EventNew},
		{"change", []string{"02002"}, reconcile.EventChange},
		{"cease", []string{"02003"}, reconcile.EventCease},
		{"cease wins over change", []string{"02002", "02003"}, reconcile.EventCease},
		{"becoming wins over change", []string{"02001", "02002"}, reconcile.EventNew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := announcementWithCodes(tt.codes)
			if got := eventType(a); got != tt.want {
				t.Errorf("eventType(%v) = %v, want %v", tt.codes, got, tt.want)
			}
		})
	}
}
