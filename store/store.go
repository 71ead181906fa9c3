// Package store persists classification and extraction results in SQLite.
//
// Announcements are keyed by filing id and written once; raw events are
// keyed by filing id and superseded only by re-running extraction on the
// same filing. Every write uses insert-if-absent (or idempotent upsert)
// semantics so a resumed run never duplicates records: a duplicate-key
// insert is a no-op success, not an error.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/investair/holdwatch/header"
	"github.com/investair/holdwatch/reconcile"
)

// Store wraps the pipeline's SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL journalling and a
// busy timeout, then runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS announcements (
    filing_id   TEXT PRIMARY KEY,
    ticker      TEXT NOT NULL,
    rep_types   TEXT NOT NULL,
    received    TEXT,
    released    TEXT,
    headline    TEXT NOT NULL,
    pages       INTEGER,
    sensitive   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ann_ticker ON announcements (ticker);

CREATE TABLE IF NOT EXISTS raw_events (
    filing_id      TEXT PRIMARY KEY,
    ticker         TEXT NOT NULL,
    holder_raw     TEXT NOT NULL,
    holder_canon   TEXT NOT NULL DEFAULT '',
    event_type     TEXT NOT NULL,
    prev_votes     INTEGER,
    prev_power     REAL,
    present_votes  INTEGER,
    present_power  REAL,
    event_date     TEXT
);
CREATE INDEX IF NOT EXISTS idx_ev_ticker ON raw_events (ticker);

CREATE TABLE IF NOT EXISTS holders (
    ticker     TEXT NOT NULL,
    raw_name   TEXT NOT NULL,
    canonical  TEXT NOT NULL,
    PRIMARY KEY (ticker, raw_name)
);

CREATE TABLE IF NOT EXISTS failures (
    filing_id  TEXT NOT NULL,
    ticker     TEXT NOT NULL DEFAULT '',
    stage      TEXT NOT NULL,
    reason     TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (filing_id, stage)
);`
	_, err := s.db.Exec(ddl)
	return err
}

// InsertAnnouncement writes one classified header with insert-if-absent
// semantics. Returns false when the filing id already existed.
func (s *Store) InsertAnnouncement(ctx context.Context, a *header.Announcement) (bool, error) {
	var pages any
	if a.Pages != nil {
		pages = *a.Pages
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO announcements
		(filing_id, ticker, rep_types, received, released, headline, pages, sensitive)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.FilingID, a.Ticker, strings.Join(a.RepTypes, ","),
		stamp(a.Received), stamp(a.Released), a.Headline, pages, boolInt(a.Sensitive),
	)
	if err != nil {
		return false, fmt.Errorf("store: insert announcement %s: %w", a.FilingID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AnnouncementExists reports whether the filing was already classified.
// The pipeline uses it to skip reprocessing on resumed runs.
func (s *Store) AnnouncementExists(ctx context.Context, filingID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM announcements WHERE filing_id = ?`, filingID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: announcement exists %s: %w", filingID, err)
	}
	return true, nil
}

// AnnouncementsByRepType returns filings carrying the given code, keyed by
// ticker. Records with the unknown-ticker sentinel are excluded from
// ticker-indexed queries but remain in the table for diagnostics.
func (s *Store) AnnouncementsByRepType(ctx context.Context, code string) ([]header.Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filing_id, ticker, rep_types, received, released, headline, pages, sensitive
		FROM announcements
		WHERE (','||rep_types||',') LIKE '%,'||?||',%' AND ticker != ?
		ORDER BY ticker, filing_id`, code, header.UnknownTicker)
	if err != nil {
		return nil, fmt.Errorf("store: announcements by rep type: %w", err)
	}
	defer rows.Close()

	var out []header.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnnouncement(rows *sql.Rows) (header.Announcement, error) {
	var a header.Announcement
	var repTypes string
	var received, released sql.NullString
	var pages sql.NullInt64
	var sensitive int
	if err := rows.Scan(&a.FilingID, &a.Ticker, &repTypes, &received, &released,
		&a.Headline, &pages, &sensitive); err != nil {
		return a, err
	}
	if repTypes != "" {
		a.RepTypes = strings.Split(repTypes, ",")
	}
	a.Received = unstamp(received)
	a.Released = unstamp(released)
	if pages.Valid {
		p := int(pages.Int64)
		a.Pages = &p
	}
	a.Sensitive = sensitive != 0
	return a, nil
}

// Announcements returns every classified filing ordered by ticker then
// filing id, unknown-ticker diagnostics last.
func (s *Store) Announcements(ctx context.Context) ([]header.Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filing_id, ticker, rep_types, received, released, headline, pages, sensitive
		FROM announcements
		ORDER BY (ticker = ?), ticker, filing_id`, header.UnknownTicker)
	if err != nil {
		return nil, fmt.Errorf("store: announcements: %w", err)
	}
	defer rows.Close()

	var out []header.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertEvent writes one raw event. Inserting the same filing id again
// supersedes the previous extraction attempt; identical re-inserts from a
// re-listed key are no-ops.
func (s *Store) UpsertEvent(ctx context.Context, ev reconcile.Event) error {
	var date any
	if ev.Date != nil {
		date = ev.Date.Format("2006-01-02")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_events
		(filing_id, ticker, holder_raw, holder_canon, event_type,
		 prev_votes, prev_power, present_votes, present_power, event_date)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(filing_id) DO UPDATE SET
		 ticker=excluded.ticker, holder_raw=excluded.holder_raw,
		 holder_canon=excluded.holder_canon, event_type=excluded.event_type,
		 prev_votes=excluded.prev_votes, prev_power=excluded.prev_power,
		 present_votes=excluded.present_votes, present_power=excluded.present_power,
		 event_date=excluded.event_date`,
		ev.FilingID, ev.Ticker, ev.Holder, ev.Canonical, string(ev.Type),
		nullI64(ev.Voting.PreviousVotes), nullF64(ev.Voting.PreviousPower),
		nullI64(ev.Voting.PresentVotes), nullF64(ev.Voting.PresentPower), date,
	)
	if err != nil {
		return fmt.Errorf("store: upsert event %s: %w", ev.FilingID, err)
	}
	return nil
}

// EventsByTicker loads every raw event for one ticker in insertion order.
func (s *Store) EventsByTicker(ctx context.Context, ticker string) ([]reconcile.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filing_id, ticker, holder_raw, holder_canon, event_type,
		       prev_votes, prev_power, present_votes, present_power, event_date
		FROM raw_events WHERE ticker = ? ORDER BY rowid`, ticker)
	if err != nil {
		return nil, fmt.Errorf("store: events for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []reconcile.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EventTickers returns the distinct tickers that have raw events.
func (s *Store) EventTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT ticker FROM raw_events ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("store: event tickers: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetCanonical records the canonical identity for a raw holder name.
// Membership only grows: an existing assignment is left untouched.
func (s *Store) SetCanonical(ctx context.Context, ticker, rawName, canonical string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO holders (ticker, raw_name, canonical) VALUES (?,?,?)`,
		ticker, rawName, canonical)
	if err != nil {
		return fmt.Errorf("store: set canonical %s/%s: %w", ticker, rawName, err)
	}
	return nil
}

// CanonicalMap loads the raw-to-canonical mapping for one ticker.
func (s *Store) CanonicalMap(ctx context.Context, ticker string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_name, canonical FROM holders WHERE ticker = ?`, ticker)
	if err != nil {
		return nil, fmt.Errorf("store: canonical map %s: %w", ticker, err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var raw, canon string
		if err := rows.Scan(&raw, &canon); err != nil {
			return nil, err
		}
		out[raw] = canon
	}
	return out, rows.Err()
}

// Failure is one filing-scoped processing failure.
type Failure struct {
	FilingID string
	Ticker   string
	Stage    string
	Reason   string
}

// InsertFailure records a failure for the failure artifact. Re-recording
// the same (filing, stage) is a no-op.
func (s *Store) InsertFailure(ctx context.Context, f Failure) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO failures (filing_id, ticker, stage, reason, created_at)
		VALUES (?,?,?,?,?)`,
		f.FilingID, f.Ticker, f.Stage, f.Reason, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: insert failure %s: %w", f.FilingID, err)
	}
	return nil
}

// Failures returns every recorded failure.
func (s *Store) Failures(ctx context.Context) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filing_id, ticker, stage, reason FROM failures ORDER BY filing_id, stage`)
	if err != nil {
		return nil, fmt.Errorf("store: failures: %w", err)
	}
	defer rows.Close()
	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.FilingID, &f.Ticker, &f.Stage, &f.Reason); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanEvent(rows *sql.Rows) (reconcile.Event, error) {
	var ev reconcile.Event
	var typ string
	var pv, csv sql.NullInt64
	var pp, csp sql.NullFloat64
	var date sql.NullString
	if err := rows.Scan(&ev.FilingID, &ev.Ticker, &ev.Holder, &ev.Canonical, &typ,
		&pv, &pp, &csv, &csp, &date); err != nil {
		return ev, err
	}
	ev.Type = reconcile.EventType(typ)
	if pv.Valid {
		ev.Voting.PreviousVotes = &pv.Int64
	}
	if pp.Valid {
		ev.Voting.PreviousPower = &pp.Float64
	}
	if csv.Valid {
		ev.Voting.PresentVotes = &csv.Int64
	}
	if csp.Valid {
		ev.Voting.PresentPower = &csp.Float64
	}
	if date.Valid {
		if d, err := time.Parse("2006-01-02", date.String); err == nil {
			ev.Date = &d
		}
	}
	return ev, nil
}

func stamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func unstamp(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullI64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
