// Package api exposes the processed filing data over a read-only HTTP
// surface. It serves derived views straight off the store; nothing here
// mutates pipeline state.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/investair/holdwatch/header"
	"github.com/investair/holdwatch/reconcile"
	"github.com/investair/holdwatch/store"
)

// Service wires the query endpoints over an opened store.
type Service struct {
	db     *store.Store
	logger *slog.Logger
}

// NewService builds the query service. Logger may be nil.
func NewService(db *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

// Router assembles the full route tree.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tickers", s.handleTickers)
		r.Get("/tickers/{ticker}/history", s.handleHistory)
		r.Get("/tickers/{ticker}/snapshot", s.handleSnapshot)
		r.Get("/tickers/{ticker}/holders", s.handleActiveHolders)
		r.Get("/announcements", s.handleAnnouncements)
		r.Get("/failures", s.handleFailures)
	})
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTickers lists every ticker that has at least one extracted event.
// GET /api/v1/tickers
func (s *Service) handleTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := s.db.EventTickers(r.Context())
	if err != nil {
		s.internalError(w, "list tickers", err)
		return
	}
	if tickers == nil {
		tickers = []string{}
	}
	writeJSON(w, http.StatusOK, tickers)
}

// historyResponse is one holder's date-ordered event sequence.
type historyResponse struct {
	Ticker string       `json:"ticker"`
	Holder string       `json:"holder"`
	Events []eventEntry `json:"events"`
}

type eventEntry struct {
	FilingID      string   `json:"filing_id"`
	Date          string   `json:"date"`
	Type          string   `json:"type"`
	RawHolder     string   `json:"raw_holder"`
	PreviousVotes *int64   `json:"previous_votes"`
	PreviousPower *float64 `json:"previous_power"`
	PresentVotes  *int64   `json:"present_votes"`
	PresentPower  *float64 `json:"present_power"`
}

// handleHistory returns the per-holder event histories for one ticker.
// GET /api/v1/tickers/{ticker}/history
func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	histories, ok := s.tickerHistories(w, r)
	if !ok {
		return
	}
	out := make([]historyResponse, 0, len(histories))
	for _, h := range histories {
		entry := historyResponse{Ticker: h.Ticker, Holder: h.Holder, Events: []eventEntry{}}
		for _, ev := range h.Events {
			entry.Events = append(entry.Events, eventEntry{
				FilingID:      ev.FilingID,
				Date:          dateJSON(ev.Date),
				Type:          string(ev.Type),
				RawHolder:     ev.Holder,
				PreviousVotes: ev.Voting.PreviousVotes,
				PreviousPower: ev.Voting.PreviousPower,
				PresentVotes:  ev.Voting.PresentVotes,
				PresentPower:  ev.Voting.PresentPower,
			})
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

type snapshotEntry struct {
	Ticker       string   `json:"ticker"`
	Holder       string   `json:"holder"`
	LatestVotes  *int64   `json:"latest_votes"`
	LatestPower  *float64 `json:"latest_power"`
	AsOf         string   `json:"as_of"`
	SourceFiling string   `json:"source_filing"`
	SourceType   string   `json:"source_type"`
	Ceased       bool     `json:"ceased"`
}

// handleSnapshot returns the latest holding state per holder, ceased
// holders included and flagged.
// GET /api/v1/tickers/{ticker}/snapshot
func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	histories, ok := s.tickerHistories(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotEntries(reconcile.Snapshots(histories)))
}

// handleActiveHolders returns only holders with a current position.
// GET /api/v1/tickers/{ticker}/holders
func (s *Service) handleActiveHolders(w http.ResponseWriter, r *http.Request) {
	histories, ok := s.tickerHistories(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotEntries(reconcile.ActiveHolders(histories)))
}

type announcementEntry struct {
	FilingID  string   `json:"filing_id"`
	Ticker    string   `json:"ticker"`
	RepTypes  []string `json:"rep_types"`
	Number    string   `json:"number"`
	Received  string   `json:"received"`
	Headline  string   `json:"headline"`
	Sensitive bool     `json:"sensitive"`
}

// handleAnnouncements lists classified announcements, optionally filtered
// by rep-type code.
// GET /api/v1/announcements?rep_type=02001
func (s *Service) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	var (
		anns []header.Announcement
		err  error
	)
	if code := r.URL.Query().Get("rep_type"); code != "" {
		if header.RepTypes[code] == "" {
			http.Error(w, "unknown rep_type code", http.StatusBadRequest)
			return
		}
		anns, err = s.db.AnnouncementsByRepType(r.Context(), code)
	} else {
		anns, err = s.db.Announcements(r.Context())
	}
	if err != nil {
		s.internalError(w, "list announcements", err)
		return
	}
	out := make([]announcementEntry, 0, len(anns))
	for _, a := range anns {
		out = append(out, announcementEntry{
			FilingID:  a.FilingID,
			Ticker:    a.Ticker,
			RepTypes:  a.RepTypes,
			Number:    a.Number,
			Received:  stampJSON(a.Received),
			Headline:  a.Headline,
			Sensitive: a.Sensitive,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type failureEntry struct {
	FilingID string `json:"filing_id"`
	Ticker   string `json:"ticker"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

// handleFailures lists the failure artifact.
// GET /api/v1/failures
func (s *Service) handleFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.db.Failures(r.Context())
	if err != nil {
		s.internalError(w, "list failures", err)
		return
	}
	out := make([]failureEntry, 0, len(failures))
	for _, f := range failures {
		out = append(out, failureEntry{FilingID: f.FilingID, Ticker: f.Ticker, Stage: f.Stage, Reason: f.Reason})
	}
	writeJSON(w, http.StatusOK, out)
}

// tickerHistories loads and reconciles the event histories for the
// {ticker} URL parameter. A ticker with no events is a 404.
func (s *Service) tickerHistories(w http.ResponseWriter, r *http.Request) ([]reconcile.History, bool) {
	ticker := chi.URLParam(r, "ticker")
	events, err := s.db.EventsByTicker(r.Context(), ticker)
	if err != nil {
		s.internalError(w, "load events", err)
		return nil, false
	}
	if len(events) == 0 {
		http.Error(w, "unknown ticker", http.StatusNotFound)
		return nil, false
	}
	histories, _ := reconcile.BuildHistories(events)
	return histories, true
}

func snapshotEntries(snaps []reconcile.Snapshot) []snapshotEntry {
	out := make([]snapshotEntry, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snapshotEntry{
			Ticker:       snap.Ticker,
			Holder:       snap.Holder,
			LatestVotes:  snap.LatestVotes,
			LatestPower:  snap.LatestPower,
			AsOf:         snap.AsOf.Format("2006-01-02"),
			SourceFiling: snap.SourceFiling,
			SourceType:   string(snap.SourceType),
			Ceased:       snap.Ceased,
		})
	}
	return out
}

func (s *Service) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func stampJSON(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func dateJSON(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
