// Package reconcile folds dated holding events into per-holder histories
// and a latest-holdings snapshot.
//
// Reconciliation is a pure function of the full event set: it never
// mutates incrementally, so re-running it over the same events, or over
// the set plus newly extracted ones, always produces the same views.
package reconcile

import (
	"sort"
	"time"

	"github.com/investair/holdwatch/fields"
)

// EventType classifies a holding event by its filing's rep-type.
type EventType string

const (
	EventNew    EventType = "new"    // becoming a substantial holder
	EventChange EventType = "change" // change in substantial holding
	EventCease  EventType = "cease"  // ceasing to be a substantial holder
)

// Event is one extracted holding event. Canonical is the resolved holder
// identity; Holder keeps the raw extracted spelling. Voting fields are
// nullable where extraction partially failed, and Date is nil when the
// filing carried no parsable date.
type Event struct {
	FilingID  string
	Ticker    string
	Holder    string
	Canonical string
	Type      EventType
	Voting    fields.Voting
	Date      *time.Time
}

// History is the date-ordered event sequence for one (ticker, canonical
// holder) pair.
type History struct {
	Ticker string
	Holder string // canonical name
	Events []Event
}

// Snapshot is a holder's latest non-cease holding state. Ceased marks a
// holder whose chronologically last event is a cease: the figures remain
// those of the last {new, change} event, but the holder no longer has a
// current position.
type Snapshot struct {
	Ticker       string
	Holder       string // canonical name
	LatestVotes  *int64
	LatestPower  *float64
	AsOf         time.Time
	SourceFiling string
	SourceType   EventType
	Ceased       bool
}

// NoInformation records a holder all of whose events lacked a parsable
// date. Reported rather than silently dropped.
type NoInformation struct {
	Ticker  string
	Holder  string
	Dropped int // events discarded for missing dates
}

// BuildHistories groups events by (ticker, canonical holder) and orders
// each group by event date ascending. Events without a date are dropped
// before ordering; holders emptied by that are returned as NoInformation.
// Ordering between groups follows first encounter, keeping output stable.
func BuildHistories(events []Event) ([]History, []NoInformation) {
	type key struct{ ticker, holder string }
	var order []key
	seen := make(map[key]bool)
	groups := make(map[key][]Event)
	dropped := make(map[key]int)

	for _, ev := range events {
		holder := ev.Canonical
		if holder == "" {
			holder = ev.Holder
		}
		k := key{ev.Ticker, holder}
		if !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
		if ev.Date == nil {
			dropped[k]++
			continue
		}
		groups[k] = append(groups[k], ev)
	}

	var histories []History
	var noInfo []NoInformation
	for _, k := range order {
		evs := groups[k]
		if len(evs) == 0 {
			noInfo = append(noInfo, NoInformation{Ticker: k.ticker, Holder: k.holder, Dropped: dropped[k]})
			continue
		}
		sort.SliceStable(evs, func(i, j int) bool {
			return evs[i].Date.Before(*evs[j].Date)
		})
		histories = append(histories, History{Ticker: k.ticker, Holder: k.holder, Events: evs})
	}
	return histories, noInfo
}

// Latest derives the snapshot for one history: the most recent event whose
// type is not cease. Latest figures come only from {new, change} events.
// Returns false when the holder has no non-cease event at all.
func Latest(h History) (Snapshot, bool) {
	last := h.Events[len(h.Events)-1]
	for i := len(h.Events) - 1; i >= 0; i-- {
		ev := h.Events[i]
		if ev.Type == EventCease {
			continue
		}
		return Snapshot{
			Ticker:       h.Ticker,
			Holder:       h.Holder,
			LatestVotes:  ev.Voting.PresentVotes,
			LatestPower:  ev.Voting.PresentPower,
			AsOf:         *ev.Date,
			SourceFiling: ev.FilingID,
			SourceType:   ev.Type,
			Ceased:       last.Type == EventCease,
		}, true
	}
	return Snapshot{}, false
}

// Snapshots derives the latest snapshot for every history that has one.
func Snapshots(histories []History) []Snapshot {
	var out []Snapshot
	for _, h := range histories {
		if s, ok := Latest(h); ok {
			out = append(out, s)
		}
	}
	return out
}

// ActiveHolders filters Snapshots down to holders whose chronologically
// last event is not a cease, the "currently active holder" view.
func ActiveHolders(histories []History) []Snapshot {
	var out []Snapshot
	for _, s := range Snapshots(histories) {
		if !s.Ceased {
			out = append(out, s)
		}
	}
	return out
}
