// Package header classifies ASX announcement header records.
//
// An announcement arrives as a newline-delimited header record carried in a
// .txt object next to the filing PDF. The record is positional: page count,
// receipt stamps, a bank of rep-type classification codes, release stamps,
// announcement number, issuer code, sensitivity flag and headline. Parse
// turns one record into a typed Announcement or fails with FormatError.
//
// Parsing is a pure function: no I/O, no shared state.
package header

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Rep-type codes carried by substantial-holding filings.
const (
	RepBecoming = "02001"
	RepChange   = "02002"
	RepCeasing  = "02003"
	RepTop20    = "03002"
)

// RepTypes maps each known rep-type code to its regulatory description.
var RepTypes = map[string]string{
	RepBecoming: "Becoming a substantial holder",
	RepChange:   "Change in substantial holding",
	RepCeasing:  "Ceasing to be a substantial holder",
	RepTop20:    "Top 20 shareholders",
}

// UnknownTicker is the sentinel issuer code assigned when no field of the
// record looks like a ticker. Records carrying it are kept for diagnostics
// but excluded from ticker-indexed queries.
const UnknownTicker = "unknown"

// Positional layout of the header record. Everything below minFields is a
// structural failure; fields between these anchors are reserved/unused.
const (
	fieldPages     = 0
	fieldRecDate   = 5
	fieldRecTime   = 6
	repBankStart   = 7
	repBankEnd     = 27 // exclusive
	fieldRelDate   = 27
	fieldRelTime   = 28
	fieldNumber    = 32
	fieldCode      = 33
	fieldSensitive = 35
	fieldHeadline  = 36
	minFields      = 37
)

// Announcement is the typed result of classifying one header record.
type Announcement struct {
	FilingID  string
	Ticker    string
	RepTypes  []string
	Number    string
	Received  time.Time
	Released  time.Time
	Headline  string
	Pages     *int // nil when the page-count field is not numeric
	Sensitive bool
}

// HasRepType reports whether the filing carries the given rep-type code.
// A record may carry several, non-exclusive codes.
func (a *Announcement) HasRepType(code string) bool {
	for _, c := range a.RepTypes {
		if c == code {
			return true
		}
	}
	return false
}

// SubstantialHolding reports whether any carried code is one of the three
// substantial-holding notices (becoming, change, cease).
func (a *Announcement) SubstantialHolding() bool {
	return a.HasRepType(RepBecoming) || a.HasRepType(RepChange) || a.HasRepType(RepCeasing)
}

// FormatError reports a structurally invalid header record. Callers skip
// and log the record; a FormatError never aborts a batch.
type FormatError struct {
	FilingID string
	Reason   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("header: filing %s: %s", e.FilingID, e.Reason)
}

var (
	repCodeRe = regexp.MustCompile(`^\d{5}$`)
	tickerRe  = regexp.MustCompile(`^[A-Z0-9]{3}$`)
	letterRe  = regexp.MustCompile(`[A-Z]`)
)

// Parse classifies one delimited header record. It fails with *FormatError
// when the record has fewer than the minimum field count or a required
// positional field is empty. A non-numeric page count is not a rejection:
// Pages is left nil and the record is retained.
func Parse(filingID, record string) (*Announcement, error) {
	fields := splitRecord(record)
	if len(fields) < minFields {
		return nil, &FormatError{FilingID: filingID, Reason: fmt.Sprintf("record has %d fields, need %d", len(fields), minFields)}
	}
	for _, idx := range []int{fieldRecDate, fieldRecTime, fieldHeadline} {
		if fields[idx] == "" {
			return nil, &FormatError{FilingID: filingID, Reason: fmt.Sprintf("required field %d is empty", idx)}
		}
	}

	a := &Announcement{
		FilingID:  filingID,
		Number:    fields[fieldNumber],
		Headline:  fields[fieldHeadline],
		Sensitive: strings.EqualFold(fields[fieldSensitive], "Y"),
		Received:  parseStamp(fields[fieldRecDate], fields[fieldRecTime]),
		Released:  parseStamp(fields[fieldRelDate], fields[fieldRelTime]),
	}

	if n, err := strconv.Atoi(fields[fieldPages]); err == nil && n >= 0 {
		a.Pages = &n
	}

	// Rep-type codes: scan the whole record for 5-digit tokens present in
	// the registry. The code bank occupies a fixed slice of the record but
	// drifting layouts put codes elsewhere, so the scan is record-wide.
	seen := map[string]bool{}
	for _, f := range fields {
		if repCodeRe.MatchString(f) && RepTypes[f] != "" && !seen[f] {
			seen[f] = true
			a.RepTypes = append(a.RepTypes, f)
		}
	}

	a.Ticker = scanTicker(fields)
	return a, nil
}

// scanTicker finds the first 3-character alphanumeric field containing at
// least one letter, preferring the dedicated issuer-code position.
func scanTicker(fields []string) string {
	if isTicker(fields[fieldCode]) {
		return fields[fieldCode]
	}
	for _, f := range fields {
		if isTicker(f) {
			return f
		}
	}
	return UnknownTicker
}

func isTicker(s string) bool {
	return tickerRe.MatchString(s) && letterRe.MatchString(s)
}

func splitRecord(record string) []string {
	lines := strings.Split(strings.ReplaceAll(record, "\r\n", "\n"), "\n")
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimSpace(l)
	}
	// A trailing newline is not a field.
	if n := len(out); n > 0 && out[n-1] == "" {
		out = out[:n-1]
	}
	return out
}

// parseStamp combines a YYYYMMDD date field and HHMMSS time field. A bad or
// absent stamp yields the zero time rather than an error: stamps are
// informational, not structural.
func parseStamp(date, tm string) time.Time {
	if tm == "" {
		tm = "000000"
	}
	t, err := time.Parse("20060102150405", date+tm)
	if err != nil {
		return time.Time{}
	}
	return t
}
