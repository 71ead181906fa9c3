// Package fields pulls holder and voting figures out of segmented notice
// text using the positional heuristics the filings make workable: the first
// "name" line carries the holder, thousands-grouped integers appear in
// previous-then-present order, and so do percentage tokens.
//
// Extraction is best-effort. Missing figures come back nil and the caller
// keeps the partial record; nothing here discards data.
package fields

import (
	"regexp"
	"strconv"
	"strings"
)

// Voting holds the four voting-power figures of a notice. Every field is
// present-but-nullable so a missing figure is a checked branch, not a
// lookup with a default.
type Voting struct {
	PreviousVotes *int64
	PreviousPower *float64
	PresentVotes  *int64
	PresentPower  *float64
}

// Complete reports whether all four figures were found.
func (v Voting) Complete() bool {
	return v.PreviousVotes != nil && v.PreviousPower != nil &&
		v.PresentVotes != nil && v.PresentPower != nil
}

var (
	nameRe  = regexp.MustCompile(`(?im)^\s*name[:\s]+(.+)$`)
	votesRe = regexp.MustCompile(`\d{1,3}(?:,\d{3})+`)
	pctRe   = regexp.MustCompile(`\d+\.\d+\s*%`)
)

// qualifiers are phrases that introduce secondary parties on the name line.
// The name is cut at the first occurrence to keep the principal entity.
var qualifiers = []string{
	"on behalf of",
	"named in",
	"listed in",
	"as trustee for",
	"to this form",
}

// HolderName extracts the holder from the "details of substantial holder"
// body: the trailing text of the first "name" line, with qualifier phrases
// stripped at their first occurrence. Returns "" when no name line exists.
func HolderName(body string) string {
	m := nameRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	name := m[1]
	for _, q := range qualifiers {
		if i := strings.Index(name, q); i >= 0 {
			name = name[:i]
		}
	}
	return strings.Trim(strings.TrimSpace(name), ",.;:")
}

// ExtractVoting pulls the previous/present vote counts and power
// percentages from the "previous and present voting power" body. Token
// order decides meaning: the first thousands-grouped integer is the
// previous count, the second the present count, and likewise for
// percentage tokens. Extra matches are ignored; missing ones stay nil.
//
// Known limitation, kept deliberately: a body listing several holders or
// several security classes interleaves their figures, and this positional
// contract cannot tell them apart. Documents like that go through the
// structured llmx extractor instead.
func ExtractVoting(body string) Voting {
	var v Voting

	votes := votesRe.FindAllString(body, -1)
	if len(votes) > 0 {
		v.PreviousVotes = parseVotes(votes[0])
	}
	if len(votes) > 1 {
		v.PresentVotes = parseVotes(votes[1])
	}

	pcts := pctRe.FindAllString(body, -1)
	if len(pcts) > 0 {
		v.PreviousPower = parsePercent(pcts[0])
	}
	if len(pcts) > 1 {
		v.PresentPower = parsePercent(pcts[1])
	}
	return v
}

func parseVotes(tok string) *int64 {
	n, err := strconv.ParseInt(strings.ReplaceAll(tok, ",", ""), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func parsePercent(tok string) *float64 {
	tok = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(tok), "%"))
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil
	}
	return &f
}
