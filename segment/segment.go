// Package segment splits extracted filing text into named sections.
//
// Substantial-holding notice forms (603/604/605) share a set of numbered
// headings ("1. Details of substantial holder", "3. Previous and present
// voting power", ...). Split anchors on occurrences of the known heading
// phrases, with or without the numeric prefix, and returns the body text
// between consecutive anchors. Headings that never occur are simply absent:
// partial segmentation is normal, not an error.
//
// Both heading keys and bodies are lowercased so downstream extraction has
// a stable, case-normalised contract.
package segment

import (
	"regexp"
	"strings"
)

// DefaultHeadings are the section headings of the substantial-holding
// notice forms, in form order.
var DefaultHeadings = []string{
	"Details of substantial holder",
	"Previous and present voting power",
	"Changes in relevant interests",
	"Present relevant interests",
}

// Section is one (heading, body) pair. Heading and Body are lowercase.
type Section struct {
	Heading string
	Body    string
}

// Sections is the ordered segmentation result.
type Sections []Section

// Body returns the body for a heading (matched case-insensitively), or ""
// when the section is absent.
func (s Sections) Body(heading string) string {
	heading = strings.ToLower(heading)
	for _, sec := range s {
		if sec.Heading == heading {
			return sec.Body
		}
	}
	return ""
}

// Has reports whether the section was found.
func (s Sections) Has(heading string) bool {
	heading = strings.ToLower(heading)
	for _, sec := range s {
		if sec.Heading == heading {
			return true
		}
	}
	return false
}

// Split segments text on occurrences of the given heading phrases. Each
// heading may be prefixed by a form item number ("3. "). When a heading
// phrase occurs more than once, the first occurrence anchors its section;
// later repeats terminate the preceding body but add no new section.
func Split(text string, headings []string) Sections {
	if len(headings) == 0 {
		return nil
	}
	escaped := make([]string, len(headings))
	for i, h := range headings {
		escaped[i] = regexp.QuoteMeta(h)
	}
	re := regexp.MustCompile(`(?i)(?:\d+\.\s*)?(` + strings.Join(escaped, "|") + `)`)

	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var out Sections
	seen := map[string]bool{}
	for i, m := range matches {
		heading := strings.ToLower(strings.TrimSpace(text[m[2]:m[3]]))
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		if seen[heading] {
			continue
		}
		seen[heading] = true
		body := strings.ToLower(strings.TrimSpace(text[m[1]:end]))
		out = append(out, Section{Heading: heading, Body: body})
	}
	return out
}
