package segment

import (
	"strings"
	"testing"
)

const form604 = `Form 604
Notice of change of interests of substantial holder

1. Details of substantial holder
Name  ABC Capital Pty Ltd
ACN/ARSN  123 456 789

3. Previous and present voting power
Class of securities  Ordinary
Previous notice  10,000,000  5.10%
Present notice  12,500,000  6.40%

4. Changes in relevant interests
Date of change 15/01/2024
`

func TestSplit(t *testing.T) {
	secs := Split(form604, DefaultHeadings)

	if len(secs) != 3 {
		t.Fatalf("got %d sections, want 3: %+v", len(secs), secs)
	}
	if secs[0].Heading != "details of substantial holder" {
		t.Errorf("first heading = %q", secs[0].Heading)
	}
	if !strings.Contains(secs.Body("details of substantial holder"), "abc capital pty ltd") {
		t.Errorf("holder body = %q", secs.Body("details of substantial holder"))
	}
	if !strings.Contains(secs.Body("previous and present voting power"), "12,500,000") {
		t.Errorf("voting body = %q", secs.Body("previous and present voting power"))
	}
	// Body must stop at the next heading.
	if strings.Contains(secs.Body("previous and present voting power"), "date of change") {
		t.Error("voting body leaked into the next section")
	}
}

func TestSplitBodiesLowercased(t *testing.T) {
	secs := Split("Details of substantial holder\nName  UPPER CASE NAME\n", DefaultHeadings)
	body := secs.Body("Details of Substantial Holder")
	if body != "name  upper case name" {
		t.Errorf("body = %q, want lowercased", body)
	}
}

func TestSplitMissingHeadingsAbsent(t *testing.T) {
	secs := Split("1. Details of substantial holder\nName  X\n", DefaultHeadings)
	if len(secs) != 1 {
		t.Fatalf("got %d sections, want 1", len(secs))
	}
	if secs.Has("previous and present voting power") {
		t.Error("absent heading reported as present")
	}
	if secs.Body("previous and present voting power") != "" {
		t.Error("absent heading returned a body")
	}
}

func TestSplitNoHeadings(t *testing.T) {
	if secs := Split("no headings at all", DefaultHeadings); secs != nil {
		t.Errorf("got %v, want nil", secs)
	}
}

// A repeated heading must not produce a second section; the first
// occurrence wins and the repeat only terminates the previous body.
func TestSplitRepeatedHeadingFirstWins(t *testing.T) {
	text := "Details of substantial holder\nName  First Holder\n" +
		"Details of substantial holder\nName  Second Holder\n"
	secs := Split(text, DefaultHeadings)
	if len(secs) != 1 {
		t.Fatalf("got %d sections, want 1", len(secs))
	}
	body := secs.Body("details of substantial holder")
	if !strings.Contains(body, "first holder") {
		t.Errorf("body = %q, want the first occurrence's text", body)
	}
	if strings.Contains(body, "second holder") {
		t.Errorf("body = %q, repeat's text must not merge into the first body", body)
	}
}

func TestSplitNumberedPrefix(t *testing.T) {
	secs := Split("2. Previous and present voting power\n10,000 1.00%\n", DefaultHeadings)
	if !secs.Has("previous and present voting power") {
		t.Fatal("numbered heading not matched")
	}
	if strings.Contains(secs[0].Heading, "2.") {
		t.Errorf("heading key %q retains the numeric prefix", secs[0].Heading)
	}
}
