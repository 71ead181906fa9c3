package header

import (
	"errors"
	"strings"
	"testing"
)

// record builds a minimal valid 37-field header record and applies overrides.
func record(t *testing.T, overrides map[int]string) string {
	t.Helper()
	fields := make([]string, minFields)
	fields[fieldPages] = "4"
	fields[4] = "AN"
	fields[fieldRecDate] = "20240115"
	fields[fieldRecTime] = "093000"
	fields[repBankStart] = "02002"
	fields[fieldRelDate] = "20240115"
	fields[fieldRelTime] = "101500"
	fields[fieldNumber] = "02768986"
	fields[fieldCode] = "IMM"
	fields[34] = "ASX"
	fields[fieldSensitive] = "N"
	fields[fieldHeadline] = "Change in substantial holding"
	for i, v := range overrides {
		fields[i] = v
	}
	return strings.Join(fields, "\n")
}

func TestParse(t *testing.T) {
	a, err := Parse("20240115/02768986", record(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	if a.Ticker != "IMM" {
		t.Errorf("ticker = %q, want IMM", a.Ticker)
	}
	if !a.HasRepType(RepChange) {
		t.Errorf("rep types = %v, want to contain %s", a.RepTypes, RepChange)
	}
	if a.Pages == nil || *a.Pages != 4 {
		t.Errorf("pages = %v, want 4", a.Pages)
	}
	if a.Sensitive {
		t.Error("sensitive = true, want false")
	}
	if a.Received.IsZero() || a.Received.Year() != 2024 {
		t.Errorf("received = %v, want 2024 stamp", a.Received)
	}
	if !a.SubstantialHolding() {
		t.Error("expected substantial-holding classification")
	}
}

func TestParseShortRecord(t *testing.T) {
	_, err := Parse("x", "4\nAN\nsomething")
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if fe.FilingID != "x" {
		t.Errorf("filing id = %q, want x", fe.FilingID)
	}
}

func TestParseEmptyRequiredField(t *testing.T) {
	_, err := Parse("x", record(t, map[int]string{fieldHeadline: ""}))
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError for empty headline, got %v", err)
	}
}

// Non-numeric page count is not a rejection criterion: the record passes
// structural validation with an unknown page count.
func TestParseNonNumericPages(t *testing.T) {
	a, err := Parse("x", record(t, map[int]string{fieldPages: "??"}))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if a.Pages != nil {
		t.Errorf("pages = %d, want nil", *a.Pages)
	}
}

func TestParseMultipleRepTypes(t *testing.T) {
	a, err := Parse("x", record(t, map[int]string{repBankStart: "02001", repBankStart + 1: "03002"}))
	if err != nil {
		t.Fatal(err)
	}
	if !a.HasRepType(RepBecoming) || !a.HasRepType(RepTop20) {
		t.Errorf("rep types = %v, want 02001 and 03002", a.RepTypes)
	}
	if a.HasRepType(RepCeasing) {
		t.Errorf("rep types = %v, should not contain 02003", a.RepTypes)
	}
}

// 5-digit tokens absent from the registry are not rep-type codes.
func TestParseUnregisteredCodeIgnored(t *testing.T) {
	a, err := Parse("x", record(t, map[int]string{repBankStart: "09999", repBankStart + 1: "02003"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(a.RepTypes) != 1 || a.RepTypes[0] != RepCeasing {
		t.Errorf("rep types = %v, want [02003]", a.RepTypes)
	}
}

func TestParseUnknownTicker(t *testing.T) {
	// No 3-char alphanumeric field with a letter anywhere: digits-only
	// issuer code and clear anchors elsewhere.
	a, err := Parse("x", record(t, map[int]string{fieldCode: "123", 34: "ASXX"}))
	if err != nil {
		t.Fatal(err)
	}
	if a.Ticker != UnknownTicker {
		t.Errorf("ticker = %q, want %q", a.Ticker, UnknownTicker)
	}
}

func TestParseTickerFallbackScan(t *testing.T) {
	// Issuer-code position corrupted; a ticker-shaped token elsewhere in
	// the record is still picked up.
	a, err := Parse("x", record(t, map[int]string{fieldCode: "", 34: "A2M"}))
	if err != nil {
		t.Fatal(err)
	}
	if a.Ticker != "A2M" {
		t.Errorf("ticker = %q, want A2M", a.Ticker)
	}
}

func TestParseBadStampIsZero(t *testing.T) {
	a, err := Parse("x", record(t, map[int]string{fieldRelDate: "notadate"}))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Released.IsZero() {
		t.Errorf("released = %v, want zero", a.Released)
	}
}
