package docext

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"
)

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// decodeContentStream parses PDF content-stream operators for text. Text
// positioning operators (Td, TD, T*, the ' shorthand) become newlines so
// the form's line structure survives; downstream extraction anchors on
// lines like "Name  <holder>".
func decodeContentStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		// Tj operator: (text) Tj
		case bytes.HasSuffix(line, []byte("Tj")):
			appendLiterals(&sb, line, " ")

		// TJ operator: [(text) -100 (more text)] TJ
		case bytes.HasSuffix(line, []byte("TJ")):
			appendLiterals(&sb, line, " ")

		// ' operator (next line then show text): (text) '
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			appendLiterals(&sb, line, "\n")

		// Td/TD move the text cursor; in the notice forms that means a
		// new field line.
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			sb.WriteByte('\n')

		// T* moves to the start of the next line.
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return cleanText(sb.String())
}

func appendLiterals(sb *strings.Builder, line []byte, sep string) {
	for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
		text := decodePDFString(m[1])
		if text == "" {
			continue
		}
		if sep == "\n" && sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
		if sep == " " {
			sb.WriteByte(' ')
		}
	}
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '(':
				sb.WriteByte('(')
			case ')':
				sb.WriteByte(')')
			default:
				// Octal escape (e.g. \040 for space).
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
						i++
						val = val*8 + int(raw[i]-'0')
						if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
							i++
							val = val*8 + int(raw[i]-'0')
						}
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// cleanText collapses runs of spaces and tabs but keeps line breaks, then
// trims empty lines.
func cleanText(text string) string {
	var sb strings.Builder
	var line strings.Builder
	flush := func() {
		l := strings.TrimSpace(line.String())
		line.Reset()
		if l == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l)
	}
	prevSpace := false
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			flush()
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && line.Len() > 0 {
				line.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			line.WriteRune(r)
			prevSpace = false
		}
	}
	flush()
	return sb.String()
}
