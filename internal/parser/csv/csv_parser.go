// Package csv implements the catalog export parser. It reads delimited
// tabular text with a header row and produces one records.Record per data
// row, preserving the original string values for later normalization and for
// the reject backup. It performs no semantic validation: a missing optional
// field is simply an absent or nil map entry.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"cleanse/internal/datasource"
	"cleanse/pkg/records"
)

// Options configures the parser. All fields are optional; sensible defaults
// are applied when a field is zero.
type Options struct {
	// Comma specifies the field delimiter. When zero, ',' is used.
	Comma rune

	// TrimSpace trims leading/trailing ASCII spaces from each field value.
	TrimSpace bool

	// ExpectedFields, when > 0, enforces a fixed field count per record. Rows
	// with a different width are skipped (soft-fail) and counted.
	ExpectedFields int

	// HeaderMap maps source header names to canonical keys. Applied after
	// the default header normalization, so keys should be in normalized form.
	HeaderMap map[string]string
}

// Parser parses catalog CSV input according to Options. It is safe to reuse
// across inputs, but Parser itself is not concurrency-safe.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// Result carries the parsed rows plus bookkeeping the orchestrator reports.
type Result struct {
	// Headers are the normalized column names in source order. The reject
	// backup reuses this layout.
	Headers []string

	// Rows holds one Record per successfully read data row, in input order.
	Rows []records.Record

	// Skipped counts rows dropped for CSV-level errors (bad quoting, wrong
	// field count). These never reach normalization.
	Skipped int
}

// Parse consumes CSV records from r. A missing or undecodable header is
// fatal and wrapped with datasource.ErrUnreadable; individual malformed data
// rows are soft-failed and counted in Result.Skipped.
func (p *Parser) Parse(r io.Reader) (Result, error) {
	cr := csv.NewReader(r)
	if p.opt.Comma != 0 {
		cr.Comma = p.opt.Comma
	}
	cr.FieldsPerRecord = -1 // width is enforced against the header below

	var res Result

	h, err := cr.Read()
	if err != nil {
		return res, fmt.Errorf("read csv header: %w: %w", datasource.ErrUnreadable, err)
	}
	res.Headers = normalizeHeaders(h, p.opt)

	want := len(res.Headers)
	if p.opt.ExpectedFields > 0 {
		want = p.opt.ExpectedFields
	}

	const logLimit = 400
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if res.Skipped < logLimit {
				log.Printf("parser: skipping row %d: %v", line, err)
			}
			res.Skipped++
			continue
		}
		if len(row) != want {
			if res.Skipped < logLimit {
				log.Printf("parser: skipping row %d: incorrect number of fields (expected %d, got %d)", line, want, len(row))
			}
			res.Skipped++
			continue
		}

		rec := make(records.Record, len(row))
		for i, val := range row {
			if p.opt.TrimSpace {
				val = strings.TrimSpace(val)
			}
			rec[keyFor(i, res.Headers)] = emptyToNil(val)
		}
		res.Rows = append(res.Rows, rec)
	}

	return res, nil
}

// keyFor returns the column key for index idx, using headers when available,
// otherwise synthesizing a "col_N" name.
func keyFor(idx int, headers []string) string {
	if idx < len(headers) && headers[idx] != "" {
		return headers[idx]
	}
	return fmt.Sprintf("col_%d", idx)
}

// emptyToNil converts an empty string to nil; all other values pass through.
func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalizeHeaders produces canonical header keys: BOM stripped from the
// first cell, diacritics folded to ASCII, lowercased, spaces collapsed to
// underscores. HeaderMap overrides apply after normalization.
func normalizeHeaders(h []string, opt Options) []string {
	res := make([]string, len(h))
	for i, col := range h {
		c := strings.TrimSpace(col)
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		c = foldFieldName(c)
		if opt.HeaderMap != nil {
			if m, ok := opt.HeaderMap[c]; ok {
				res[i] = m
				continue
			}
		}
		res[i] = c
	}
	return res
}

// foldFieldName lowercases s, removes combining marks (accents), and maps
// separator runs to single underscores, leaving only [a-z0-9_].
func foldFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	// Decompose, strip nonspacing marks, recompose.
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		default:
			// drop anything else
		}
	}
	return strings.Trim(b.String(), "_")
}
