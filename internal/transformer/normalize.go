// Package transformer converts raw catalog rows into canonical records and
// partitions them into accepted and rejected sets.
//
// Normalization is a pure per-row mapping with a strict totality rule: no raw
// value may abort the run. Optional fields degrade to their documented
// defaults (0 for numerics, empty slice for arrays); only the required
// fields (release date, id, name) can reject a row, and rejection is a
// classification, not an error that propagates upward.
package transformer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cleanse/internal/catalog"
	"cleanse/pkg/records"
)

// ErrUnparsableDate marks a release date that matched none of the candidate
// layouts. Because the date is required, this rejects the row.
var ErrUnparsableDate = errors.New("unparsable date")

// dateLayouts are tried in priority order. Day-month-year wins over
// month-day-year for ambiguous values like "01/02/2024"; this is a declared
// policy, fixed for every row of every run.
var dateLayouts = []string{
	"02/01/2006", // 13/04/2024 (DD/MM/YYYY)
	"01/02/2006", // 04/13/2024 (MM/DD/YYYY)
	"2006-01-02", // 2024-04-13 (ISO)
	"02-01-2006", // 13-04-2024
	"2006/01/02", // 2024/04/13
	"02.01.2006", // 13.04.2024
	"20060102",   // 20240413
}

// ParseDate tries each candidate layout in order and returns the first
// successful parse as a calendar date. The error wraps ErrUnparsableDate and
// names the offending value.
func ParseDate(s string) (catalog.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return catalog.Date{}, fmt.Errorf("%w: empty value", ErrUnparsableDate)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return catalog.NewDate(t), nil
		}
	}
	return catalog.Date{}, fmt.Errorf("%w: %q", ErrUnparsableDate, s)
}

// NormalizeName upper-cases the artist name. Interior whitespace is
// preserved exactly as the source contains it.
func NormalizeName(s string) string { return strings.ToUpper(s) }

// CoerceInt parses a numeric field after stripping thousands separators and
// surrounding whitespace. Decimal values truncate toward zero. Any value
// that still fails to parse degrades silently to 0; bad numerics never
// reject a row.
func CoerceInt(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	// Thousands decoration: "1,000,000", "1 000 000", "1_000_000".
	cleaned := strings.NewReplacer(",", "", " ", "", "_", "").Replace(s)
	if n, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return int64(f)
	}
	return 0
}

// ParseArray decodes a bracket-and-quote delimited list such as
// "['pop', 'rock']" into its ordered, trimmed elements. Malformed or empty
// input yields an empty (non-nil) slice so downstream serialization emits
// [] rather than null.
func ParseArray(s string) []string {
	out := []string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	s = strings.Trim(s, "[]")
	s = strings.NewReplacer("'", "", `"`, "").Replace(s)
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeYear keeps year fields verbatim except for the placeholder
// strings a previous tabular tool leaves behind, which collapse to empty.
func NormalizeYear(s string) string {
	s = strings.TrimSpace(s)
	if s == "nan" || s == "None" {
		return ""
	}
	return s
}

// RowResult pairs one input row with its normalization outcome. Err is nil
// for rows whose required fields normalized; otherwise it carries the
// rejection reason and Record holds whatever did normalize, so the reject
// sink still receives typed values for the surviving fields.
type RowResult struct {
	Raw    records.Record
	Record catalog.Record
	Err    error
}

// Normalize maps one raw row to a canonical record. It is pure and applies
// no cross-row state.
func Normalize(raw records.Record) RowResult {
	rec := catalog.Record{
		ID:               raw.String("ids"),
		Name:             NormalizeName(raw.String("names")),
		MonthlyListeners: CoerceInt(raw.String("monthly_listeners")),
		Popularity:       CoerceInt(raw.String("popularity")),
		Followers:        CoerceInt(raw.String("followers")),
		Genres:           ParseArray(raw.String("genres")),
		FirstRelease:     NormalizeYear(raw.String("first_release")),
		LastRelease:      NormalizeYear(raw.String("last_release")),
		NumReleases:      CoerceInt(raw.String("num_releases")),
		NumTracks:        CoerceInt(raw.String("num_tracks")),
		PlaylistsFound:   raw.String("playlists_found"),
		FeatTrackIDs:     ParseArray(raw.String("feat_track_ids")),
	}

	var errs []error
	date, err := ParseDate(raw.String("dates"))
	if err != nil {
		errs = append(errs, fmt.Errorf("dates: %w", err))
	}
	rec.ReleaseDate = date

	if rec.ID == "" {
		errs = append(errs, errors.New("ids: required field is empty"))
	}
	if strings.TrimSpace(rec.Name) == "" {
		errs = append(errs, errors.New("names: required field is empty"))
	}

	return RowResult{Raw: raw, Record: rec, Err: errors.Join(errs...)}
}

// NormalizeAll applies Normalize to every row in input order.
func NormalizeAll(rows []records.Record) []RowResult {
	out := make([]RowResult, len(rows))
	for i, r := range rows {
		out[i] = Normalize(r)
	}
	return out
}
