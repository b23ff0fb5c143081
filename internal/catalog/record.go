// Package catalog defines the canonical record model for the music-catalog
// cleansing pipeline: the typed Record produced by normalization, the
// RejectedRecord wrapper carrying a reject reason, and the fixed column
// layouts of the source file and the two destination tables.
package catalog

import (
	"encoding/json"
	"time"

	"cleanse/pkg/records"
)

// DateLayout is the canonical output form for release dates.
const DateLayout = "2006-01-02"

// Columns is the ordered column layout shared by the source CSV, the "data"
// table, and the JSON backup. The reject table appends reject_reason.
var Columns = []string{
	"dates",
	"ids",
	"names",
	"monthly_listeners",
	"popularity",
	"followers",
	"genres",
	"first_release",
	"last_release",
	"num_releases",
	"num_tracks",
	"playlists_found",
	"feat_track_ids",
}

// RejectReasonColumn is the extra column carried by the reject table.
const RejectReasonColumn = "reject_reason"

// Date is a calendar date with an explicit validity flag. The zero value is
// invalid. It marshals to a "YYYY-MM-DD" JSON string; an invalid date
// marshals to the empty string.
type Date struct {
	Time  time.Time
	Valid bool
}

// NewDate returns a valid Date for t truncated to its calendar day.
func NewDate(t time.Time) Date {
	return Date{Time: t, Valid: true}
}

// String renders the date as YYYY-MM-DD, or "" when invalid.
func (d Date) String() string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler. An empty string decodes to an
// invalid Date.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return err
	}
	*d = NewDate(t)
	return nil
}

// Value returns the date as a driver-friendly value: a time.Time when valid,
// nil otherwise. Passing nil lets the database surface NOT NULL violations
// on rows whose date never parsed instead of silently inventing one.
func (d Date) Value() any {
	if !d.Valid {
		return nil
	}
	return d.Time
}

// Record is one normalized catalog entry. Field order mirrors Columns.
type Record struct {
	ReleaseDate      Date     `json:"dates" db:"dates"`
	ID               string   `json:"ids" db:"ids"`
	Name             string   `json:"names" db:"names"`
	MonthlyListeners int64    `json:"monthly_listeners" db:"monthly_listeners"`
	Popularity       int64    `json:"popularity" db:"popularity"`
	Followers        int64    `json:"followers" db:"followers"`
	Genres           []string `json:"genres" db:"genres"`
	FirstRelease     string   `json:"first_release" db:"first_release"`
	LastRelease      string   `json:"last_release" db:"last_release"`
	NumReleases      int64    `json:"num_releases" db:"num_releases"`
	NumTracks        int64    `json:"num_tracks" db:"num_tracks"`
	PlaylistsFound   string   `json:"playlists_found" db:"playlists_found"`
	FeatTrackIDs     []string `json:"feat_track_ids" db:"feat_track_ids"`
}

// Row returns the record's values aligned with Columns, in driver-ready form.
func (r Record) Row() []any {
	return []any{
		r.ReleaseDate.Value(),
		r.ID,
		r.Name,
		r.MonthlyListeners,
		r.Popularity,
		r.Followers,
		r.Genres,
		r.FirstRelease,
		r.LastRelease,
		r.NumReleases,
		r.NumTracks,
		r.PlaylistsFound,
		r.FeatTrackIDs,
	}
}

// RejectedRecord is a Record that did not reach the accepted set. Raw keeps
// the original pre-normalization row so the reject backup can preserve the
// source layout for human review; Reason explains the classification.
type RejectedRecord struct {
	Record
	Raw    records.Record
	Reason string
}

// Row returns the reject-table values: the normalized row plus the reason.
func (r RejectedRecord) Row() []any {
	return append(r.Record.Row(), r.Reason)
}
