package transformer

import (
	"cleanse/internal/catalog"
)

// DuplicateReason is the reject reason attached to rows losing the
// first-seen-wins tie-break.
const DuplicateReason = "duplicate id: first occurrence already accepted"

// SeenIDs tracks which ids have already claimed a slot in the accepted set.
// It is an explicit value scoped to one pipeline run: callers allocate it,
// pass it in, and discard it with the run, which keeps the pipeline
// re-runnable and testable in isolation.
type SeenIDs map[string]struct{}

// NewSeenIDs allocates an empty seen-set.
func NewSeenIDs() SeenIDs { return make(SeenIDs) }

// Dedupe consumes normalized rows in order and splits them into the accepted
// and rejected sets.
//
// Classification rules, applied per row:
//   - A row whose required fields failed to normalize is rejected with that
//     failure's reason. Its id does not enter the seen-set; only rows that
//     reach the accepted set claim their id.
//   - Otherwise, first-seen wins: the first row carrying an id is accepted
//     and marks the id seen; later rows with the same id are rejected with
//     DuplicateReason. There is no field-level merge.
//
// Every input row lands in exactly one of the two outputs, so
// len(accepted)+len(rejected) always equals len(in).
func Dedupe(in []RowResult, seen SeenIDs) (accepted []catalog.Record, rejected []catalog.RejectedRecord) {
	for _, row := range in {
		if row.Err != nil {
			rejected = append(rejected, catalog.RejectedRecord{
				Record: row.Record,
				Raw:    row.Raw,
				Reason: row.Err.Error(),
			})
			continue
		}
		if _, dup := seen[row.Record.ID]; dup {
			rejected = append(rejected, catalog.RejectedRecord{
				Record: row.Record,
				Raw:    row.Raw,
				Reason: DuplicateReason,
			})
			continue
		}
		seen[row.Record.ID] = struct{}{}
		accepted = append(accepted, row.Record)
	}
	return accepted, rejected
}
