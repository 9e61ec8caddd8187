package format

// RowImage is one table row: a fixed-arity, ordered list of nullable values.
// A nil entry is SQL NULL (or, in the "old" image of an update, "unchanged").
//
// Decoded values are one of: string, bool, int64, float64, decimal.Decimal,
// time.Time, []byte, or nil.
type RowImage []interface{}

// Arity returns the number of fields
func (r RowImage) Arity() int {
	return len(r)
}

// IsNullAt reports whether field i is null
func (r RowImage) IsNullAt(i int) bool {
	return r[i] == nil
}

// Clone returns a copy that shares no backing array with r
func (r RowImage) Clone() RowImage {
	if r == nil {
		return nil
	}
	out := make(RowImage, len(r))
	copy(out, r)
	return out
}

// Reconcile builds the full before-image of an update. A null field in
// beforePartial means the column was not changed, so its value is taken from
// after; a non-null field is the column's prior value and is kept.
//
// Neither input is modified. Images of different arity are a
// *MalformedEnvelopeError.
func Reconcile(after, beforePartial RowImage) (RowImage, error) {
	if len(after) != len(beforePartial) {
		return nil, &MalformedEnvelopeError{
			Field:    fieldOld,
			Expected: len(after),
			Actual:   len(beforePartial),
		}
	}

	before := make(RowImage, len(after))
	for i := range after {
		if beforePartial[i] == nil {
			before[i] = after[i]
		} else {
			before[i] = beforePartial[i]
		}
	}
	return before, nil
}

// Metadata is the envelope information that travels with every emitted event
type Metadata struct {
	Database          string
	Table             string
	Timestamp         int64 // Maxwell "ts", seconds since epoch
	Position          string
	GTID              string
	XID               int64
	Commit            bool
	ServerID          int64
	PrimaryKeyColumns []string
}

func (m Metadata) clone() Metadata {
	if m.PrimaryKeyColumns != nil {
		pk := make([]string, len(m.PrimaryKeyColumns))
		copy(pk, m.PrimaryKeyColumns)
		m.PrimaryKeyColumns = pk
	}
	return m
}

// ChangeEvent is a row image tagged with its change kind. Events returned by
// the translator never share backing storage with each other.
type ChangeEvent struct {
	Kind ChangeKind
	Row  RowImage
	Meta Metadata
}
