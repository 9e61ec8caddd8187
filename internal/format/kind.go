package format

import "fmt"

// ChangeKind tags an emitted row image with the kind of change it describes
type ChangeKind int8

const (
	Insert ChangeKind = iota
	UpdateBefore
	UpdateAfter
	Delete
)

var kindNames = [...]string{
	Insert:       "INSERT",
	UpdateBefore: "UPDATE_BEFORE",
	UpdateAfter:  "UPDATE_AFTER",
	Delete:       "DELETE",
}

var kindShortStrings = [...]string{
	Insert:       "+I",
	UpdateBefore: "-U",
	UpdateAfter:  "+U",
	Delete:       "-D",
}

func (k ChangeKind) valid() bool {
	return k >= Insert && k <= Delete
}

func (k ChangeKind) String() string {
	if !k.valid() {
		return fmt.Sprintf("ChangeKind(%d)", int8(k))
	}
	return kindNames[k]
}

// ShortString returns the compact changelog notation (+I, -U, +U, -D)
func (k ChangeKind) ShortString() string {
	if !k.valid() {
		return "??"
	}
	return kindShortStrings[k]
}

// MarshalText renders the kind by name
func (k ChangeKind) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, fmt.Errorf("invalid change kind %d", int8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText accepts both the long and short notation
func (k *ChangeKind) UnmarshalText(text []byte) error {
	parsed, err := ParseChangeKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseChangeKind parses INSERT/UPDATE_BEFORE/UPDATE_AFTER/DELETE or +I/-U/+U/-D
func ParseChangeKind(s string) (ChangeKind, error) {
	for i := range kindNames {
		if s == kindNames[i] || s == kindShortStrings[i] {
			return ChangeKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown change kind %q", s)
}

// ChangelogMode lists every kind the format produces
func ChangelogMode() []ChangeKind {
	return []ChangeKind{Insert, UpdateBefore, UpdateAfter, Delete}
}
