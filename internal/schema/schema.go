package schema

import (
	"fmt"
	"strings"
)

// LogicalType is the type a column value is decoded into
type LogicalType int

const (
	TypeString LogicalType = iota
	TypeBoolean
	TypeInt
	TypeFloat
	TypeDecimal
	TypeDate
	TypeTime
	TypeTimestamp
	TypeBytes
	TypeJSON
)

var typeNames = map[LogicalType]string{
	TypeString:    "STRING",
	TypeBoolean:   "BOOLEAN",
	TypeInt:       "INT",
	TypeFloat:     "FLOAT",
	TypeDecimal:   "DECIMAL",
	TypeDate:      "DATE",
	TypeTime:      "TIME",
	TypeTimestamp: "TIMESTAMP",
	TypeBytes:     "BYTES",
	TypeJSON:      "JSON",
}

func (t LogicalType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("LogicalType(%d)", int(t))
}

// ParseLogicalType accepts either a logical type name (STRING, INT, ...) or a
// MySQL column type such as "varchar(255)" or "tinyint(1) unsigned".
func ParseLogicalType(s string) (LogicalType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return TypeString, fmt.Errorf("empty column type")
	}
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return FromMySQLType(s), nil
}

// FromMySQLType maps a MySQL column type (COLUMN_TYPE or DATA_TYPE) to the
// logical type Maxwell values of that column decode into.
func FromMySQLType(columnType string) LogicalType {
	ct := strings.ToLower(strings.TrimSpace(columnType))
	base := ct
	if i := strings.IndexAny(base, "( "); i >= 0 {
		base = base[:i]
	}

	switch base {
	case "tinyint":
		// tinyint(1) is how MySQL spells BOOLEAN
		if strings.HasPrefix(ct, "tinyint(1)") {
			return TypeBoolean
		}
		return TypeInt
	case "bool", "boolean":
		return TypeBoolean
	case "bigint":
		// values above 2^63-1 do not fit INT
		if strings.Contains(ct, "unsigned") {
			return TypeDecimal
		}
		return TypeInt
	case "smallint", "mediumint", "int", "integer", "year", "bit":
		return TypeInt
	case "float", "double", "real":
		return TypeFloat
	case "decimal", "numeric", "dec", "fixed":
		return TypeDecimal
	case "date":
		return TypeDate
	case "time":
		return TypeTime
	case "datetime", "timestamp":
		return TypeTimestamp
	case "json":
		return TypeJSON
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return TypeBytes
	default:
		return TypeString
	}
}

// Column is one named, typed column of a table
type Column struct {
	Name string
	Type LogicalType
}

// RowType is the ordered column list of the target table. Row images decoded
// against it always have Arity() fields.
type RowType struct {
	Columns []Column
}

// NewRowType builds a RowType, rejecting empty and duplicate column names
func NewRowType(columns ...Column) (RowType, error) {
	if len(columns) == 0 {
		return RowType{}, fmt.Errorf("row type has no columns")
	}
	seen := make(map[string]bool, len(columns))
	cols := make([]Column, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return RowType{}, fmt.Errorf("column %d has no name", i)
		}
		if seen[c.Name] {
			return RowType{}, fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		cols[i] = c
	}
	return RowType{Columns: cols}, nil
}

// MustRowType is like NewRowType but panics on error
func MustRowType(columns ...Column) RowType {
	rt, err := NewRowType(columns...)
	if err != nil {
		panic(err)
	}
	return rt
}

// Arity returns the number of columns
func (rt RowType) Arity() int {
	return len(rt.Columns)
}

// Index returns the position of the named column, or -1
func (rt RowType) Index(name string) int {
	for i, c := range rt.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the column names in order
func (rt RowType) Names() []string {
	names := make([]string, len(rt.Columns))
	for i, c := range rt.Columns {
		names[i] = c.Name
	}
	return names
}

func (rt RowType) String() string {
	parts := make([]string, len(rt.Columns))
	for i, c := range rt.Columns {
		parts[i] = fmt.Sprintf("%s %s", c.Name, c.Type)
	}
	return "ROW<" + strings.Join(parts, ", ") + ">"
}
