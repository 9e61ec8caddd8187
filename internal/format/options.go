package format

import (
	"fmt"
	"sort"
	"strings"
)

// Recognized option keys.
const (
	OptDatabaseInclude        = `database.include`
	OptTableInclude           = `table.include`
	OptDeleteContainsOldField = `delete.contains.old-field`
	OptIgnoreParseErrors      = `ignore.parse.errors`
	OptTimestampFormat        = `timestamp-format.standard`
	OptMapNullKeyMode         = `map-null-key.mode`
	OptMapNullKeyLiteral      = `map-null-key.literal`
)

// TimestampFormat selects how TIMESTAMP columns are written in JSON
type TimestampFormat string

const (
	// TimestampSQL is "2006-01-02 15:04:05.999999999"
	TimestampSQL TimestampFormat = `SQL`
	// TimestampISO8601 is "2006-01-02T15:04:05.999999999"
	TimestampISO8601 TimestampFormat = `ISO-8601`
)

// MapNullKeyMode tells the encoder what to do with a null map key
type MapNullKeyMode string

const (
	MapNullKeyFail    MapNullKeyMode = `FAIL`
	MapNullKeyDrop    MapNullKeyMode = `DROP`
	MapNullKeyLiteral MapNullKeyMode = `LITERAL`
)

const defaultMapNullKeyLiteral = "null"

var decodingOptions = map[string]bool{
	OptDatabaseInclude:        true,
	OptTableInclude:           true,
	OptDeleteContainsOldField: true,
	OptIgnoreParseErrors:      true,
	OptTimestampFormat:        true,
}

var encodingOptions = map[string]bool{
	OptTimestampFormat:   true,
	OptMapNullKeyMode:    true,
	OptMapNullKeyLiteral: true,
}

// Options is the parsed, immutable format configuration. The zero value is
// the default: no filters, deletes read "data", strict policy, SQL timestamps.
type Options struct {
	// Database only admits envelopes whose "database" equals it. Empty means no filter.
	Database string

	// Table only admits envelopes whose "table" equals it. Empty means no filter.
	Table string

	// DeleteContainsOldField reads deleted rows from "old" instead of "data".
	DeleteContainsOldField bool

	// IgnoreParseErrors drops corrupt and unrecognized messages instead of failing.
	IgnoreParseErrors bool

	TimestampFormat   TimestampFormat
	MapNullKeyMode    MapNullKeyMode
	MapNullKeyLiteral string
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		TimestampFormat:   TimestampSQL,
		MapNullKeyMode:    MapNullKeyFail,
		MapNullKeyLiteral: defaultMapNullKeyLiteral,
	}
}

// ParseOptions reads the recognized option keys. Unknown keys and malformed
// values are rejected.
func ParseOptions(raw map[string]string) (Options, error) {
	opts := DefaultOptions()

	var unknown []string
	for key := range raw {
		if !decodingOptions[key] && !encodingOptions[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Options{}, fmt.Errorf("unsupported options: %s", strings.Join(unknown, ", "))
	}

	var err error
	opts.Database = raw[OptDatabaseInclude]
	opts.Table = raw[OptTableInclude]

	if opts.DeleteContainsOldField, err = parseBool(raw, OptDeleteContainsOldField); err != nil {
		return Options{}, err
	}
	if opts.IgnoreParseErrors, err = parseBool(raw, OptIgnoreParseErrors); err != nil {
		return Options{}, err
	}

	if v, ok := raw[OptTimestampFormat]; ok {
		switch tf := TimestampFormat(strings.ToUpper(v)); tf {
		case TimestampSQL, TimestampISO8601:
			opts.TimestampFormat = tf
		default:
			return Options{}, fmt.Errorf("unsupported value %q for %s, supported are %s and %s",
				v, OptTimestampFormat, TimestampSQL, TimestampISO8601)
		}
	}

	if v, ok := raw[OptMapNullKeyMode]; ok {
		switch mode := MapNullKeyMode(strings.ToUpper(v)); mode {
		case MapNullKeyFail, MapNullKeyDrop, MapNullKeyLiteral:
			opts.MapNullKeyMode = mode
		default:
			return Options{}, fmt.Errorf("unsupported value %q for %s, supported are %s, %s and %s",
				v, OptMapNullKeyMode, MapNullKeyFail, MapNullKeyDrop, MapNullKeyLiteral)
		}
	}
	if v, ok := raw[OptMapNullKeyLiteral]; ok {
		opts.MapNullKeyLiteral = v
	}

	return opts, nil
}

func parseBool(raw map[string]string, key string) (bool, error) {
	v, ok := raw[key]
	if !ok {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported value %q for %s, expected true or false", v, key)
	}
}

// Map renders the options back into their key/value form, omitting unset filters
func (o Options) Map() map[string]string {
	m := map[string]string{
		OptDeleteContainsOldField: fmt.Sprint(o.DeleteContainsOldField),
		OptIgnoreParseErrors:      fmt.Sprint(o.IgnoreParseErrors),
		OptTimestampFormat:        string(o.TimestampFormat),
		OptMapNullKeyMode:         string(o.MapNullKeyMode),
		OptMapNullKeyLiteral:      o.MapNullKeyLiteral,
	}
	if o.Database != "" {
		m[OptDatabaseInclude] = o.Database
	}
	if o.Table != "" {
		m[OptTableInclude] = o.Table
	}
	return m
}

func (o Options) timestampLayout() string {
	if o.TimestampFormat == TimestampISO8601 {
		return isoTimestampLayout
	}
	return sqlTimestampLayout
}
