package format

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"maxwell-cdc/internal/schema"
)

// Envelope field names.
const (
	fieldData     = "data"
	fieldOld      = "old"
	fieldType     = "type"
	fieldDatabase = "database"
	fieldTable    = "table"

	fieldTs                = "ts"
	fieldXid               = "xid"
	fieldCommit            = "commit"
	fieldPosition          = "position"
	fieldGtid              = "gtid"
	fieldServerID          = "server_id"
	fieldPrimaryKeyColumns = "primary_key_columns"
)

var envelopeFields = []string{
	fieldData,
	fieldOld,
	fieldType,
	fieldDatabase,
	fieldTable,
	fieldTs,
	fieldXid,
	fieldCommit,
	fieldPosition,
	fieldGtid,
	fieldServerID,
	fieldPrimaryKeyColumns,
}

const (
	dateLayout         = "2006-01-02"
	timeLayout         = "15:04:05"
	sqlTimestampLayout = "2006-01-02 15:04:05"
	isoTimestampLayout = "2006-01-02T15:04:05"

	// fraction appended when writing; parsing accepts it without being told
	fractionLayout = ".999999999"
)

// Envelope is one decoded Maxwell message. Data and Old are nil when the
// message does not carry them.
type Envelope struct {
	Data RowImage
	Old  RowImage
	Type string
	Metadata
}

// RowDecoder turns raw message bytes into an Envelope. Row images decoded
// from objects have Arity() fields; positional images keep the length they
// arrived with. Implementations must be safe for concurrent use.
type RowDecoder interface {
	Decode(message []byte) (*Envelope, error)
	Arity() int
}

// JSONDecoder decodes Maxwell JSON against a fixed row schema
type JSONDecoder struct {
	rowType         schema.RowType
	index           map[string]int
	timestampLayout string
}

var _ RowDecoder = (*JSONDecoder)(nil)

// NewJSONDecoder creates a decoder for rows of rowType
func NewJSONDecoder(rowType schema.RowType, timestampFormat TimestampFormat) *JSONDecoder {
	index := make(map[string]int, rowType.Arity())
	for i, c := range rowType.Columns {
		index[c.Name] = i
	}
	return &JSONDecoder{
		rowType:         rowType,
		index:           index,
		timestampLayout: Options{TimestampFormat: timestampFormat}.timestampLayout(),
	}
}

// Arity implements RowDecoder
func (d *JSONDecoder) Arity() int {
	return d.rowType.Arity()
}

// Decode implements RowDecoder
func (d *JSONDecoder) Decode(message []byte) (*Envelope, error) {
	if !gjson.ValidBytes(message) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(message)
	if !root.IsObject() {
		return nil, errors.Errorf("expected a JSON object, got %s", jsonTypeName(root))
	}

	results := gjson.GetManyBytes(message, envelopeFields...)
	field := func(name string) gjson.Result {
		for i, f := range envelopeFields {
			if f == name {
				return results[i]
			}
		}
		return gjson.Result{}
	}

	env := &Envelope{}
	var err error

	if env.Type, err = stringField(fieldType, field(fieldType)); err != nil {
		return nil, err
	}
	if env.Database, err = stringField(fieldDatabase, field(fieldDatabase)); err != nil {
		return nil, err
	}
	if env.Table, err = stringField(fieldTable, field(fieldTable)); err != nil {
		return nil, err
	}
	if env.Data, err = d.decodeImage(fieldData, field(fieldData)); err != nil {
		return nil, err
	}
	if env.Old, err = d.decodeImage(fieldOld, field(fieldOld)); err != nil {
		return nil, err
	}

	// Metadata is informational only, values of an unexpected type are skipped.
	if v := field(fieldTs); v.Type == gjson.Number {
		env.Timestamp = v.Int()
	}
	if v := field(fieldXid); v.Type == gjson.Number {
		env.XID = v.Int()
	}
	if v := field(fieldServerID); v.Type == gjson.Number {
		env.ServerID = v.Int()
	}
	if v := field(fieldCommit); v.Type == gjson.True {
		env.Commit = true
	}
	if v := field(fieldPosition); v.Type == gjson.String {
		env.Position = v.Str
	}
	if v := field(fieldGtid); v.Type == gjson.String {
		env.GTID = v.Str
	}
	if v := field(fieldPrimaryKeyColumns); v.IsArray() {
		for _, pk := range v.Array() {
			if pk.Type == gjson.String {
				env.PrimaryKeyColumns = append(env.PrimaryKeyColumns, pk.Str)
			}
		}
	}

	return env, nil
}

func stringField(name string, v gjson.Result) (string, error) {
	switch v.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		return v.Str, nil
	default:
		return "", errors.Errorf("field %q: expected string, got %s", name, jsonTypeName(v))
	}
}

// decodeImage reads a row image either keyed by column name (the shape
// Maxwell writes) or positionally from an array.
func (d *JSONDecoder) decodeImage(name string, v gjson.Result) (RowImage, error) {
	if v.Type == gjson.Null {
		return nil, nil
	}

	arity := d.rowType.Arity()
	row := make(RowImage, arity)

	switch {
	case v.IsObject():
		var decodeErr error
		v.ForEach(func(key, value gjson.Result) bool {
			i, ok := d.index[key.Str]
			if !ok {
				// columns outside the target schema are not projected
				return true
			}
			row[i], decodeErr = d.decodeValue(d.rowType.Columns[i], value)
			if decodeErr != nil {
				decodeErr = errors.Wrapf(decodeErr, "field %q column %q", name, key.Str)
				return false
			}
			return true
		})
		if decodeErr != nil {
			return nil, decodeErr
		}

	case v.IsArray():
		// the image keeps the array's length; the translator checks it
		// against the schema once it knows the image is needed
		values := v.Array()
		row = make(RowImage, len(values))
		for i, value := range values {
			if i >= arity {
				row[i] = value.Value()
				continue
			}
			col := d.rowType.Columns[i]
			val, err := d.decodeValue(col, value)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q column %q", name, col.Name)
			}
			row[i] = val
		}

	default:
		return nil, errors.Errorf("field %q: expected object or array, got %s", name, jsonTypeName(v))
	}

	return row, nil
}

func (d *JSONDecoder) decodeValue(col schema.Column, v gjson.Result) (interface{}, error) {
	if v.Type == gjson.Null {
		return nil, nil
	}

	switch col.Type {
	case schema.TypeString:
		switch v.Type {
		case gjson.String:
			return v.Str, nil
		case gjson.Number, gjson.True, gjson.False:
			return v.Raw, nil
		}

	case schema.TypeBoolean:
		switch v.Type {
		case gjson.True:
			return true, nil
		case gjson.False:
			return false, nil
		case gjson.Number, gjson.String:
			switch strings.ToLower(textOf(v)) {
			case "1", "true":
				return true, nil
			case "0", "false":
				return false, nil
			}
		}

	case schema.TypeInt:
		if v.Type == gjson.Number || v.Type == gjson.String {
			n, err := strconv.ParseInt(textOf(v), 10, 64)
			if err != nil {
				return nil, errors.Wrap(err, "invalid INT")
			}
			return n, nil
		}

	case schema.TypeFloat:
		if v.Type == gjson.Number || v.Type == gjson.String {
			f, err := strconv.ParseFloat(textOf(v), 64)
			if err != nil {
				return nil, errors.Wrap(err, "invalid FLOAT")
			}
			return f, nil
		}

	case schema.TypeDecimal:
		if v.Type == gjson.Number || v.Type == gjson.String {
			dec, err := decimal.NewFromString(textOf(v))
			if err != nil {
				return nil, errors.Wrap(err, "invalid DECIMAL")
			}
			return dec, nil
		}

	case schema.TypeDate:
		if v.Type == gjson.String {
			t, err := time.Parse(dateLayout, v.Str)
			if err != nil {
				return nil, errors.Wrap(err, "invalid DATE")
			}
			return t, nil
		}

	case schema.TypeTime:
		if v.Type == gjson.String {
			t, err := time.Parse(timeLayout, v.Str)
			if err != nil {
				return nil, errors.Wrap(err, "invalid TIME")
			}
			return t, nil
		}

	case schema.TypeTimestamp:
		if v.Type == gjson.String {
			t, err := time.Parse(d.timestampLayout, strings.TrimSuffix(v.Str, "Z"))
			if err != nil {
				return nil, errors.Wrap(err, "invalid TIMESTAMP")
			}
			return t, nil
		}

	case schema.TypeBytes:
		if v.Type == gjson.String {
			b, err := base64.StdEncoding.DecodeString(v.Str)
			if err != nil {
				return nil, errors.Wrap(err, "invalid BYTES")
			}
			return b, nil
		}

	case schema.TypeJSON:
		return v.Raw, nil
	}

	return nil, errors.Errorf("cannot decode %s into %s", jsonTypeName(v), col.Type)
}

// textOf returns the literal text of a scalar: the string contents or the raw number
func textOf(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}
	return v.Raw
}

func jsonTypeName(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return "null"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Number:
		return "number"
	case gjson.String:
		return "string"
	default:
		if v.IsArray() {
			return "array"
		}
		return "object"
	}
}
