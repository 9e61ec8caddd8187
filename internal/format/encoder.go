package format

import (
	"encoding/base64"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"maxwell-cdc/internal/schema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encoder writes change events back out as Maxwell JSON
type Encoder struct {
	rowType schema.RowType
	opts    Options
}

// NewEncoder creates an encoder for rows of rowType
func NewEncoder(rowType schema.RowType, opts Options) *Encoder {
	return &Encoder{
		rowType: rowType,
		opts:    opts,
	}
}

type maxwellRecord struct {
	Database string                 `json:"database,omitempty"`
	Table    string                 `json:"table,omitempty"`
	Type     string                 `json:"type"`
	Data     map[string]interface{} `json:"data"`
}

// MaxwellType maps a change kind onto the Maxwell "type" it is written as.
// Both halves of an update are written as their own insert and delete.
func MaxwellType(kind ChangeKind) (string, error) {
	switch kind {
	case Insert, UpdateAfter:
		return opInsert, nil
	case UpdateBefore, Delete:
		return opDelete, nil
	default:
		return "", fmt.Errorf("unsupported change kind %s", kind)
	}
}

// Encode serializes one change event
func (e *Encoder) Encode(ev ChangeEvent) ([]byte, error) {
	data, err := e.RowData(ev.Row)
	if err != nil {
		return nil, err
	}
	return MarshalRecord(ev.Kind, ev.Meta.Database, ev.Meta.Table, data)
}

// MarshalRecord writes a Maxwell record for already rendered column data
func MarshalRecord(kind ChangeKind, database, table string, data map[string]interface{}) ([]byte, error) {
	typ, err := MaxwellType(kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(maxwellRecord{
		Database: database,
		Table:    table,
		Type:     typ,
		Data:     data,
	})
}

// RowData renders a row image as a column name to JSON value map, using the
// same textual forms the decoder reads.
func (e *Encoder) RowData(row RowImage) (map[string]interface{}, error) {
	if len(row) != e.rowType.Arity() {
		return nil, &MalformedEnvelopeError{Field: fieldData, Expected: e.rowType.Arity(), Actual: len(row)}
	}

	data := make(map[string]interface{}, len(row))
	for i, col := range e.rowType.Columns {
		v, err := e.encodeValue(col, row[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		data[col.Name] = v
	}
	return data, nil
}

func (e *Encoder) encodeValue(col schema.Column, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if col.Type == schema.TypeJSON {
			if !json.Valid([]byte(val)) {
				return nil, fmt.Errorf("invalid JSON value")
			}
			return jsoniter.RawMessage(val), nil
		}
		return val, nil
	case bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case decimal.Decimal:
		return jsoniter.Number(val.String()), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(val), nil
	case time.Time:
		switch col.Type {
		case schema.TypeDate:
			return val.Format(dateLayout), nil
		case schema.TypeTime:
			return val.Format(timeLayout + fractionLayout), nil
		default:
			return val.UTC().Format(e.opts.timestampLayout() + fractionLayout), nil
		}
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
