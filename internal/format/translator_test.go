package format

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maxwell-cdc/internal/schema"
)

var nameCount = schema.MustRowType(
	schema.Column{Name: "name", Type: schema.TypeString},
	schema.Column{Name: "n", Type: schema.TypeInt},
)

func newTestTranslator(t *testing.T, rowType schema.RowType, raw map[string]string) *Translator {
	t.Helper()
	tr, err := NewDecodingFormat(raw, rowType)
	require.NoError(t, err)
	return tr
}

func TestTranslateUpdateReconcilesOld(t *testing.T) {
	tr := newTestTranslator(t, nameCount, nil)

	events, err := tr.Translate([]byte(`{"data":["a",2],"old":[null,1],"type":"update","database":"d","table":"t"}`))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, UpdateBefore, events[0].Kind)
	assert.Equal(t, RowImage{"a", int64(1)}, events[0].Row)
	assert.Equal(t, UpdateAfter, events[1].Kind)
	assert.Equal(t, RowImage{"a", int64(2)}, events[1].Row)

	assert.Equal(t, "d", events[0].Meta.Database)
	assert.Equal(t, "t", events[1].Meta.Table)
}

func TestTranslateUpdateWithObjectImages(t *testing.T) {
	tr := newTestTranslator(t, nameCount, nil)

	events, err := tr.Translate([]byte(`{"database":"shop","table":"items","type":"update","ts":1700000000,"xid":42,"commit":true,` +
		`"position":"mysql-bin.000003:1200","data":{"name":"b","n":5},"old":{"name":"a"}}`))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, RowImage{"a", int64(5)}, events[0].Row)
	assert.Equal(t, RowImage{"b", int64(5)}, events[1].Row)

	meta := events[0].Meta
	assert.Equal(t, int64(1700000000), meta.Timestamp)
	assert.Equal(t, int64(42), meta.XID)
	assert.True(t, meta.Commit)
	assert.Equal(t, "mysql-bin.000003:1200", meta.Position)
}

func TestTranslateUpdateOldAllNull(t *testing.T) {
	tr := newTestTranslator(t, nameCount, nil)

	events, err := tr.Translate([]byte(`{"data":["a",2],"old":[null,null],"type":"update"}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, events[1].Row, events[0].Row)

	// the two images must not share storage
	events[0].Row[0] = "changed"
	assert.Equal(t, "a", events[1].Row[0])
}

func TestTranslateInsert(t *testing.T) {
	tr := newTestTranslator(t, nameCount, nil)

	events, err := tr.Translate([]byte(`{"data":{"name":"x","n":"7"},"type":"insert","database":"d","table":"t","primary_key_columns":["n"]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Insert, events[0].Kind)
	assert.Equal(t, RowImage{"x", int64(7)}, events[0].Row)
	assert.Equal(t, []string{"n"}, events[0].Meta.PrimaryKeyColumns)
}

func TestTranslateDelete(t *testing.T) {
	msg := []byte(`{"data":["from-data",1],"old":["from-old",2],"type":"delete"}`)

	t.Run("data", func(t *testing.T) {
		events, err := newTestTranslator(t, nameCount, nil).Translate(msg)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, Delete, events[0].Kind)
		assert.Equal(t, RowImage{"from-data", int64(1)}, events[0].Row)
	})

	t.Run("old", func(t *testing.T) {
		tr := newTestTranslator(t, nameCount, map[string]string{OptDeleteContainsOldField: "true"})
		events, err := tr.Translate(msg)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, RowImage{"from-old", int64(2)}, events[0].Row)
	})

	t.Run("unused image of the wrong length", func(t *testing.T) {
		events, err := newTestTranslator(t, nameCount, nil).Translate([]byte(`{"data":["a",1],"old":["a"],"type":"delete"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, RowImage{"a", int64(1)}, events[0].Row)

		tr := newTestTranslator(t, nameCount, map[string]string{OptDeleteContainsOldField: "true"})
		events, err = tr.Translate([]byte(`{"data":["a",1,2],"old":["a",1],"type":"delete"}`))
		require.NoError(t, err)
		assert.Equal(t, RowImage{"a", int64(1)}, events[0].Row)
	})

	t.Run("old missing", func(t *testing.T) {
		tr := newTestTranslator(t, nameCount, map[string]string{OptDeleteContainsOldField: "true"})
		_, err := tr.Translate([]byte(`{"data":["a",1],"type":"delete"}`))
		assert.ErrorIs(t, err, ErrCorruptMessage)
	})
}

func TestTranslateUnrecognizedType(t *testing.T) {
	msg := []byte(`{"type":"rename","database":"d","table":"t"}`)

	_, err := newTestTranslator(t, nameCount, nil).Translate(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnrecognizedChangeType)

	var unrecognized *UnrecognizedChangeTypeError
	require.True(t, errors.As(err, &unrecognized))
	assert.Equal(t, "rename", unrecognized.Type)

	var dropped []DropReason
	tr := newTestTranslator(t, nameCount, map[string]string{OptIgnoreParseErrors: "true"}).
		WithDropHandler(func(d Drop) {
			dropped = append(dropped, d.Reason)
			assert.ErrorIs(t, d.Err, ErrUnrecognizedChangeType)
			require.NotNil(t, d.Meta)
			assert.Equal(t, "t", d.Meta.Table)
		})
	events, err := tr.Translate(msg)
	assert.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, []DropReason{DropIgnored}, dropped)

	// images are not checked for a type that has none
	oversized := []byte(`{"type":"rename","database":"d","table":"t","data":["x",1,"extra"]}`)
	_, err = newTestTranslator(t, nameCount, nil).Translate(oversized)
	assert.ErrorIs(t, err, ErrUnrecognizedChangeType)

	events, err = tr.Translate(oversized)
	assert.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, []DropReason{DropIgnored, DropIgnored}, dropped)
}

func TestTranslateEmptyInput(t *testing.T) {
	for _, raw := range []map[string]string{nil, {OptIgnoreParseErrors: "true"}} {
		events, err := newTestTranslator(t, nameCount, raw).Translate(nil)
		assert.NoError(t, err)
		assert.Empty(t, events)

		events, err = newTestTranslator(t, nameCount, raw).Translate([]byte{})
		assert.NoError(t, err)
		assert.Empty(t, events)
	}
}

func TestTranslateCorrupt(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"data":`,
		"not an object":      `[1,2]`,
		"type not a string":  `{"type":5,"data":["a",1]}`,
		"bad int":            `{"type":"insert","data":["a","seven"]}`,
		"image is a number":  `{"type":"insert","data":3}`,
		"missing data":       `{"type":"insert"}`,
		"update without old": `{"type":"update","data":["a",1]}`,
	}

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestTranslator(t, nameCount, nil).Translate([]byte(msg))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorruptMessage)

			var corrupt *CorruptMessageError
			require.True(t, errors.As(err, &corrupt))
			assert.Equal(t, msg, string(corrupt.Message))

			events, err := newTestTranslator(t, nameCount, map[string]string{OptIgnoreParseErrors: "true"}).Translate([]byte(msg))
			assert.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestTranslateMalformedEnvelopeIsAlwaysFatal(t *testing.T) {
	cases := map[string]string{
		"data too short": `{"type":"insert","data":["a"]}`,
		"old too long":   `{"type":"update","data":["a",1],"old":[null,null,null]}`,
	}

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			for _, raw := range []map[string]string{nil, {OptIgnoreParseErrors: "true"}} {
				events, err := newTestTranslator(t, nameCount, raw).Translate([]byte(msg))
				assert.Empty(t, events)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedEnvelope)

				var malformed *MalformedEnvelopeError
				require.True(t, errors.As(err, &malformed))
				assert.Equal(t, msg, string(malformed.Message))
			}
		})
	}
}

func TestTranslateFilters(t *testing.T) {
	var dropped []DropReason
	tr := newTestTranslator(t, nameCount, map[string]string{
		OptDatabaseInclude: "shop",
		OptTableInclude:    "items",
	}).WithDropHandler(func(d Drop) {
		assert.NoError(t, d.Err)
		dropped = append(dropped, d.Reason)
	})

	events, err := tr.Translate([]byte(`{"database":"shop","table":"items","type":"insert","data":["a",1]}`))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	for _, msg := range []string{
		`{"database":"other","table":"items","type":"insert","data":["a",1]}`,
		`{"database":"shop","table":"other","type":"insert","data":["a",1]}`,
		`{"table":"items","type":"insert","data":["a",1]}`,
		// filtering happens before the type is looked at
		`{"database":"other","table":"items","type":"rename"}`,
		// and before row images are checked against the schema
		`{"database":"shop","table":"other","type":"insert","data":["x",1,"extra"]}`,
		`{"database":"other","table":"items","type":"update","data":["a",1],"old":[null]}`,
	} {
		events, err := tr.Translate([]byte(msg))
		assert.NoError(t, err, msg)
		assert.Empty(t, events, msg)
	}
	assert.Equal(t, []DropReason{
		DropFiltered, DropFiltered, DropFiltered, DropFiltered, DropFiltered, DropFiltered,
	}, dropped)

	lenient := newTestTranslator(t, nameCount, map[string]string{
		OptTableInclude:      "t",
		OptIgnoreParseErrors: "true",
	})
	events, err = lenient.Translate([]byte(`{"data":["x",1,"extra"],"type":"insert","database":"d","table":"other"}`))
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestTranslateDropCarriesPosition(t *testing.T) {
	var drops []Drop
	tr := newTestTranslator(t, nameCount, map[string]string{
		OptTableInclude:      "items",
		OptIgnoreParseErrors: "true",
	}).WithDropHandler(func(d Drop) {
		drops = append(drops, d)
	})

	for _, msg := range []string{
		`{"database":"shop","table":"audit","type":"insert","position":"mysql-bin.000002:40","data":["a",1]}`,
		`{"database":"shop","table":"items","type":"rename","position":"mysql-bin.000002:80","gtid":"3E11FA47-71CA-11E1-9E33-C80AA9429562:7"}`,
		`not json`,
	} {
		events, err := tr.Translate([]byte(msg))
		require.NoError(t, err)
		assert.Empty(t, events)
	}

	require.Len(t, drops, 3)
	assert.Equal(t, DropFiltered, drops[0].Reason)
	require.NotNil(t, drops[0].Meta)
	assert.Equal(t, "mysql-bin.000002:40", drops[0].Meta.Position)

	assert.Equal(t, DropIgnored, drops[1].Reason)
	require.NotNil(t, drops[1].Meta)
	assert.Equal(t, "mysql-bin.000002:80", drops[1].Meta.Position)
	assert.Equal(t, "3E11FA47-71CA-11E1-9E33-C80AA9429562:7", drops[1].Meta.GTID)

	assert.Equal(t, DropIgnored, drops[2].Reason)
	assert.Nil(t, drops[2].Meta)
	assert.ErrorIs(t, drops[2].Err, ErrCorruptMessage)
}

func TestTranslateIsIdempotent(t *testing.T) {
	tr := newTestTranslator(t, nameCount, nil)
	msg := []byte(`{"data":["a",2],"old":[null,1],"type":"update","database":"d","table":"t","primary_key_columns":["name"]}`)

	first, err := tr.Translate(msg)
	require.NoError(t, err)
	second, err := tr.Translate(msg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

type panickingDecoder struct{}

func (panickingDecoder) Decode([]byte) (*Envelope, error) { panic("boom") }
func (panickingDecoder) Arity() int                       { return 1 }

func TestTranslateRecoversPanic(t *testing.T) {
	_, err := NewTranslator(panickingDecoder{}, DefaultOptions()).Translate([]byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptMessage)
	assert.Contains(t, err.Error(), "boom")

	opts := DefaultOptions()
	opts.IgnoreParseErrors = true
	events, err := NewTranslator(panickingDecoder{}, opts).Translate([]byte(`{}`))
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestTranslateLogicalTypes(t *testing.T) {
	rowType := schema.MustRowType(
		schema.Column{Name: "flag", Type: schema.TypeBoolean},
		schema.Column{Name: "price", Type: schema.TypeDecimal},
		schema.Column{Name: "ratio", Type: schema.TypeFloat},
		schema.Column{Name: "day", Type: schema.TypeDate},
		schema.Column{Name: "at", Type: schema.TypeTimestamp},
		schema.Column{Name: "blob", Type: schema.TypeBytes},
		schema.Column{Name: "doc", Type: schema.TypeJSON},
	)
	tr := newTestTranslator(t, rowType, nil)

	events, err := tr.Translate([]byte(`{"type":"insert","data":{"flag":1,"price":"12.50","ratio":0.5,` +
		`"day":"2023-04-01","at":"2023-04-01 10:20:30.5","blob":"aGk=","doc":{"a":[1,2]}}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	row := events[0].Row
	assert.Equal(t, true, row[0])
	assert.Equal(t, "12.5", row[1].(decimal.Decimal).String())
	assert.Equal(t, 0.5, row[2])
	assert.Equal(t, "2023-04-01", row[3].(time.Time).Format("2006-01-02"))
	assert.Equal(t, "2023-04-01T10:20:30.5", row[4].(time.Time).Format("2006-01-02T15:04:05.999999999"))
	assert.Equal(t, []byte("hi"), row[5])
	assert.Equal(t, `{"a":[1,2]}`, row[6])

	unsigned, err := schema.ParseLogicalType("bigint(20) unsigned")
	require.NoError(t, err)
	tr = newTestTranslator(t, schema.MustRowType(schema.Column{Name: "id", Type: unsigned}), nil)

	events, err = tr.Translate([]byte(`{"type":"insert","data":{"id":18446744073709551615}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "18446744073709551615", events[0].Row[0].(decimal.Decimal).String())
}

func TestReconcile(t *testing.T) {
	after := RowImage{"a", int64(2), nil}
	old := RowImage{nil, int64(1), nil}

	before, err := Reconcile(after, old)
	require.NoError(t, err)
	assert.Equal(t, RowImage{"a", int64(1), nil}, before)

	// inputs are left alone
	assert.Equal(t, RowImage{"a", int64(2), nil}, after)
	assert.Equal(t, RowImage{nil, int64(1), nil}, old)

	before[0] = "z"
	assert.Equal(t, "a", after[0])

	_, err = Reconcile(after, RowImage{nil})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}
