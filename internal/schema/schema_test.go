package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromMySQLType(t *testing.T) {
	assert := assert.New(t)

	for _, testCase := range []struct {
		ColumnType string
		Expect     LogicalType
	}{
		{"varchar(255)", TypeString},
		{"text", TypeString},
		{"enum('a','b')", TypeString},
		{"tinyint(1)", TypeBoolean},
		{"tinyint(4)", TypeInt},
		{"tinyint(3) unsigned", TypeInt},
		{"bigint(20) unsigned", TypeDecimal},
		{"BIGINT UNSIGNED", TypeDecimal},
		{"bigint(20)", TypeInt},
		{"int", TypeInt},
		{"double", TypeFloat},
		{"decimal(10,2)", TypeDecimal},
		{"date", TypeDate},
		{"time(3)", TypeTime},
		{"datetime(6)", TypeTimestamp},
		{"timestamp", TypeTimestamp},
		{"json", TypeJSON},
		{"varbinary(16)", TypeBytes},
		{"LONGBLOB", TypeBytes},
	} {
		assert.Equal(testCase.Expect, FromMySQLType(testCase.ColumnType), testCase.ColumnType)
	}
}

func TestParseLogicalType(t *testing.T) {
	assert := assert.New(t)

	{
		typ, err := ParseLogicalType("timestamp")
		assert.NoError(err)
		assert.Equal(TypeTimestamp, typ)
	}
	{
		typ, err := ParseLogicalType("DECIMAL")
		assert.NoError(err)
		assert.Equal(TypeDecimal, typ)
	}
	{
		typ, err := ParseLogicalType("tinyint(1)")
		assert.NoError(err)
		assert.Equal(TypeBoolean, typ)
	}
	{
		_, err := ParseLogicalType("  ")
		assert.Error(err)
	}
}

func TestRowType(t *testing.T) {
	assert := assert.New(t)

	{
		_, err := NewRowType()
		assert.Error(err)
	}
	{
		_, err := NewRowType(Column{Name: "id"}, Column{Name: "id"})
		assert.Error(err)
	}
	{
		_, err := NewRowType(Column{Name: ""})
		assert.Error(err)
	}

	rt := MustRowType(
		Column{Name: "id", Type: TypeInt},
		Column{Name: "name", Type: TypeString},
	)
	assert.Equal(2, rt.Arity())
	assert.Equal(1, rt.Index("name"))
	assert.Equal(-1, rt.Index("missing"))
	assert.Equal([]string{"id", "name"}, rt.Names())
	assert.Equal("ROW<id INT, name STRING>", rt.String())

	assert.Panics(func() { MustRowType() })
}

func TestMySQLConfigDSN(t *testing.T) {
	assert := assert.New(t)

	dsn := MySQLConfig{
		Host:     "db.local",
		Port:     3306,
		User:     "maxwell",
		Password: "secret",
	}.DSN()
	assert.Contains(dsn, "maxwell:secret@tcp(db.local:3306)/")
}
