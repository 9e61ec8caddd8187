package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGTID = "3e11fa47-71ca-11e1-9e33-c80aa9429562:23"

func newStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := NewStore(path, logrus.New())
	require.NoError(t, err)
	return s
}

func TestParsePosition(t *testing.T) {
	assert := assert.New(t)

	pos, err := ParsePosition("mysql-bin.000003:1200")
	assert.NoError(err)
	assert.Equal(mysql.Position{Name: "mysql-bin.000003", Pos: 1200}, pos)

	pos, err = ParsePosition("dir:with:colons.000001:4")
	assert.NoError(err)
	assert.Equal("dir:with:colons.000001", pos.Name)

	for _, bad := range []string{"", "mysql-bin.000003", ":12", "mysql-bin.000003:", "mysql-bin.000003:x"} {
		_, err := ParsePosition(bad)
		assert.Error(err, bad)
	}
}

func TestStoreKeepsHighestPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position")
	s := newStore(t, path)
	assert.Equal(t, mysql.Position{}, s.Position())

	written, err := s.Save("mysql-bin.000003:1200", "")
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.Save("mysql-bin.000003:800", "")
	require.NoError(t, err)
	assert.False(t, written)

	written, err = s.Save("mysql-bin.000004:4", testGTID)
	require.NoError(t, err)
	assert.True(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql-bin.000004:4\n"+testGTID, string(data))

	reopened := newStore(t, path)
	assert.Equal(t, mysql.Position{Name: "mysql-bin.000004", Pos: 4}, reopened.Position())
	assert.Equal(t, testGTID, reopened.GTID())
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	s := newStore(t, filepath.Join(t.TempDir(), "position"))

	written, err := s.Save("", "")
	assert.NoError(t, err)
	assert.False(t, written)

	_, err = s.Save("garbage", "")
	assert.Error(t, err)

	_, err = s.Save("mysql-bin.000001:4", "not-a-gtid")
	assert.Error(t, err)
	assert.Equal(t, mysql.Position{}, s.Position())
}

func TestStoreReadsFileNameOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position")
	require.NoError(t, os.WriteFile(path, []byte("mysql-bin.000007"), 0644))

	s := newStore(t, path)
	assert.Equal(t, mysql.Position{Name: "mysql-bin.000007"}, s.Position())
}
