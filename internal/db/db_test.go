package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_None(t *testing.T) {
	gdb, err := Connect("none", "")
	require.NoError(t, err)
	assert.Nil(t, gdb)
	assert.NoError(t, Close(gdb))
}

func TestConnect_SQLite(t *testing.T) {
	gdb, err := Connect("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NotNil(t, gdb)
	t.Cleanup(func() { _ = Close(gdb) })

	var one int
	require.NoError(t, gdb.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestConnect_Errors(t *testing.T) {
	_, err := Connect("postgres", "postgres://x")
	assert.Error(t, err)

	_, err = Connect("sqlite", "")
	assert.Error(t, err)
}
