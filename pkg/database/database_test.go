package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialector(t *testing.T) {
	d, err := Dialector("mysql", "user:pass@tcp(localhost:3306)/synapse")
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	d, err = Dialector("postgres", "host=localhost user=synapse dbname=synapse")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = Dialector("sqlite", "file.db")
	assert.Error(t, err)
}
