package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vegaplus/internal/pushdown"
	"github.com/roach88/vegaplus/internal/querysql"
)

func TestLoad(t *testing.T) {
	cfg, err := Load("testdata/vegaplus.yaml")
	require.NoError(t, err)

	assert.Equal(t, "sqltransform", cfg.ExecutorKind)
	assert.Equal(t, []string{"legend"}, cfg.Exclude)
	assert.Equal(t, []string{"local", "warehouse"}, cfg.ConnectionNames())
	assert.Equal(t, []string{filepath.Join("testdata", "data", "flights.csv"), "/abs/cars.json"}, cfg.Connections["local"].Datasets)
	assert.Equal(t, querysql.Postgres, cfg.Connections["warehouse"].DialectOf())

	name, conn, err := cfg.Connection("")
	require.NoError(t, err)
	assert.Equal(t, "local", name)
	assert.Equal(t, ":memory:", conn.DSN)

	opts := cfg.RewriteOptions(nil)
	assert.Equal(t, "sqltransform", opts.ExecutorKind)
	assert.Equal(t, []string{"legend"}, opts.Exclude)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader("connections:\n  only:\n    dialect: sqlite\n    dsn: a.db\n"))
	require.NoError(t, err)
	assert.Equal(t, pushdown.DefaultExecutorKind, cfg.ExecutorKind)
	assert.Equal(t, "only", cfg.DefaultConnection)

	empty, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.Connections)
	_, _, err = empty.Connection("")
	assert.ErrorContains(t, err, "no connection named")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "executor: x\n", "field executor not found"},
		{"bad dialect", "connections:\n  a:\n    dialect: mysql\n    dsn: x\n", "connections.a: unknown SQL dialect"},
		{"missing dsn", "connections:\n  a:\n    dialect: sqlite\n", "connections.a: dsn is required"},
		{"undefined default", "default_connection: b\nconnections:\n  a:\n    dialect: sqlite\n    dsn: x\n", `default_connection "b" is not defined`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	name, conn, err := cfg.Connection("")
	require.NoError(t, err)
	assert.Equal(t, "default", name)
	assert.Equal(t, querysql.SQLite, conn.DialectOf())

	_, _, err = cfg.Connection("other")
	assert.ErrorContains(t, err, `connection "other" is not defined`)
}
