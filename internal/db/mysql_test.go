package db

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modtok/internal/config"
)

func TestDSN(t *testing.T) {
	cfg := config.MySQLConfig{Host: "db", Port: "3306", User: "modtok", Password: "s3cret", DBName: "modtok"}

	parsed, err := mysql.ParseDSN(DSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "db:3306", parsed.Addr)
	assert.Equal(t, "modtok", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.True(t, parsed.MultiStatements)
	assert.NotContains(t, parsed.Params, "time_zone")

	cfg.TimeZone = "America/Santiago"
	parsed, err = mysql.ParseDSN(DSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "'America/Santiago'", parsed.Params["time_zone"])
}

func TestOpenMySQLRequiresDatabaseName(t *testing.T) {
	_, err := OpenMySQL(config.MySQLConfig{Host: "127.0.0.1", Port: "1"})
	assert.EqualError(t, err, "empty DB_NAME")
}
