package database

import (
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-auction/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.Config{DBUser: "app", DBPass: "p@ss", DBHost: "db", DBPort: "3307", DBName: "auctions"})
	mc, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "app", mc.User)
	assert.Equal(t, "p@ss", mc.Passwd)
	assert.Equal(t, "db:3307", mc.Addr)
	assert.Equal(t, "auctions", mc.DBName)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, time.UTC, mc.Loc)
}

func TestStatements(t *testing.T) {
	stmts := Statements()
	require.Len(t, stmts, 8)
	for _, s := range stmts {
		assert.True(t, strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS"), s)
		assert.NotContains(t, s, "--")
	}
	assert.Contains(t, strings.Join(stmts, "\n"), "UNIQUE KEY uq_bids_request (request_id)")
}
