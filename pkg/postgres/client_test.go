package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(&pq.Error{Code: "08006"}))
	assert.True(t, IsConnectionError(fmt.Errorf("scan: %w", &pq.Error{Code: "57P01"})))
	assert.False(t, IsConnectionError(&pq.Error{Code: "42P01"}))
	assert.True(t, IsConnectionError(driver.ErrBadConn))
	assert.True(t, IsConnectionError(sql.ErrConnDone))
	assert.False(t, IsConnectionError(errors.New("syntax error")))
}

func TestChecksum(t *testing.T) {
	a := Checksum("CREATE TABLE a (id TEXT)")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Checksum("CREATE TABLE a (id TEXT)"))
	assert.NotEqual(t, a, Checksum("CREATE TABLE a (id BIGINT)"))
}
