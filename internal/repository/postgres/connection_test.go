package postgres

import (
	"testing"
	"time"

	"github.com/cassiomorais/callbacks/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPoolConfig(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:             "db",
		Port:             5432,
		User:             "callbacks",
		Password:         "secret",
		Database:         "callbacks",
		SSLMode:          "disable",
		MaxConnections:   10,
		MinConnections:   2,
		ConnMaxLifetime:  time.Hour,
		StatementTimeout: 2500 * time.Millisecond,
	}

	pc, err := buildPoolConfig(cfg)
	require.NoError(t, err)

	assert.EqualValues(t, 10, pc.MaxConns)
	assert.EqualValues(t, 2, pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, "db", pc.ConnConfig.Host)
	assert.Equal(t, "callbacks", pc.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "2500", pc.ConnConfig.RuntimeParams["statement_timeout"])
}

func TestBuildPoolConfig_NoStatementTimeout(t *testing.T) {
	cfg := &config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}

	pc, err := buildPoolConfig(cfg)
	require.NoError(t, err)

	assert.NotContains(t, pc.ConnConfig.RuntimeParams, "statement_timeout")
	assert.Positive(t, pc.MaxConns, "pgx default is kept")
}
