package dbosruntime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://localhost/dbos"}
	cfg.WithDefaults()
	assert.Equal(t, "default", cfg.QueueName)
	assert.Equal(t, "cutimage-pipeline", cfg.AppName)

	cfg = Config{QueueName: "batches", AppName: "worker"}
	cfg.WithDefaults()
	assert.Equal(t, "batches", cfg.QueueName)
	assert.Equal(t, "worker", cfg.AppName)
}

func TestNewRuntimeRequiresDatabase(t *testing.T) {
	_, err := NewRuntime(context.Background(), Config{QueueName: "batches"})
	assert.ErrorIs(t, err, ErrDatabaseRequired)
}
