package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	assert.NoError(t, client.Ping(context.Background()).Err())

	mr.Close()
	_, err = NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()}, quietLogger())
	assert.Error(t, err)
}

func TestDependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.Len(t, Dependencies(&DB{}, nil), 1, "postgres-only deployments check the database alone")

	deps := Dependencies(&DB{}, client)
	require.Len(t, deps, 2)
	assert.Equal(t, "database", deps[0].Name)
	assert.Equal(t, "redis", deps[1].Name)

	assert.NoError(t, deps[1].Check(context.Background()))
	mr.Close()
	assert.Error(t, deps[1].Check(context.Background()))
}

func TestCheckHealth(t *testing.T) {
	up := Dependency{Name: "database", Check: func(context.Context) error { return nil }}
	down := Dependency{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	tests := []struct {
		name    string
		deps    []Dependency
		healthy bool
		status  map[string]string
	}{
		{
			name:    "all up",
			deps:    []Dependency{up},
			healthy: true,
			status:  map[string]string{"status": "healthy", "database": "up"},
		},
		{
			name:    "one down",
			deps:    []Dependency{up, down},
			healthy: false,
			status:  map[string]string{"status": "unhealthy", "database": "up", "redis": "down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, healthy := CheckHealth(context.Background(), tt.deps, quietLogger())
			assert.Equal(t, tt.healthy, healthy)
			assert.Equal(t, tt.status, status)
		})
	}
}
