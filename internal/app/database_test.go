package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainlog/internal/config"
	"trainlog/internal/repository/sqlite"
)

func primaryConfig(t *testing.T) config.PrimaryConfig {
	dir := t.TempDir()
	return config.PrimaryConfig{
		MainPath:    filepath.Join(dir, "db", "main.db"),
		PathPath:    filepath.Join(dir, "db", "path.db"),
		MaxRetries:  3,
		RetryDelay:  time.Millisecond,
		BusyTimeout: time.Second,
	}
}

func TestPrimary_CloseClosesBothReaders(t *testing.T) {
	primary, err := OpenPrimary(primaryConfig(t))
	require.NoError(t, err)
	defer primary.Main.Writer.Close()
	defer primary.Path.Writer.Close()

	require.NoError(t, primary.Close())

	ctx := context.Background()
	assert.Error(t, primary.Main.Reader.PingContext(ctx))
	assert.Error(t, primary.Path.Reader.PingContext(ctx))
	assert.NoError(t, primary.Main.Writer.PingContext(ctx), "writers belong to the registry")
	assert.NoError(t, primary.Path.Writer.PingContext(ctx))
}

func TestNewRegistry_PrimaryOnly(t *testing.T) {
	cfg := primaryConfig(t)
	primary, err := OpenPrimary(cfg)
	require.NoError(t, err)
	defer primary.Close()

	reg, err := NewRegistry(cfg, primary, nil, zerolog.Nop())
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, []string{sqlite.MainStore, sqlite.PathStore}, reg.Names())
}
