package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockroom/backend/internal/alert"
	"stockroom/backend/internal/config"
	"stockroom/backend/internal/logger"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/store/jsonfile"
	"stockroom/backend/internal/store/memory"
	"stockroom/backend/internal/store/sqlite"
)

func TestOpenBackendSelectsImplementation(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		backend string
		check   func(store.Backend) bool
	}{
		{config.BackendMemory, func(b store.Backend) bool { _, ok := b.(*memory.Store); return ok }},
		{config.BackendJSONFile, func(b store.Backend) bool { _, ok := b.(*jsonfile.Store); return ok }},
		{config.BackendSQLite, func(b store.Backend) bool { _, ok := b.(*sqlite.Store); return ok }},
	}
	for _, tc := range cases {
		var closers Closers
		cfg := config.Config{DataBackend: tc.backend, DataDir: dir, SQLitePath: filepath.Join(dir, "test.db")}
		backend, err := OpenBackend(context.Background(), cfg, logger.Nop(), &closers)
		require.NoError(t, err, tc.backend)
		assert.True(t, tc.check(backend), "%s opened %T", tc.backend, backend)
		closers.Close(logger.Nop())
	}
}

func TestOpenBackendRejectsMisconfiguration(t *testing.T) {
	var closers Closers
	_, err := OpenBackend(context.Background(), config.Config{DataBackend: "mongo"}, logger.Nop(), &closers)
	require.Error(t, err)

	_, err = OpenBackend(context.Background(), config.Config{DataBackend: config.BackendPostgres}, logger.Nop(), &closers)
	require.Error(t, err)
	assert.Empty(t, closers)
}

func TestClosersRunInReverse(t *testing.T) {
	var order []int
	var closers Closers
	closers.Add(func() error { order = append(order, 1); return nil })
	closers.Add(func() error { order = append(order, 2); return nil })
	closers.Close(logger.Nop())
	assert.Equal(t, []int{2, 1}, order)
}

func TestAlerterAddsWebhookWhenConfigured(t *testing.T) {
	plain := Alerter(config.Config{}, logger.Nop(), nil)
	require.IsType(t, alert.Multi{}, plain)
	assert.Len(t, plain.(alert.Multi), 1)

	withHook := Alerter(config.Config{AlertWebhookURL: "http://127.0.0.1:9/hook", AlertRatePerMinute: 6}, logger.Nop(), nil)
	assert.Len(t, withHook.(alert.Multi), 2)
}

func TestRestockEngineFallsBackWithoutRedis(t *testing.T) {
	var closers Closers
	engine := RestockEngine(context.Background(), config.Config{RestockCacheTTLSeconds: 60}, logger.Nop(), &closers)
	require.NotNil(t, engine)
	assert.Empty(t, closers)
}
