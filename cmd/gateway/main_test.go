package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/infra/adapters"
	"github.com/coachpo/pricebridge/internal/infra/config"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	require.ElementsMatch(t, []string{"serve", "migrate", "adapters"}, names)

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	require.Equal(t, defaultConfigPath, flag.DefValue)

	migrate, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	require.Equal(t, "down", migrate.Name())
}

func TestAdaptersCommandPrintsMetadata(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"adapters"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	var metas []adapter.Metadata
	require.NoError(t, json.Unmarshal(out.Bytes(), &metas))
	require.Len(t, metas, len(adapters.NewRegistry().List()))
	ids := make([]string, 0, len(metas))
	for _, meta := range metas {
		ids = append(ids, meta.Identifier)
	}
	require.Contains(t, ids, "starkware")
	require.Contains(t, ids, "twosigma")
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	dir := t.TempDir()
	root := newRootCommand()
	root.SetArgs([]string{"migrate", "up", "--config", filepath.Join(dir, "missing.yaml"), "--env-file", ""})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "dsn required")
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	opts := &rootOptions{configPath: filepath.Join(dir, "absent.yaml")}
	cfg, _, err := loadConfig(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, config.CacheMemory, cfg.Cache.Backend)
	require.NotEmpty(t, cfg.Server.Addr)
}

func TestLoadConfigReadsFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("PRICEBRIDGE_TEST_MARKER=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PRICEBRIDGE_TEST_MARKER") })

	cfgPath := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
environment: dev
server:
  addr: ":9191"
adapters:
  coinpaprika:
    tier: free
`), 0o600))

	cfg, _, err := loadConfig(context.Background(), &rootOptions{configPath: cfgPath, envFiles: []string{envPath}})
	require.NoError(t, err)
	require.Equal(t, ":9191", cfg.Server.Addr)
	require.Equal(t, []string{"coinpaprika"}, cfg.AdapterNames())
	require.Equal(t, "loaded", os.Getenv("PRICEBRIDGE_TEST_MARKER"))
}

func TestPerformGracefulShutdownWaitsForLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var lifecycle conc.WaitGroup
	stopped := make(chan struct{})
	lifecycle.Go(func() {
		<-ctx.Done()
		close(stopped)
	})

	closed := false
	svc := &services{closers: []func(context.Context) error{
		func(context.Context) error {
			closed = true
			return errors.New("already closed")
		},
	}}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	performGracefulShutdown(shutdownCtx, zerolog.Nop(), time.Second, cancel, &lifecycle, svc)

	select {
	case <-stopped:
	default:
		t.Fatal("lifecycle goroutine still running")
	}
	require.True(t, closed)
}
