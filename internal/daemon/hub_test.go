package daemon_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"pibrain/internal/config"
	"pibrain/internal/daemon"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Hub.SessionsDir = filepath.Join(dir, "sessions")
	cfg.Hub.DatabaseDir = filepath.Join(dir, "data")
	cfg.Daemon.EmbeddingProvider = config.EmbeddingMock
	cfg.Daemon.EmbeddingDimensions = 8
	cfg.Daemon.AnalyzerCommand = "/bin/true"
	cfg.Daemon.ParallelWorkers = 1
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeSession(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "session.jsonl")
	lines := []string{
		`{"id":"h1","kind":"header","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"m1","parent_id":"h1","kind":"message","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"m2","parent_id":"m1","kind":"message","timestamp":"2026-01-01T00:02:00Z"}`,
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHubStartShutdownLifecycle(t *testing.T) {
	cfg := testConfig(t)

	h, err := daemon.New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, h.Start(ctx))

	_, err = os.Stat(filepath.Join(cfg.Hub.DatabaseDir, "pibraind.pid"))
	require.NoError(t, err)

	st, err := h.Status()
	require.NoError(t, err)
	require.NotNil(t, st.LastJobRuns)

	require.NoError(t, h.Shutdown(ctx))

	_, err = os.Stat(filepath.Join(cfg.Hub.DatabaseDir, "pibraind.pid"))
	require.True(t, os.IsNotExist(err))
}

func TestHubStartFailsWhenPIDFileHeldByLiveProcess(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Hub.DatabaseDir, 0o755))

	pidPath := filepath.Join(cfg.Hub.DatabaseDir, "pibraind.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte("1\n"), 0o644))
	// pid 1 (init) is always alive on a running system.

	h, err := daemon.New(cfg)
	require.NoError(t, err)

	err = h.Start(context.Background())
	require.ErrorIs(t, err, daemon.ErrAlreadyRunning)
}

func TestHubForceEnqueueDetectsSegmentAndEnqueues(t *testing.T) {
	cfg := testConfig(t)
	h, err := daemon.New(cfg)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	defer h.Shutdown(context.Background())

	sessionPath := writeSession(t, filepath.Join(t.TempDir(), "sessions"))

	jobID, err := h.ForceEnqueue(sessionPath)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
}

func TestHubRebuildIndexAndExport(t *testing.T) {
	cfg := testConfig(t)
	h, err := daemon.New(cfg)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	defer h.Shutdown(context.Background())

	report, err := h.RebuildIndex()
	require.NoError(t, err)
	require.Equal(t, 0, report.NodesIndexed)

	var buf bytes.Buffer
	require.NoError(t, h.Export(&buf, daemon.ExportOptions{}))
	require.Equal(t, "[]\n", buf.String())
}
