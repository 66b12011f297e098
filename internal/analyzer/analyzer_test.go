package analyzer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pibrain/internal/analyzer"
	"pibrain/internal/domain"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func baseConfig(t *testing.T, script string) analyzer.Config {
	return analyzer.Config{
		Command:    "/bin/sh",
		Args:       []string{script},
		PromptFile: "/prompts/default.md",
		Provider:   "anthropic",
		Model:      "test-model",
		LogsDir:    t.TempDir(),
		Timeout:    2 * time.Second,
		BaseDelay:  5 * time.Millisecond,
		MaxRetries: 1,
	}
}

func testSegment() domain.Segment {
	return domain.Segment{SessionFile: "/sessions/a.jsonl", StartEntryID: "m1", EndEntryID: "m3", Computer: "laptop"}
}

func TestAnalyzeSucceedsAndFillsSegmentFields(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
echo '{"content":{"summary":"fixed a bug","outcome":"success"},"classification":{"task_type":"bugfix","project":"pibrain"}}'
`)
	a := analyzer.New(baseConfig(t, script))
	seg := testSegment()

	node, class, err := a.Analyze(context.Background(), "job-1", seg)
	require.NoError(t, err)
	require.Empty(t, class)
	require.Equal(t, "fixed a bug", node.Content.Summary)
	require.Equal(t, seg.SessionFile, node.SessionFile)
	require.Equal(t, seg.ID(), node.ID)
	require.Equal(t, "laptop", node.Computer)
}

func TestAnalyzeMalformedOutputIsUnknownAndRetried(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
echo 'not json'
`)
	cfg := baseConfig(t, script)
	cfg.MaxRetries = 2
	a := analyzer.New(cfg)

	node, class, err := a.Analyze(context.Background(), "job-2", testSegment())
	require.Error(t, err)
	require.Nil(t, node)
	require.Equal(t, domain.FailureUnknown, class)
}

func TestAnalyzePermanentInputExitsWithoutRetry(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
exit 2
`)
	cfg := baseConfig(t, script)
	cfg.MaxRetries = 3
	a := analyzer.New(cfg)

	node, class, err := a.Analyze(context.Background(), "job-3", testSegment())
	require.Error(t, err)
	require.Nil(t, node)
	require.Equal(t, domain.FailurePermanentInput, class)
}

func TestAnalyzeTimeoutIsRetryableTransient(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
sleep 2
echo '{}'
`)
	cfg := baseConfig(t, script)
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRetries = 0
	a := analyzer.New(cfg)

	node, class, err := a.Analyze(context.Background(), "job-4", testSegment())
	require.Error(t, err)
	require.Nil(t, node)
	require.Equal(t, domain.FailureRetryableTransient, class)
}

func TestAnalyzeWritesPerAttemptLog(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
echo '{"content":{"summary":"ok","outcome":"success"},"classification":{"task_type":"chore"}}'
`)
	cfg := baseConfig(t, script)
	a := analyzer.New(cfg)

	_, _, err := a.Analyze(context.Background(), "job-5", testSegment())
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.LogsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
