package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/layout"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 3, exitCode(common.StagingConflict("/x")))
	assert.Equal(t, 4, exitCode(fmt.Errorf("rebalance: %w", common.SizeViolation("/x", 1, 2))))
	assert.Equal(t, 6, exitCode(common.UploadFailure("upload", "/x", errors.New("503"))))
	assert.Equal(t, 7, exitCode(common.NewError(common.ErrNotProcessed, "upload", "x", nil)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestConsoleInteractorProgress(t *testing.T) {
	var out bytes.Buffer
	ui := newConsoleInteractor(&out, zerolog.Nop())

	ui.StartSpinner("Chunking birds")
	ui.StopSpinner(true, "Chunked 10 samples")
	ui.Progress(types.ProgressInfo{Phase: "uploading", Current: 1, Total: 2})
	ui.Progress(types.ProgressInfo{Phase: "uploading", Current: 2, Total: 2})
	ui.Output("Uploaded birds")

	text := out.String()
	assert.Contains(t, text, "Chunking birds...")
	assert.Contains(t, text, "Chunked 10 samples (done)")
	assert.Contains(t, text, "Uploaded birds")
	assert.Nil(t, ui.bar)
}

// writeConfig stages a config file rooted in a temp directory.
func writeConfig(t *testing.T, extra string) (path, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "ProjectDatasets")
	require.NoError(t, os.MkdirAll(root, 0o755))
	path = filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("staging:\n  root: %s\n%slog:\n  level: debug\n  format: json\n", root, extra)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, root
}

func TestRunClean(t *testing.T) {
	cfg, root := writeConfig(t, "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Temp1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "birds", ".merge-abc"), 0o755))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"dstage", "--config", cfg, "clean"}, &stdout, &stderr)

	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "removed 2 temporary directories")
	assert.NoDirExists(t, filepath.Join(root, "Temp1"))
}

func TestRunReportsFailures(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"dstage", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "clean"}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "dstage failed")

	cfg, _ := writeConfig(t, "")
	stderr.Reset()
	code = run(context.Background(), []string{"dstage", "--config", cfg, "upload"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "name")
}

func TestRunDryRunProcess(t *testing.T) {
	cfg, root := writeConfig(t, "  chunkLimit: 64\n  minDatasetSize: 1\n")
	manifest := filepath.Join(t.TempDir(), "birds.jsonl")
	require.NoError(t, os.WriteFile(manifest, []byte("{\"label\": \"sparrow\"}\n{\"label\": \"crow\"}\n"), 0o644))
	metricsFile := filepath.Join(t.TempDir(), "dstage.prom")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"dstage", "--config", cfg, "--dry-run", "--metrics-file", metricsFile,
		"process", "--name", "birds", "--manifest", manifest,
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	archives, err := layout.ListArchives(filepath.Join(root, "birds"))
	require.NoError(t, err)
	assert.NotEmpty(t, archives)
	assert.FileExists(t, metricsFile)
}
