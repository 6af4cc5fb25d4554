package fileops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	writeFile(t, src, 100*1024)
	stamp := time.Date(2021, 3, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, stamp, stamp))

	metrics := common.NewMetrics(nil)
	fo := NewFileOps(zerolog.Nop(), metrics)

	dst := filepath.Join(dir, "nested", "dst.bin")
	n, err := fo.CopyFile(context.Background(), src, dst, options.CopyOptions{PreserveTimes: true})
	require.NoError(t, err)
	assert.Equal(t, int64(100*1024), n)
	assert.Equal(t, float64(100*1024), testutil.ToFloat64(metrics.BytesCopied))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(100*1024), info.Size())
	assert.True(t, info.ModTime().Equal(stamp))
}

func TestCopyFileHonoursCancelledContext(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	writeFile(t, src, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fo := NewFileOps(zerolog.Nop(), nil)
	_, err := fo.CopyFile(ctx, src, filepath.Join(dir, "dst.bin"), options.CopyOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMoveDirectoryRefusesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "files-0")
	dst := filepath.Join(dir, "files-1")
	writeFile(t, filepath.Join(src, "a.txt"), 3)
	require.NoError(t, os.MkdirAll(dst, 0o755))

	fo := NewFileOps(zerolog.Nop(), nil)
	err := fo.MoveDirectory(context.Background(), src, dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, os.Remove(dst))
	require.NoError(t, fo.MoveDirectory(context.Background(), src, dst))
	assert.FileExists(t, filepath.Join(dst, "a.txt"))
	assert.NoDirExists(t, src)
}

func TestDeleteDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "chunk")
	writeFile(t, filepath.Join(target, "x"), 1)

	fo := NewFileOps(zerolog.Nop(), nil)
	assert.Error(t, fo.DeleteDirectory(context.Background(), target, false))
	require.NoError(t, fo.DeleteDirectory(context.Background(), target, true))
	assert.NoDirExists(t, target)

	err := fo.DeleteDirectory(context.Background(), target, true)
	assert.Error(t, err)
}

func TestCopyBatch(t *testing.T) {
	dir := t.TempDir()
	var ops []types.CopyOperation
	for i := 0; i < 40; i++ {
		a := filepath.Join(dir, "src", fmt.Sprintf("s%d", i), "a.bin")
		b := filepath.Join(dir, "src", fmt.Sprintf("s%d", i), "b.bin")
		writeFile(t, a, 10)
		writeFile(t, b, 5)
		ops = append(ops, types.CopyOperation{
			SourcePaths: []string{a, b},
			TargetDir:   filepath.Join(dir, "dst", fmt.Sprintf("files-%d", i)),
		})
	}
	ops = append(ops, types.CopyOperation{TargetDir: filepath.Join(dir, "dst", "files-40")})

	bo := NewBatchOps(NewFileOps(zerolog.Nop(), nil), 15)
	result, err := bo.CopyBatch(context.Background(), ops, options.CopyOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 41, result.ProcessedDirs)
	assert.Equal(t, 80, result.ProcessedFiles)
	assert.Equal(t, int64(40*15), result.BytesCopied)

	assert.FileExists(t, filepath.Join(dir, "dst", "files-39", "b.bin"))
	assert.DirExists(t, filepath.Join(dir, "dst", "files-40"))
}

func TestCopyBatchFailureIsCopyFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.bin")
	writeFile(t, good, 4)

	ops := []types.CopyOperation{
		{SourcePaths: []string{good}, TargetDir: filepath.Join(dir, "dst", "files-0")},
		{SourcePaths: []string{filepath.Join(dir, "missing.bin")}, TargetDir: filepath.Join(dir, "dst", "files-1")},
	}

	metrics := common.NewMetrics(nil)
	bo := NewBatchOps(NewFileOps(zerolog.Nop(), metrics), 2)
	result, err := bo.CopyBatch(context.Background(), ops, options.CopyOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCopyFailure)
	assert.False(t, result.Success)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PoolTaskFailures.WithLabelValues("copy")))

	// partial output stays on disk for inspection
	assert.FileExists(t, filepath.Join(dir, "dst", "files-0", "good.bin"))
}

func TestCopyBatchRejectsDuplicateBaseNames(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "x", "img.png")
	b := filepath.Join(dir, "y", "img.png")
	writeFile(t, a, 1)
	writeFile(t, b, 1)

	bo := NewBatchOps(NewFileOps(zerolog.Nop(), nil), 1)
	_, err := bo.CopyBatch(context.Background(), []types.CopyOperation{
		{SourcePaths: []string{a, b}, TargetDir: filepath.Join(dir, "files-0")},
	}, options.CopyOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCopyFailure)
	assert.Contains(t, err.Error(), "share the name")
}

func TestMoveBatch(t *testing.T) {
	dir := t.TempDir()
	var ops []types.MoveOperation
	for i := 0; i < 20; i++ {
		src := filepath.Join(dir, "small", fmt.Sprintf("files-%d", i))
		writeFile(t, filepath.Join(src, "f.txt"), 1)
		ops = append(ops, types.MoveOperation{
			SourcePath: src,
			TargetPath: filepath.Join(dir, "large", fmt.Sprintf("files-%d", i+100)),
		})
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "large"), 0o755))

	bo := NewBatchOps(NewFileOps(zerolog.Nop(), nil), 15)
	result, err := bo.MoveBatch(context.Background(), ops)
	require.NoError(t, err)
	assert.Equal(t, 20, result.ProcessedDirs)

	for i := 0; i < 20; i++ {
		assert.FileExists(t, filepath.Join(dir, "large", fmt.Sprintf("files-%d", i+100), "f.txt"))
	}
}
