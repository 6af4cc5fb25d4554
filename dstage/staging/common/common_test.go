package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindsSurviveWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("materialize chunk 3: %w", CopyFailure("copy", "/tmp/a", cause))

	assert.ErrorIs(t, err, ErrCopyFailure)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrUploadFailure)
	assert.Equal(t, ErrCopyFailure, KindOf(err))

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "copy", typed.Op)
	assert.Equal(t, "/tmp/a", typed.Path)
	assert.Contains(t, err.Error(), "copy failure: copy /tmp/a: disk full")
}

func TestSizeViolationMessage(t *testing.T) {
	err := SizeViolation("/stage/ds", 10, 100)
	assert.ErrorIs(t, err, ErrSizeViolation)
	assert.Contains(t, err.Error(), "10 bytes < 100 bytes")
	assert.Nil(t, KindOf(errors.New("other")))
}

func TestStagingConflict(t *testing.T) {
	err := StagingConflict("/stage/ds")
	assert.ErrorIs(t, err, ErrStagingConflict)
	assert.Equal(t, "staging conflict: refusing to overwrite /stage/ds", err.Error())
}

func TestErrorUtilsWrap(t *testing.T) {
	eu := NewErrorUtils(zerolog.Nop())
	assert.Nil(t, eu.WrapError(nil, "noop"))

	base := errors.New("boom")
	err := eu.LogAndWrapError(base, zerolog.WarnLevel, "step %d", 2)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "step 2: boom", err.Error())
}

func TestValidatePath(t *testing.T) {
	pu := NewPathUtils()
	assert.ErrorIs(t, pu.ValidatePath(""), ErrPathEmpty)
	assert.ErrorIs(t, pu.ValidatePath("a\x00b"), ErrPathInvalid)
	assert.NoError(t, pu.ValidatePath("/tmp/ok"))
}

func TestDirSizeAndFileSizes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "nested", "b.bin")
	require.NoError(t, os.WriteFile(a, make([]byte, 30), 0o644))
	require.NoError(t, os.WriteFile(b, make([]byte, 12), 0o644))

	su := NewSizeUtils()
	total, err := su.DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(42), total)

	sum, err := su.SumFileSizes([]string{a, b})
	require.NoError(t, err)
	assert.Equal(t, int64(42), sum)

	_, err = su.FileSize(dir)
	assert.Error(t, err)

	pu := NewPathUtils()
	ok, err := pu.Exists(a)
	require.NoError(t, err)
	assert.True(t, ok)
	empty, err := pu.IsEmptyDir(dir)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.IncChunksSealed()
	m.IncChunksSealed()
	m.AddBytesCopied(128)
	m.SetArchivesBelow(1)
	m.IncPoolTaskFailure("copy")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ChunksSealed))
	assert.Equal(t, float64(128), testutil.ToFloat64(m.BytesCopied))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ArchivesBelow))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PoolTaskFailures.WithLabelValues("copy")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.IncMerges()
		nilMetrics.ObservePhase("chunking", 1)
	})
}
