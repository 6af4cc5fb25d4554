package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/codec"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/layout"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ArchiverTestSuite struct {
	suite.Suite
	srcDir   string
	stageDir string
	archiver *Archiver
}

func (s *ArchiverTestSuite) SetupTest() {
	root := s.T().TempDir()
	s.srcDir = filepath.Join(root, "src")
	s.stageDir = filepath.Join(root, "ProjectDatasets", "birds")
	s.Require().NoError(os.MkdirAll(s.stageDir, 0o755))
	s.archiver = NewArchiver(options.DefaultArchiveOptions(s.stageDir), codec.NewMsgpack(), zerolog.Nop(), nil)
}

func (s *ArchiverTestSuite) source(name string, size int) string {
	path := filepath.Join(s.srcDir, name)
	s.Require().NoError(os.MkdirAll(filepath.Dir(path), 0o755))
	s.Require().NoError(os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func zipEntries(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func (s *ArchiverTestSuite) TestMaterializeFileChunk() {
	chunk := &types.Chunk{
		Index:  2,
		Labels: []any{"sparrow", "crow", "empty"},
		FileSets: [][]string{
			{s.source("a/0.png", 10), s.source("a/0.json", 3)},
			{s.source("b/1.png", 12)},
			{},
		},
	}

	archive, err := s.archiver.Materialize(context.Background(), chunk)
	s.Require().NoError(err)

	s.Equal(2, archive.Index)
	s.Equal(3, archive.SampleCount)
	s.Equal(filepath.Join(s.stageDir, "dataset-2-3-zip.zip"), archive.Path)
	s.Positive(archive.Size)
	s.NoDirExists(filepath.Join(s.stageDir, "dataset-chunk-2"))

	s.Equal([]string{
		"dataset-files-folder-2/",
		"dataset-files-folder-2/files-0/",
		"dataset-files-folder-2/files-0/0.json",
		"dataset-files-folder-2/files-0/0.png",
		"dataset-files-folder-2/files-1/",
		"dataset-files-folder-2/files-1/1.png",
		"dataset-files-folder-2/files-2/",
		"dataset-labels-2.pt",
	}, zipEntries(s.T(), archive.Path))
}

func (s *ArchiverTestSuite) TestMaterializeLabelOnlyChunk() {
	chunk := &types.Chunk{Index: 0, Labels: []any{"a", "b"}}

	archive, err := s.archiver.Materialize(context.Background(), chunk)
	s.Require().NoError(err)
	s.Equal([]string{"dataset-labels-0.pt"}, zipEntries(s.T(), archive.Path))
}

func (s *ArchiverTestSuite) TestLabelsRoundTripThroughLabelFile() {
	path := filepath.Join(s.stageDir, "dataset-labels-9.pt")
	c := codec.NewMsgpack()
	s.Require().NoError(WriteLabels(c, path, []any{"x", "y"}))

	labels, err := ReadLabels(c, path)
	s.Require().NoError(err)
	s.Equal([]any{"x", "y"}, labels)
}

func (s *ArchiverTestSuite) TestExistingChunkDirIsStagingConflict() {
	s.Require().NoError(os.MkdirAll(filepath.Join(s.stageDir, "dataset-chunk-0"), 0o755))

	_, err := s.archiver.Materialize(context.Background(), &types.Chunk{Index: 0, Labels: []any{"a"}})
	s.ErrorIs(err, common.ErrStagingConflict)
}

func (s *ArchiverTestSuite) TestCopyFailureLeavesPartialState() {
	chunk := &types.Chunk{
		Index:    1,
		Labels:   []any{"ok", "broken"},
		FileSets: [][]string{{s.source("ok.bin", 4)}, {filepath.Join(s.srcDir, "missing.bin")}},
	}

	_, err := s.archiver.Materialize(context.Background(), chunk)
	s.Require().Error(err)
	s.ErrorIs(err, common.ErrCopyFailure)

	s.FileExists(filepath.Join(s.stageDir, "dataset-chunk-1", "dataset-labels-1.pt"))
	s.FileExists(filepath.Join(s.stageDir, "dataset-chunk-1", "dataset-files-folder-1", "files-0", "ok.bin"))
	s.NoFileExists(filepath.Join(s.stageDir, "dataset-1-2-zip.zip"))
}

func (s *ArchiverTestSuite) TestCopyFailureWithCleanup() {
	opts := options.DefaultArchiveOptions(s.stageDir)
	opts.CleanupOnFailure = true
	a := NewArchiver(opts, codec.NewMsgpack(), zerolog.Nop(), nil)

	chunk := &types.Chunk{
		Index:    1,
		Labels:   []any{"broken"},
		FileSets: [][]string{{filepath.Join(s.srcDir, "missing.bin")}},
	}
	_, err := a.Materialize(context.Background(), chunk)
	s.ErrorIs(err, common.ErrCopyFailure)
	s.NoDirExists(filepath.Join(s.stageDir, "dataset-chunk-1"))
}

// danglingBatch reports success but leaves a broken link in every target,
// so the copy stage passes and zipping fails.
type danglingBatch struct{}

func (danglingBatch) CopyBatch(_ context.Context, ops []types.CopyOperation, _ options.CopyOptions) (*types.OperationResult, error) {
	for _, op := range ops {
		if err := os.MkdirAll(op.TargetDir, 0o755); err != nil {
			return nil, err
		}
		if err := os.Symlink(filepath.Join(op.TargetDir, "gone"), filepath.Join(op.TargetDir, "broken")); err != nil {
			return nil, err
		}
	}
	return &types.OperationResult{Success: true, ProcessedDirs: len(ops)}, nil
}

func (danglingBatch) MoveBatch(context.Context, []types.MoveOperation) (*types.OperationResult, error) {
	return nil, errors.New("unexpected move")
}

func (s *ArchiverTestSuite) TestZipFailureLeavesNoArchive() {
	a := NewArchiver(options.DefaultArchiveOptions(s.stageDir), codec.NewMsgpack(), zerolog.Nop(), nil).
		WithBatchOps(danglingBatch{})

	chunk := &types.Chunk{
		Index:    0,
		Labels:   []any{"sparrow"},
		FileSets: [][]string{{s.source("a.png", 4)}},
	}
	_, err := a.Materialize(context.Background(), chunk)
	s.Require().Error(err)
	s.ErrorIs(err, common.ErrCopyFailure)

	s.FileExists(filepath.Join(s.stageDir, "dataset-chunk-0", "dataset-labels-0.pt"))
	s.NoFileExists(filepath.Join(s.stageDir, "dataset-0-1-zip.zip"))
	archives, err := layout.ListArchives(s.stageDir)
	s.Require().NoError(err)
	s.Empty(archives)
}

func (s *ArchiverTestSuite) TestPreservedTimesReachTheArchive() {
	opts := options.DefaultArchiveOptions(s.stageDir)
	opts.Copy = options.CopyOptions{PreserveTimes: true}
	a := NewArchiver(opts, codec.NewMsgpack(), zerolog.Nop(), nil)

	src := s.source("old.png", 8)
	stamp := time.Date(2021, 3, 4, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(os.Chtimes(src, stamp, stamp))

	archive, err := a.Materialize(context.Background(), &types.Chunk{Index: 0, Labels: []any{"owl"}, FileSets: [][]string{{src}}})
	s.Require().NoError(err)

	zr, err := zip.OpenReader(archive.Path)
	s.Require().NoError(err)
	defer zr.Close()
	var found bool
	for _, f := range zr.File {
		if f.Name == "dataset-files-folder-0/files-0/old.png" {
			found = true
			s.WithinDuration(stamp, f.Modified, 2*time.Second)
		}
	}
	s.True(found)
}

func (s *ArchiverTestSuite) TestCancelledBeforeStart() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.archiver.Materialize(ctx, &types.Chunk{Labels: []any{"a"}})
	s.ErrorIs(err, context.Canceled)
	s.NoDirExists(filepath.Join(s.stageDir, "dataset-chunk-0"))
}

func TestArchiverTestSuite(t *testing.T) {
	suite.Run(t, new(ArchiverTestSuite))
}

func TestManySamplesUseBoundedPool(t *testing.T) {
	root := t.TempDir()
	stage := filepath.Join(root, "stage")
	require.NoError(t, os.MkdirAll(stage, 0o755))

	chunk := &types.Chunk{Index: 0}
	for i := 0; i < 100; i++ {
		src := filepath.Join(root, "src", fmt.Sprintf("%d", i), "f.bin")
		require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
		require.NoError(t, os.WriteFile(src, []byte{byte(i)}, 0o644))
		chunk.Labels = append(chunk.Labels, i)
		chunk.FileSets = append(chunk.FileSets, []string{src})
	}

	a := NewArchiver(options.ArchiveOptions{Dir: stage, Workers: 15}, codec.NewMsgpack(), zerolog.Nop(), nil)
	archive, err := a.Materialize(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, 100, archive.SampleCount)

	entries := zipEntries(t, archive.Path)
	assert.Contains(t, entries, "dataset-files-folder-0/files-99/f.bin")
}
