// Package archiver turns sealed chunks into zip archives on disk.
package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/codec"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/fileops"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/layout"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/ziputil"

	"github.com/rs/zerolog"
)

// Archiver materializes chunks under a dataset staging directory.
type Archiver struct {
	opts      options.ArchiveOptions
	codec     codec.LabelCodec
	fileOps   *fileops.FileOps
	batchOps  fileops.BatchOperations
	pathUtils *common.PathUtils
	log       zerolog.Logger
	metrics   *common.Metrics
}

// NewArchiver creates an archiver writing into opts.Dir.
func NewArchiver(opts options.ArchiveOptions, c codec.LabelCodec, log zerolog.Logger, metrics *common.Metrics) *Archiver {
	fo := fileops.NewFileOps(log, metrics)
	return &Archiver{
		opts:      opts,
		codec:     c,
		fileOps:   fo,
		batchOps:  fileops.NewBatchOps(fo, opts.Workers),
		pathUtils: common.NewPathUtils(),
		log:       log,
		metrics:   metrics,
	}
}

// WithBatchOps replaces the pool that copies sample files into a chunk.
func (a *Archiver) WithBatchOps(b fileops.BatchOperations) *Archiver {
	a.batchOps = b
	return a
}

// Materialize writes the chunk's label file and per-sample folders, zips the
// chunk directory into dataset-<n>-<count>-zip.zip and removes the directory.
//
// The copy pool is not cancellable; ctx is only checked before work starts.
// On failure the chunk directory is left in place unless CleanupOnFailure is set.
func (a *Archiver) Materialize(ctx context.Context, chunk *types.Chunk) (*types.Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunkDir := filepath.Join(a.opts.Dir, layout.ChunkDirName(chunk.Index))
	archivePath := filepath.Join(a.opts.Dir, layout.ArchiveName(chunk.Index, chunk.Len()))

	for _, p := range []string{chunkDir, archivePath} {
		exists, err := a.pathUtils.Exists(p)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, common.StagingConflict(p)
		}
	}

	archive, err := a.materialize(context.WithoutCancel(ctx), chunk, chunkDir, archivePath)
	if err != nil {
		if a.opts.CleanupOnFailure {
			if rmErr := os.RemoveAll(chunkDir); rmErr != nil {
				a.log.Warn().Err(rmErr).Str("dir", chunkDir).Msg("Failed to clean up chunk directory")
			}
			os.Remove(archivePath)
		}
		return nil, err
	}

	a.log.Debug().
		Int("chunk", chunk.Index).
		Int("samples", chunk.Len()).
		Int64("bytes", archive.Size).
		Str("archive", archive.Path).
		Msg("Chunk archived")
	return archive, nil
}

func (a *Archiver) materialize(ctx context.Context, chunk *types.Chunk, chunkDir, archivePath string) (*types.Archive, error) {
	if err := a.fileOps.CreateDirectory(ctx, chunkDir, 0o755); err != nil {
		return nil, common.CopyFailure("create chunk directory", chunkDir, err)
	}

	labelPath := filepath.Join(chunkDir, layout.LabelFileName(chunk.Index))
	if err := WriteLabels(a.codec, labelPath, chunk.Labels); err != nil {
		return nil, common.CopyFailure("write labels", labelPath, err)
	}

	if chunk.HasFiles() {
		filesDir := filepath.Join(chunkDir, layout.FilesFolderName(chunk.Index))
		ops := make([]types.CopyOperation, len(chunk.FileSets))
		for i, files := range chunk.FileSets {
			ops[i] = types.CopyOperation{
				SourcePaths: files,
				TargetDir:   filepath.Join(filesDir, layout.SampleDirName(i)),
			}
		}
		if _, err := a.batchOps.CopyBatch(ctx, ops, a.opts.Copy); err != nil {
			return nil, err
		}
	}

	if err := ziputil.Pack(chunkDir, archivePath); err != nil {
		return nil, common.CopyFailure("zip chunk", chunkDir, err)
	}
	if err := a.fileOps.DeleteDirectory(ctx, chunkDir, true); err != nil {
		return nil, common.CopyFailure("remove chunk directory", chunkDir, err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	return &types.Archive{
		Index:       chunk.Index,
		SampleCount: chunk.Len(),
		Path:        archivePath,
		Size:        info.Size(),
	}, nil
}

// WriteLabels encodes labels with c and writes them to path.
func WriteLabels(c codec.LabelCodec, path string, labels []any) error {
	data, err := c.Marshal(labels)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadLabels decodes the label file at path.
func ReadLabels(c codec.LabelCodec, path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Unmarshal(data)
}
