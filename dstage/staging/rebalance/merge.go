package rebalance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/archiver"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/layout"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/ziputil"

	"github.com/google/uuid"
)

// ScratchPrefix names the temporary merge directories under a dataset dir.
const ScratchPrefix = ".merge-"

// unpacked is one archive extracted into scratch space.
type unpacked struct {
	dir         string
	labelFile   string
	filesFolder string
}

// Merge folds small into large and returns the resulting archive, named after
// large's chunk index with the combined sample count. Large's samples keep
// their positions; small's follow in their original order.
//
// Both originals are only removed once the merged archive has been written.
// The move pool is not cancellable.
func (r *Rebalancer) Merge(ctx context.Context, dir string, small, large types.Archive) (*types.Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scratch := filepath.Join(dir, ScratchPrefix+uuid.NewString())
	merged, err := r.merge(context.WithoutCancel(ctx), dir, scratch, small, large)
	if err != nil {
		if r.opts.CleanupOnFailure {
			if rmErr := os.RemoveAll(scratch); rmErr != nil {
				r.log.Warn().Err(rmErr).Str("dir", scratch).Msg("Failed to clean up merge scratch")
			}
		}
		return nil, err
	}

	if err := os.RemoveAll(scratch); err != nil {
		r.log.Warn().Err(err).Str("dir", scratch).Msg("Failed to remove merge scratch")
	}
	r.metrics.IncMerges()

	r.log.Debug().
		Str("small", filepath.Base(small.Path)).
		Str("large", filepath.Base(large.Path)).
		Str("archive", filepath.Base(merged.Path)).
		Int64("bytes", merged.Size).
		Msg("Archives merged")
	return merged, nil
}

func (r *Rebalancer) merge(ctx context.Context, dir, scratch string, small, large types.Archive) (*types.Archive, error) {
	smallSide, err := unpack(small, filepath.Join(scratch, "small"))
	if err != nil {
		return nil, err
	}
	largeSide, err := unpack(large, filepath.Join(scratch, "large"))
	if err != nil {
		return nil, err
	}

	largeLabels, err := archiver.ReadLabels(r.codec, largeSide.labelFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels of %s: %w", large.Path, err)
	}
	smallLabels, err := archiver.ReadLabels(r.codec, smallSide.labelFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels of %s: %w", small.Path, err)
	}
	labels := append(largeLabels, smallLabels...)

	if smallSide.filesFolder != "" {
		if err := r.moveSampleDirs(ctx, large, smallSide, largeSide); err != nil {
			return nil, err
		}
	}

	if err := archiver.WriteLabels(r.codec, largeSide.labelFile, labels); err != nil {
		return nil, common.CopyFailure("rewrite labels", largeSide.labelFile, err)
	}

	tmpZip := filepath.Join(scratch, "merged.zip")
	if err := ziputil.Pack(largeSide.dir, tmpZip); err != nil {
		return nil, common.CopyFailure("zip merged archive", largeSide.dir, err)
	}

	finalPath := filepath.Join(dir, layout.ArchiveName(large.Index, len(labels)))
	if err := os.Rename(tmpZip, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move merged archive into place: %w", err)
	}
	for _, p := range []string{small.Path, large.Path} {
		if p == finalPath {
			continue
		}
		if err := os.Remove(p); err != nil {
			return nil, fmt.Errorf("failed to remove merged archive %s: %w", p, err)
		}
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat merged archive: %w", err)
	}
	return &types.Archive{
		Index:       large.Index,
		SampleCount: len(labels),
		Path:        finalPath,
		Size:        info.Size(),
	}, nil
}

// moveSampleDirs renumbers small's files-<k> folders after large's highest
// suffix and moves them under large's files folder.
func (r *Rebalancer) moveSampleDirs(ctx context.Context, large types.Archive, smallSide, largeSide *unpacked) error {
	smallDirs, err := sampleDirs(smallSide.filesFolder)
	if err != nil {
		return err
	}

	offset := 0
	if largeSide.filesFolder == "" {
		largeSide.filesFolder = filepath.Join(largeSide.dir, layout.FilesFolderName(large.Index))
		if err := os.MkdirAll(largeSide.filesFolder, 0o755); err != nil {
			return common.CopyFailure("create files folder", largeSide.filesFolder, err)
		}
	} else {
		largeDirs, err := sampleDirs(largeSide.filesFolder)
		if err != nil {
			return err
		}
		if n := len(largeDirs); n > 0 {
			highest, err := layout.TrailingIndex(largeDirs[n-1])
			if err != nil {
				return err
			}
			offset = highest + 1
		}
	}

	ops := make([]types.MoveOperation, len(smallDirs))
	for pos, name := range smallDirs {
		ops[pos] = types.MoveOperation{
			SourcePath: filepath.Join(smallSide.filesFolder, name),
			TargetPath: filepath.Join(largeSide.filesFolder, layout.SampleDirName(offset+pos)),
		}
	}
	_, err = r.batchOps.MoveBatch(ctx, ops)
	return err
}

func unpack(a types.Archive, dst string) (*unpacked, error) {
	if err := ziputil.Unpack(a.Path, dst); err != nil {
		return nil, common.CopyFailure("unpack", a.Path, err)
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dst, err)
	}

	u := &unpacked{dir: dst}
	for _, e := range entries {
		switch {
		case !e.IsDir() && layout.IsLabelFile(e.Name()):
			u.labelFile = filepath.Join(dst, e.Name())
		case e.IsDir() && layout.IsFilesFolder(e.Name()):
			u.filesFolder = filepath.Join(dst, e.Name())
		}
	}
	if u.labelFile == "" {
		return nil, fmt.Errorf("archive %s has no label file", a.Path)
	}
	return u, nil
}

// sampleDirs lists the files-<idx> folders under dir in numeric order.
func sampleDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if err := layout.SortByTrailingIndex(names); err != nil {
		return nil, err
	}
	return names, nil
}
