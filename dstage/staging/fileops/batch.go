package fileops

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/sourcegraph/conc/pool"
)

// BatchOps runs file operations on a bounded worker pool. Tasks within one
// batch must touch disjoint paths; no locking is done between them.
type BatchOps struct {
	fileOps    *FileOps
	maxWorkers int
}

// NewBatchOps creates a new batch operations instance
func NewBatchOps(fileOps *FileOps, maxWorkers int) *BatchOps {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &BatchOps{
		fileOps:    fileOps,
		maxWorkers: maxWorkers,
	}
}

// CopyBatch creates each operation's target directory and copies its sources
// into it. It returns after every task has finished; any failure is reported
// as a CopyFailure carrying all task errors.
func (bo *BatchOps) CopyBatch(ctx context.Context, operations []types.CopyOperation, opts options.CopyOptions) (*types.OperationResult, error) {
	start := time.Now()
	result := &types.OperationResult{}

	var bytesCopied int64
	var failed int32
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(bo.maxWorkers).WithErrors()

	for i, op := range operations {
		p.Go(func() error {
			n, err := bo.copyOne(ctx, op, opts)
			atomic.AddInt64(&bytesCopied, n)
			if err != nil {
				atomic.AddInt32(&failed, 1)
				bo.fileOps.metrics.IncPoolTaskFailure("copy")
				bo.fileOps.log.Error().Err(err).Int("index", i).Str("dst", op.TargetDir).Msg("Batch copy operation failed")
				return fmt.Errorf("operation %d failed: %w", i, err)
			}

			mu.Lock()
			result.ProcessedDirs++
			result.ProcessedFiles += len(op.SourcePaths)
			mu.Unlock()
			return nil
		})
	}

	err := p.Wait()

	result.Duration = time.Since(start)
	result.BytesCopied = bytesCopied
	result.Success = err == nil

	bo.fileOps.log.Debug().
		Int("total", len(operations)).
		Int32("failed", failed).
		Int64("bytes", bytesCopied).
		Dur("duration", result.Duration).
		Msg("Batch copy operations completed")

	if err != nil {
		return result, common.CopyFailure("copy batch", "", err)
	}
	return result, nil
}

// MoveBatch renames each source to its target on the bounded pool.
func (bo *BatchOps) MoveBatch(ctx context.Context, operations []types.MoveOperation) (*types.OperationResult, error) {
	start := time.Now()
	result := &types.OperationResult{}

	var failed int32
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(bo.maxWorkers).WithErrors()

	for i, op := range operations {
		p.Go(func() error {
			if err := bo.fileOps.MoveDirectory(ctx, op.SourcePath, op.TargetPath); err != nil {
				atomic.AddInt32(&failed, 1)
				bo.fileOps.metrics.IncPoolTaskFailure("move")
				bo.fileOps.log.Error().Err(err).Int("index", i).Str("src", op.SourcePath).Str("dst", op.TargetPath).Msg("Batch move operation failed")
				return fmt.Errorf("operation %d failed: %w", i, err)
			}

			mu.Lock()
			result.ProcessedDirs++
			mu.Unlock()
			return nil
		})
	}

	err := p.Wait()

	result.Duration = time.Since(start)
	result.Success = err == nil

	bo.fileOps.log.Debug().
		Int("total", len(operations)).
		Int32("failed", failed).
		Dur("duration", result.Duration).
		Msg("Batch move operations completed")

	if err != nil {
		return result, common.CopyFailure("move batch", "", err)
	}
	return result, nil
}

func (bo *BatchOps) copyOne(ctx context.Context, op types.CopyOperation, opts options.CopyOptions) (int64, error) {
	if err := bo.fileOps.CreateDirectory(ctx, op.TargetDir, 0o755); err != nil {
		return 0, err
	}

	seen := make(map[string]string, len(op.SourcePaths))
	var total int64
	for _, src := range op.SourcePaths {
		name := filepath.Base(src)
		if prev, dup := seen[name]; dup {
			return total, fmt.Errorf("%s and %s share the name %q in %s", prev, src, name, op.TargetDir)
		}
		seen[name] = src

		n, err := bo.fileOps.CopyFile(ctx, src, filepath.Join(op.TargetDir, name), opts)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
