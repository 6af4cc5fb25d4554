package fileops

import (
	"context"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"
)

// BatchOperations defines the interface for bounded concurrent batches.
// A batch returns only after every task has finished.
type BatchOperations interface {
	CopyBatch(ctx context.Context, operations []types.CopyOperation, opts options.CopyOptions) (*types.OperationResult, error)
	MoveBatch(ctx context.Context, operations []types.MoveOperation) (*types.OperationResult, error)
}

var _ BatchOperations = (*BatchOps)(nil)
