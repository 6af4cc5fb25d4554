package ports

import (
	"context"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"
)

// Platform is the remote dataset service. The upload cursor lives on the
// dataset record and is only moved through AdvanceCursor.
type Platform interface {
	CreateDataset(ctx context.Context, name string) (*types.DatasetRecord, error)
	// GetCurrentDataset returns nil, nil when no dataset has that name.
	GetCurrentDataset(ctx context.Context, name string) (*types.DatasetRecord, error)
	DeleteDataset(ctx context.Context, id string) error
	PatchDatasetList(ctx context.Context, id string, sampleCount int) error
	GetPostURL(ctx context.Context, id string, fileSize int64, fileName string) (*types.UploadDestination, error)
	// AdvanceCursor persists the number of archives uploaded so far.
	AdvanceCursor(ctx context.Context, id string, lastFileNumber int) error
}
