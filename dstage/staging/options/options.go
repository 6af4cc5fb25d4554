package options

import (
	internal "github.com/ZanzyTHEbar/dataset-stager/dstage"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/config"
)

// LabelSizing selects how label-only streams decide when to seal a chunk.
type LabelSizing string

const (
	// LabelSizingEstimate serializes the first sample once and derives a fixed
	// per-chunk sample cap of ceil(limit / size). Later chunks can overshoot
	// the limit if label sizes drift.
	LabelSizingEstimate LabelSizing = "estimate"
	// LabelSizingMeasured serializes every label and seals on measured bytes.
	LabelSizingMeasured LabelSizing = "measured"
)

// ChunkOptions configures the chunk builder
type ChunkOptions struct {
	Dir         string      // Dataset staging directory
	Limit       int64       // Seal threshold in bytes
	LabelSizing LabelSizing // Label-only accumulation policy
}

// ArchiveOptions configures chunk materialization
type ArchiveOptions struct {
	Dir              string // Dataset staging directory
	Workers          int    // Concurrent per-sample copy tasks
	CleanupOnFailure bool   // Remove the chunk directory when materialization fails
	Copy             CopyOptions
}

// RebalanceOptions configures the size rebalancer
type RebalanceOptions struct {
	Limit            int64 // Per-archive size threshold
	MinDatasetSize   int64 // Absolute minimum viable dataset size
	Workers          int   // Concurrent subfolder moves during a merge
	CleanupOnFailure bool  // Remove merge scratch space when a merge fails
}

// UploadOptions configures the upload sequencer
type UploadOptions struct {
	KeepStaging bool // Keep local archives after a complete upload
}

// CopyOptions configures how sample files are copied into a chunk. Preserved
// modification times end up in the archive's entry headers.
type CopyOptions struct {
	PreservePerms bool // Preserve file permissions
	PreserveTimes bool // Preserve modification times
}

// PipelineOptions groups everything the driver needs.
type PipelineOptions struct {
	Root         string
	ResetStaging bool
	Chunk        ChunkOptions
	Archive      ArchiveOptions
	Rebalance    RebalanceOptions
	Upload       UploadOptions
}

// DefaultChunkOptions returns chunk options with the package defaults.
func DefaultChunkOptions(dir string) ChunkOptions {
	return ChunkOptions{
		Dir:         dir,
		Limit:       internal.DefaultChunkLimit,
		LabelSizing: LabelSizingEstimate,
	}
}

// DefaultArchiveOptions returns archive options with the package defaults.
func DefaultArchiveOptions(dir string) ArchiveOptions {
	return ArchiveOptions{
		Dir:     dir,
		Workers: internal.DefaultCopyWorkers,
	}
}

// DefaultRebalanceOptions returns rebalance options with the package defaults.
func DefaultRebalanceOptions() RebalanceOptions {
	return RebalanceOptions{
		Limit:          internal.DefaultChunkLimit,
		MinDatasetSize: internal.DefaultMinDatasetSize,
		Workers:        internal.DefaultMoveWorkers,
	}
}

// FromConfig derives pipeline options from the loaded configuration. The
// per-dataset Dir fields are filled in by the driver.
func FromConfig(cfg *config.Config) PipelineOptions {
	return PipelineOptions{
		Root:         cfg.Staging.Root,
		ResetStaging: cfg.Staging.ResetStaging,
		Chunk: ChunkOptions{
			Limit:       cfg.Staging.ChunkLimit,
			LabelSizing: LabelSizing(cfg.Staging.LabelSizing),
		},
		Archive: ArchiveOptions{
			Workers:          cfg.Staging.CopyWorkers,
			CleanupOnFailure: cfg.Staging.CleanupOnFailure,
			Copy: CopyOptions{
				PreservePerms: cfg.Staging.PreservePerms,
				PreserveTimes: cfg.Staging.PreserveTimes,
			},
		},
		Rebalance: RebalanceOptions{
			Limit:            cfg.Staging.ChunkLimit,
			MinDatasetSize:   cfg.Staging.MinDatasetSize,
			Workers:          cfg.Staging.MoveWorkers,
			CleanupOnFailure: cfg.Staging.CleanupOnFailure,
		},
		Upload: UploadOptions{
			KeepStaging: cfg.Staging.KeepStaging,
		},
	}
}
