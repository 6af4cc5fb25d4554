// Package rebalance merges undersized archives until at most one archive in a
// dataset directory is below the size threshold.
package rebalance

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/codec"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/fileops"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/layout"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Rebalancer merges archives in place. It owns the dataset directory for the
// duration of a call.
type Rebalancer struct {
	opts      options.RebalanceOptions
	codec     codec.LabelCodec
	batchOps  fileops.BatchOperations
	sizeUtils *common.SizeUtils
	log       zerolog.Logger
	metrics   *common.Metrics
}

// Report summarises the archive set after a rebalance.
type Report struct {
	Archives   []types.Archive
	Below      int
	Merges     int
	TotalBytes int64
	MeanBytes  float64
	StdDev     float64
	Duration   time.Duration
}

// NewRebalancer creates a rebalancer.
func NewRebalancer(opts options.RebalanceOptions, c codec.LabelCodec, log zerolog.Logger, metrics *common.Metrics) *Rebalancer {
	return &Rebalancer{
		opts:      opts,
		codec:     c,
		batchOps:  fileops.NewBatchOps(fileops.NewFileOps(log, metrics), opts.Workers),
		sizeUtils: common.NewSizeUtils(),
		log:       log,
		metrics:   metrics,
	}
}

// WithBatchOps replaces the pool that moves sample folders during a merge.
func (r *Rebalancer) WithBatchOps(b fileops.BatchOperations) *Rebalancer {
	r.batchOps = b
	return r
}

// Rebalance merges undersized archives in dir. It fails with a size violation
// before touching anything when the directory is smaller than the configured
// minimum. Cancellation is honoured between merges.
func (r *Rebalancer) Rebalance(ctx context.Context, dir string) (*Report, error) {
	start := time.Now()

	total, err := r.sizeUtils.DirSize(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to size %s: %w", dir, err)
	}
	if total < r.opts.MinDatasetSize {
		return nil, common.SizeViolation(dir, total, r.opts.MinDatasetSize)
	}

	archives, err := layout.ListArchives(dir)
	if err != nil {
		return nil, err
	}

	var meets, below []types.Archive
	for _, a := range archives {
		if a.Size >= r.opts.Limit {
			meets = append(meets, a)
		} else {
			below = append(below, a)
		}
	}
	r.log.Debug().Int("meets", len(meets)).Int("below", len(below)).Msg("Archives partitioned")

	merges := 0
	for len(below) > 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := below[len(below)-1]
		merged, err := r.Merge(ctx, dir, last, below[0])
		if err != nil {
			return nil, err
		}
		merges++

		below = below[:len(below)-1]
		below[0] = *merged
		if merged.Size >= r.opts.Limit {
			meets = append(meets, *merged)
			below = below[1:]
		}
	}

	for len(below) == 1 && len(meets) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		merged, err := r.Merge(ctx, dir, below[0], meets[0])
		if err != nil {
			return nil, err
		}
		merges++
		meets[0] = *merged
		below = below[:0]
	}

	report, err := r.report(dir)
	if err != nil {
		return nil, err
	}
	report.Merges = merges
	report.Duration = time.Since(start)

	r.metrics.SetArchivesBelow(report.Below)
	r.metrics.ObservePhase("rebalance", report.Duration.Seconds())

	if report.Below > 1 {
		return report, fmt.Errorf("rebalance left %d archives below %d bytes in %s", report.Below, r.opts.Limit, dir)
	}

	r.log.Info().
		Int("archives", len(report.Archives)).
		Int("below", report.Below).
		Int("merges", merges).
		Float64("mean_bytes", report.MeanBytes).
		Float64("stddev_bytes", report.StdDev).
		Msg("Rebalance complete")
	return report, nil
}

// report describes the current archive set in dir against the threshold.
func (r *Rebalancer) report(dir string) (*Report, error) {
	archives, err := layout.ListArchives(dir)
	if err != nil {
		return nil, err
	}

	rep := &Report{Archives: archives}
	sizes := make([]float64, len(archives))
	for i, a := range archives {
		sizes[i] = float64(a.Size)
		rep.TotalBytes += a.Size
		if a.Size < r.opts.Limit {
			rep.Below++
		}
	}
	switch len(sizes) {
	case 0:
	case 1:
		rep.MeanBytes = sizes[0]
	default:
		rep.MeanBytes, rep.StdDev = stat.MeanStdDev(sizes, nil)
	}
	return rep, nil
}
