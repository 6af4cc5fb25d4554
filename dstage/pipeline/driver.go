// Package pipeline sequences chunking, rebalancing and uploading for named
// datasets and reports progress through an Interactor.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/codec"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/ports"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/archiver"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/chunker"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/layout"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/reader"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/rebalance"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/stream"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/upload"

	"github.com/rs/zerolog"
)

// Driver owns the staging root for the duration of each call. Calls for the
// same dataset must not overlap.
type Driver struct {
	opts      options.PipelineOptions
	platform  ports.Platform
	transport upload.Transport
	codec     codec.LabelCodec
	ui        ports.Interactor
	log       zerolog.Logger
	metrics   *common.Metrics
	pathUtils *common.PathUtils
	states    *stateTable
}

// ProcessResult describes a processed dataset ready for upload.
type ProcessResult struct {
	Dataset   *types.DatasetRecord
	Chunking  *types.ChunkingResult
	Rebalance *rebalance.Report
}

// NewDriver wires a driver. A nil codec selects the default; a nil
// interactor discards progress.
func NewDriver(opts options.PipelineOptions, platform ports.Platform, transport upload.Transport, c codec.LabelCodec, ui ports.Interactor, log zerolog.Logger, metrics *common.Metrics) *Driver {
	if c == nil {
		c = codec.Default()
	}
	if ui == nil {
		ui = ports.NopInteractor{}
	}
	return &Driver{
		opts:      opts,
		platform:  platform,
		transport: transport,
		codec:     c,
		ui:        ui,
		log:       log,
		metrics:   metrics,
		pathUtils: common.NewPathUtils(),
		states:    newStateTable(),
	}
}

// State reports where a dataset is in the pipeline.
func (d *Driver) State(name string) State {
	return d.states.get(name)
}

// Dir returns the staging directory of a dataset.
func (d *Driver) Dir(name string) string {
	return layout.DatasetDir(d.opts.Root, name)
}

// Process replaces any remote dataset called name with a fresh one, chunks the
// stream into archives, rebalances them and records the sample count.
func (d *Driver) Process(ctx context.Context, name string, s stream.SampleStream) (*ProcessResult, error) {
	log := d.log.With().Str("dataset", name).Logger()
	if err := d.states.move(name, StateChunking); err != nil {
		return nil, err
	}

	result, err := d.process(ctx, log, name, s)
	if err != nil {
		d.states.reset(name, StateEmpty)
		d.ui.StopSpinner(false, fmt.Sprintf("Processing %s failed", name))
		d.ui.Error(fmt.Sprintf("Processing %s failed", name), err)
		return nil, err
	}

	d.ui.Output(fmt.Sprintf("Processed %s: %d samples in %d archives", name, result.Chunking.SampleCount, len(result.Rebalance.Archives)))
	return result, nil
}

func (d *Driver) process(ctx context.Context, log zerolog.Logger, name string, s stream.SampleStream) (*ProcessResult, error) {
	existing, err := d.platform.GetCurrentDataset(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up dataset %s: %w", name, err)
	}
	if existing != nil {
		log.Info().Str("id", existing.ID).Msg("Replacing existing remote dataset")
		if err := d.platform.DeleteDataset(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("failed to delete dataset %s: %w", existing.ID, err)
		}
	}
	record, err := d.platform.CreateDataset(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset %s: %w", name, err)
	}

	dir := d.Dir(name)
	if err := d.prepareStaging(dir); err != nil {
		return nil, err
	}

	d.ui.StartSpinner(fmt.Sprintf("Chunking %s", name))
	start := time.Now()

	chunkOpts := d.opts.Chunk
	chunkOpts.Dir = dir
	archiveOpts := d.opts.Archive
	archiveOpts.Dir = dir

	sink := archiver.NewArchiver(archiveOpts, d.codec, log, d.metrics)
	builder := chunker.NewBuilder(chunkOpts, d.codec, sink, log, d.metrics)
	chunking, err := builder.Run(ctx, s)
	if err != nil {
		return nil, err
	}
	d.metrics.ObservePhase("chunk", time.Since(start).Seconds())
	d.ui.StopSpinner(true, fmt.Sprintf("Chunked %d samples into %d archives", chunking.SampleCount, len(chunking.Archives)))

	if err := d.states.move(name, StateRebalancing); err != nil {
		return nil, err
	}
	d.ui.StartSpinner(fmt.Sprintf("Rebalancing %s", name))
	report, err := rebalance.NewRebalancer(d.opts.Rebalance, d.codec, log, d.metrics).Rebalance(ctx, dir)
	if err != nil {
		return nil, err
	}
	d.ui.StopSpinner(true, fmt.Sprintf("Rebalanced into %d archives", len(report.Archives)))

	if err := d.platform.PatchDatasetList(ctx, record.ID, chunking.SampleCount); err != nil {
		return nil, fmt.Errorf("failed to record sample count for %s: %w", name, err)
	}
	record.SampleCount = chunking.SampleCount

	log.Info().
		Int("samples", chunking.SampleCount).
		Int("archives", len(report.Archives)).
		Int("merges", report.Merges).
		Msg("Dataset processed")

	return &ProcessResult{Dataset: record, Chunking: chunking, Rebalance: report}, nil
}

// prepareStaging clears a leftover staging directory when allowed to.
func (d *Driver) prepareStaging(dir string) error {
	exists, err := d.pathUtils.Exists(dir)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if !d.opts.ResetStaging {
		return common.StagingConflict(dir)
	}
	d.log.Warn().Str("dir", dir).Msg("Removing stale staging directory")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to reset staging directory: %w", err)
	}
	return nil
}

// Upload pushes a processed dataset, resuming from the remote cursor.
func (d *Driver) Upload(ctx context.Context, name string) error {
	record, err := d.platform.GetCurrentDataset(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up dataset %s: %w", name, err)
	}
	if record == nil {
		return common.NewError(common.ErrEmptyDataset, "upload", name, nil)
	}

	dir := d.Dir(name)
	if record.SampleCount == 0 {
		return common.NewError(common.ErrNotProcessed, "upload", name, fmt.Errorf("dataset has no samples"))
	}
	if empty, err := d.pathUtils.IsEmptyDir(dir); err != nil || empty {
		return common.NewError(common.ErrNotProcessed, "upload", dir, fmt.Errorf("no staged archives"))
	}

	if err := d.states.move(name, StateUploading); err != nil {
		return err
	}

	seq := upload.NewSequencer(d.platform, d.transport, d.opts.Upload, d.log.With().Str("dataset", name).Logger(), d.metrics)
	seq.Progress = d.ui.Progress

	d.ui.Output(fmt.Sprintf("Uploading %s from archive %d", name, record.LastFileNumber))
	if err := seq.ResumeUpload(ctx, record, dir); err != nil {
		d.ui.Error(fmt.Sprintf("Upload of %s stopped at archive %d", name, record.LastFileNumber), err)
		return err
	}

	if err := d.states.move(name, StateDone); err != nil {
		return err
	}
	d.ui.Output(fmt.Sprintf("Uploaded %s", name))
	return nil
}

// Run processes and then uploads a dataset.
func (d *Driver) Run(ctx context.Context, name string, s stream.SampleStream) error {
	if _, err := d.Process(ctx, name, s); err != nil {
		return err
	}
	return d.Upload(ctx, name)
}

// Verify checks the staged archives of a dataset against its remote sample count.
func (d *Driver) Verify(ctx context.Context, name string) (*reader.VerifyReport, error) {
	record, err := d.platform.GetCurrentDataset(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up dataset %s: %w", name, err)
	}
	if record == nil {
		return nil, common.NewError(common.ErrEmptyDataset, "verify", name, nil)
	}

	dir := d.Dir(name)
	if exists, err := d.pathUtils.Exists(dir); err != nil || !exists {
		return nil, common.NewError(common.ErrNotProcessed, "verify", dir, err)
	}

	report, err := reader.Verify(ctx, dir, d.codec, record.SampleCount)
	if err != nil {
		return nil, err
	}
	for _, p := range report.Problems {
		d.ui.Warning(p)
	}
	return report, nil
}

// CleanTemps removes leftover Temp* and merge scratch directories under root
// and returns how many were removed.
func (d *Driver) CleanTemps(root string) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(path string, e os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.IsDir() || path == root {
			return nil
		}
		name := e.Name()
		if !strings.HasPrefix(name, "Temp") && !strings.HasPrefix(name, rebalance.ScratchPrefix) {
			return nil
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		d.log.Debug().Str("dir", path).Msg("Removed temporary directory")
		removed++
		return filepath.SkipDir
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}
