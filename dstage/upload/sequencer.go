// Package upload pushes staged archives to the platform one at a time,
// advancing the remote cursor after every file.
package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/ports"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/layout"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/rs/zerolog"
)

// Sequencer uploads archives in chunk-index order starting at the dataset's
// cursor. It never retries.
type Sequencer struct {
	platform  ports.Platform
	transport Transport
	opts      options.UploadOptions
	log       zerolog.Logger
	metrics   *common.Metrics

	// Progress, when set, is called after every uploaded archive.
	Progress func(types.ProgressInfo)
}

// NewSequencer creates an upload sequencer.
func NewSequencer(platform ports.Platform, transport Transport, opts options.UploadOptions, log zerolog.Logger, metrics *common.Metrics) *Sequencer {
	return &Sequencer{
		platform:  platform,
		transport: transport,
		opts:      opts,
		log:       log,
		metrics:   metrics,
	}
}

// ResumeUpload uploads every archive in dir past dataset.LastFileNumber. The
// cursor is persisted after each file, so a failed call can simply be
// repeated. dataset.LastFileNumber tracks the persisted value. Once every
// archive is uploaded the staging directory is removed unless KeepStaging is set.
func (s *Sequencer) ResumeUpload(ctx context.Context, dataset *types.DatasetRecord, dir string) error {
	start := time.Now()

	archives, err := layout.ListArchives(dir)
	if err != nil {
		return common.UploadFailure("list archives", dir, err)
	}
	if dataset.LastFileNumber > len(archives) {
		return common.UploadFailure("resume", dir,
			fmt.Errorf("cursor %d is past the %d staged archives", dataset.LastFileNumber, len(archives)))
	}

	s.log.Info().
		Str("dataset", dataset.Name).
		Int("archives", len(archives)).
		Int("cursor", dataset.LastFileNumber).
		Msg("Resuming upload")

	for i := dataset.LastFileNumber; i < len(archives); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.uploadOne(ctx, dataset, archives[i]); err != nil {
			s.metrics.IncUploadFailures()
			s.log.Error().Err(err).Str("archive", filepath.Base(archives[i].Path)).Int("cursor", dataset.LastFileNumber).Msg("Upload stopped")
			return err
		}
		dataset.LastFileNumber = i + 1
		s.metrics.IncUploaded()

		if s.Progress != nil {
			s.Progress(types.ProgressInfo{Phase: "uploading", Current: i + 1, Total: len(archives)})
		}
	}

	if !s.opts.KeepStaging {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove staging directory %s: %w", dir, err)
		}
	}

	s.metrics.ObservePhase("upload", time.Since(start).Seconds())
	s.log.Info().Str("dataset", dataset.Name).Int("archives", len(archives)).Msg("Upload complete")
	return nil
}

func (s *Sequencer) uploadOne(ctx context.Context, dataset *types.DatasetRecord, a types.Archive) error {
	name := filepath.Base(a.Path)

	dest, err := s.platform.GetPostURL(ctx, dataset.ID, a.Size, name)
	if err != nil {
		return common.UploadFailure("get upload destination", a.Path, err)
	}
	if err := s.transport.Upload(ctx, dest, a.Path); err != nil {
		return common.UploadFailure("upload", a.Path, err)
	}
	if err := s.platform.AdvanceCursor(ctx, dataset.ID, dataset.LastFileNumber+1); err != nil {
		return common.UploadFailure("advance cursor", a.Path, err)
	}
	return nil
}
