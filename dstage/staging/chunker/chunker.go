// Package chunker groups a sample stream into size-bounded chunks and hands
// each sealed chunk to a Materializer.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/codec"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/stream"

	"github.com/rs/zerolog"
)

// Materializer persists a sealed chunk. The archiver implements it.
type Materializer interface {
	Materialize(ctx context.Context, chunk *types.Chunk) (*types.Archive, error)
}

type policy int

const (
	policyUnknown policy = iota
	policyFiles
	policyLabels
)

func (p policy) String() string {
	switch p {
	case policyFiles:
		return "files"
	case policyLabels:
		return "labels"
	default:
		return "unknown"
	}
}

// Builder accumulates samples into the current chunk. It is not safe for
// concurrent use.
type Builder struct {
	opts      options.ChunkOptions
	codec     codec.LabelCodec
	sink      Materializer
	sizeUtils *common.SizeUtils
	log       zerolog.Logger
	metrics   *common.Metrics

	started   bool
	policy    policy
	labelCap  int
	labelSize int64
	current   *types.Chunk
	next      int
	archives  []types.Archive
	samples   int
	start     time.Time
}

// NewBuilder creates a chunk builder for the staging directory in opts.Dir.
func NewBuilder(opts options.ChunkOptions, c codec.LabelCodec, sink Materializer, log zerolog.Logger, metrics *common.Metrics) *Builder {
	if opts.LabelSizing == "" {
		opts.LabelSizing = options.LabelSizingEstimate
	}
	return &Builder{
		opts:      opts,
		codec:     c,
		sink:      sink,
		sizeUtils: common.NewSizeUtils(),
		log:       log,
		metrics:   metrics,
	}
}

// Start creates the staging directory. It refuses to reuse an existing one.
func (b *Builder) Start() error {
	if b.started {
		return nil
	}
	if _, err := os.Stat(b.opts.Dir); err == nil {
		return common.StagingConflict(b.opts.Dir)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check staging directory: %w", err)
	}
	if err := os.MkdirAll(b.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	b.started = true
	b.start = time.Now()
	return nil
}

// EstimateSize returns the byte weight a sample adds to a chunk: the summed
// file sizes for file-bearing samples, the encoded size of [label] otherwise.
func (b *Builder) EstimateSize(sample types.Sample) (int64, error) {
	if !sample.IsLabelOnly() {
		return b.sizeUtils.SumFileSizes(sample.Files)
	}
	data, err := b.codec.Marshal([]any{sample.Label})
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Accept adds a sample, sealing the current chunk first when the sample
// would push it past the limit.
func (b *Builder) Accept(ctx context.Context, sample types.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}

	kind := policyFiles
	if sample.IsLabelOnly() {
		kind = policyLabels
	}
	if b.policy == policyUnknown {
		if err := b.choosePolicy(kind, sample); err != nil {
			return err
		}
	} else if kind != b.policy {
		return fmt.Errorf("sample %d is %s-only but the stream started as %s", b.samples, kind, b.policy)
	}

	var size int64
	if b.policy == policyLabels && b.opts.LabelSizing == options.LabelSizingEstimate {
		size = b.labelSize
		if b.current != nil && b.current.Len() >= b.labelCap {
			if err := b.seal(ctx); err != nil {
				return err
			}
		}
	} else {
		var err error
		size, err = b.EstimateSize(sample)
		if err != nil {
			return fmt.Errorf("failed to size sample %d: %w", b.samples, err)
		}
		if b.current != nil && b.current.Len() > 0 && b.current.ByteSize+size > b.opts.Limit {
			if err := b.seal(ctx); err != nil {
				return err
			}
		}
	}

	if b.current == nil {
		b.current = &types.Chunk{Index: b.next}
		if b.policy == policyFiles {
			b.current.FileSets = [][]string{}
		}
	}
	b.current.Labels = append(b.current.Labels, sample.Label)
	if b.policy == policyFiles {
		b.current.FileSets = append(b.current.FileSets, sample.Files)
	}
	b.current.ByteSize += size
	b.samples++
	b.metrics.IncSamples()
	return nil
}

func (b *Builder) choosePolicy(kind policy, first types.Sample) error {
	b.policy = kind
	if kind != policyLabels || b.opts.LabelSizing != options.LabelSizingEstimate {
		b.log.Debug().Str("policy", kind.String()).Str("sizing", string(b.opts.LabelSizing)).Msg("Chunk policy selected")
		return nil
	}

	size, err := b.EstimateSize(first)
	if err != nil {
		return fmt.Errorf("failed to size first label: %w", err)
	}
	b.labelSize = size
	b.labelCap = LabelCap(b.opts.Limit, size)
	b.log.Debug().
		Str("policy", kind.String()).
		Int64("label_bytes", size).
		Int("cap", b.labelCap).
		Msg("Chunk policy selected")
	return nil
}

// LabelCap is the fixed per-chunk sample count for label-only streams:
// ceil(limit / size), never below one.
func LabelCap(limit, size int64) int {
	if size <= 0 || limit <= 0 {
		return 1
	}
	n := (limit + size - 1) / size
	if n < 1 {
		n = 1
	}
	return int(n)
}

func (b *Builder) seal(ctx context.Context) error {
	chunk := b.current
	archive, err := b.sink.Materialize(ctx, chunk)
	if err != nil {
		return fmt.Errorf("failed to seal chunk %d: %w", chunk.Index, err)
	}
	b.archives = append(b.archives, *archive)
	b.current = nil
	b.next++
	b.metrics.IncChunksSealed()

	b.log.Info().
		Int("chunk", chunk.Index).
		Int("samples", chunk.Len()).
		Int64("bytes", chunk.ByteSize).
		Msg("Chunk sealed")
	return nil
}

// Finish seals the remaining chunk, however small. A stream that produced no
// samples seals nothing.
func (b *Builder) Finish(ctx context.Context) (*types.ChunkingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.current != nil && b.current.Len() > 0 {
		if err := b.seal(ctx); err != nil {
			return nil, err
		}
	}
	var elapsed time.Duration
	if b.started {
		elapsed = time.Since(b.start)
	}
	return &types.ChunkingResult{
		Archives:    append([]types.Archive(nil), b.archives...),
		SampleCount: b.samples,
		Duration:    elapsed,
	}, nil
}

// Run drains the stream through Accept and then Finish.
func (b *Builder) Run(ctx context.Context, s stream.SampleStream) (*types.ChunkingResult, error) {
	if err := b.Start(); err != nil {
		return nil, err
	}
	for {
		sample, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sample %d: %w", b.samples, err)
		}
		if err := b.Accept(ctx, sample); err != nil {
			return nil, err
		}
	}
	return b.Finish(ctx)
}
