// Package stream provides the sample sources consumed by the chunk builder.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"
)

// SampleStream yields samples in order. Next returns io.EOF once exhausted.
type SampleStream interface {
	Next(ctx context.Context) (types.Sample, error)
}

// Slice streams an in-memory list of samples.
type Slice struct {
	samples []types.Sample
	pos     int
}

// NewSlice returns a stream over samples.
func NewSlice(samples ...types.Sample) *Slice {
	return &Slice{samples: samples}
}

func (s *Slice) Next(ctx context.Context) (types.Sample, error) {
	if err := ctx.Err(); err != nil {
		return types.Sample{}, err
	}
	if s.pos >= len(s.samples) {
		return types.Sample{}, io.EOF
	}
	sample := s.samples[s.pos]
	s.pos++
	return sample, nil
}

// Manifest reads JSON lines of the form {"label": ..., "files": [...]}.
// A line without "files" is a label-only sample. Relative file paths are
// resolved against the manifest's base directory.
type Manifest struct {
	scanner *bufio.Scanner
	closer  io.Closer
	baseDir string
	line    int
}

type manifestLine struct {
	Label json.RawMessage `json:"label"`
	Files *[]string       `json:"files"`
}

// NewManifest reads a manifest from r. baseDir may be empty.
func NewManifest(r io.Reader, baseDir string) *Manifest {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	m := &Manifest{scanner: sc, baseDir: baseDir}
	if c, ok := r.(io.Closer); ok {
		m.closer = c
	}
	return m
}

// OpenManifest opens a manifest file; relative paths resolve against its directory.
func OpenManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	return NewManifest(f, filepath.Dir(path)), nil
}

func (m *Manifest) Next(ctx context.Context) (types.Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.Sample{}, err
		}
		if !m.scanner.Scan() {
			if err := m.scanner.Err(); err != nil {
				return types.Sample{}, fmt.Errorf("manifest line %d: %w", m.line+1, err)
			}
			return types.Sample{}, io.EOF
		}
		m.line++

		raw := bytes.TrimSpace(m.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		return m.decode(raw)
	}
}

func (m *Manifest) decode(raw []byte) (types.Sample, error) {
	var ml manifestLine
	if err := json.Unmarshal(raw, &ml); err != nil {
		return types.Sample{}, fmt.Errorf("manifest line %d: %w", m.line, err)
	}
	if ml.Label == nil {
		return types.Sample{}, fmt.Errorf("manifest line %d: missing label", m.line)
	}

	var label any
	if err := json.Unmarshal(ml.Label, &label); err != nil {
		return types.Sample{}, fmt.Errorf("manifest line %d: %w", m.line, err)
	}

	sample := types.Sample{Label: label}
	if ml.Files != nil {
		files := make([]string, 0, len(*ml.Files))
		for _, f := range *ml.Files {
			if m.baseDir != "" && !filepath.IsAbs(f) {
				f = filepath.Join(m.baseDir, f)
			}
			files = append(files, f)
		}
		sample.Files = files
	}
	return sample, nil
}

// Close releases the underlying reader if it is closable.
func (m *Manifest) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}
