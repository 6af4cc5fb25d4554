// Package reader reads staged archives back as samples and verifies that a
// staging directory is internally consistent.
package reader

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/codec"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/layout"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/klauspost/compress/zip"
)

// Contents is one archive's labels and, per sample position, the in-archive
// paths of its files. Files is nil for label-only archives. Folders holds the
// sample folder names as they appear in the zip.
type Contents struct {
	Archive types.Archive
	Labels  []any
	Files   map[int][]string
	Folders []string
}

// ReadArchive reads labels and file listings straight from the zip.
func ReadArchive(c codec.LabelCodec, a types.Archive) (*Contents, error) {
	zr, err := zip.OpenReader(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", a.Path, err)
	}
	defer zr.Close()

	out := &Contents{Archive: a}
	folders := make(map[string]bool)
	var labelFile *zip.File
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, "/")
		parts := strings.Split(name, "/")

		switch {
		case len(parts) == 1 && layout.IsLabelFile(parts[0]) && !f.FileInfo().IsDir():
			labelFile = f
		case len(parts) >= 2 && layout.IsFilesFolder(parts[0]):
			if out.Files == nil {
				out.Files = make(map[int][]string)
			}
			idx, err := layout.TrailingIndex(parts[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.Path, err)
			}
			if !folders[parts[1]] {
				folders[parts[1]] = true
				out.Folders = append(out.Folders, parts[1])
			}
			if _, ok := out.Files[idx]; !ok {
				out.Files[idx] = []string{}
			}
			if len(parts) > 2 && !f.FileInfo().IsDir() {
				out.Files[idx] = append(out.Files[idx], name)
			}
		}
	}
	if labelFile == nil {
		return nil, fmt.Errorf("%s: no label file", a.Path)
	}

	rc, err := labelFile.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open labels in %s: %w", a.Path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels in %s: %w", a.Path, err)
	}
	if out.Labels, err = c.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%s: %w", a.Path, err)
	}

	for idx := range out.Files {
		sort.Strings(out.Files[idx])
	}
	sort.Strings(out.Folders)
	return out, nil
}

// Reader streams every sample in a staging directory in chunk order. File
// entries are in-archive paths prefixed with the archive path and "!/".
type Reader struct {
	codec    codec.LabelCodec
	archives []types.Archive
	current  *Contents
	next     int
	pos      int
}

// Open lists the archives in dir.
func Open(dir string, c codec.LabelCodec) (*Reader, error) {
	archives, err := layout.ListArchives(dir)
	if err != nil {
		return nil, err
	}
	return &Reader{codec: c, archives: archives}, nil
}

// Archives returns the archives the reader walks, in order.
func (r *Reader) Archives() []types.Archive {
	return r.archives
}

// Next returns the next sample or io.EOF.
func (r *Reader) Next(ctx context.Context) (types.Sample, error) {
	for r.current == nil || r.pos >= len(r.current.Labels) {
		if err := ctx.Err(); err != nil {
			return types.Sample{}, err
		}
		if r.next >= len(r.archives) {
			return types.Sample{}, io.EOF
		}
		contents, err := ReadArchive(r.codec, r.archives[r.next])
		if err != nil {
			return types.Sample{}, err
		}
		r.current = contents
		r.next++
		r.pos = 0
	}

	sample := types.Sample{Label: r.current.Labels[r.pos]}
	if r.current.Files != nil {
		files := make([]string, 0, len(r.current.Files[r.pos]))
		for _, f := range r.current.Files[r.pos] {
			files = append(files, r.current.Archive.Path+"!/"+path.Clean(f))
		}
		sample.Files = files
	}
	r.pos++
	return sample, nil
}
