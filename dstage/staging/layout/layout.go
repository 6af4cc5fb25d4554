// Package layout owns the on-disk naming contract of a staged dataset.
//
//	<root>/<dataset>/dataset-chunk-<n>/dataset-labels-<n>.pt
//	<root>/<dataset>/dataset-chunk-<n>/dataset-files-folder-<n>/files-<idx>/...
//	<root>/<dataset>/dataset-<n>-<count>-zip.zip
//
// Other tooling reads these names, so they must not change.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"
)

const (
	ChunkDirPrefix    = "dataset-chunk-"
	LabelFilePrefix   = "dataset-labels-"
	LabelFileExt      = ".pt"
	FilesFolderPrefix = "dataset-files-folder-"
	SampleDirPrefix   = "files-"
	ArchiveExt        = ".zip"
)

var archiveNameRE = regexp.MustCompile(`^dataset-(\d+)-(\d+)-zip\.zip$`)

// DatasetDir returns the staging directory of a dataset.
func DatasetDir(root, dataset string) string {
	return filepath.Join(root, dataset)
}

func ChunkDirName(n int) string    { return fmt.Sprintf("%s%d", ChunkDirPrefix, n) }
func LabelFileName(n int) string   { return fmt.Sprintf("%s%d%s", LabelFilePrefix, n, LabelFileExt) }
func FilesFolderName(n int) string { return fmt.Sprintf("%s%d", FilesFolderPrefix, n) }
func SampleDirName(idx int) string { return fmt.Sprintf("%s%d", SampleDirPrefix, idx) }
func ArchiveName(n, count int) string {
	return fmt.Sprintf("dataset-%d-%d-zip%s", n, count, ArchiveExt)
}

// ParseArchiveName extracts the chunk index and sample count from an archive
// file name. ok is false for anything that is not an archive.
func ParseArchiveName(name string) (index, count int, ok bool) {
	m := archiveNameRE.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, 0, false
	}
	index, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	count, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return index, count, true
}

// IsLabelFile reports whether name is a chunk label-batch file.
func IsLabelFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, LabelFilePrefix) && strings.HasSuffix(base, LabelFileExt)
}

// IsFilesFolder reports whether name is a chunk's per-sample files folder.
func IsFilesFolder(name string) bool {
	return strings.HasPrefix(filepath.Base(name), FilesFolderPrefix)
}

// TrailingIndex parses the integer after the last '-' of a name, so
// "files-10" yields 10 and "dataset-files-folder-3" yields 3.
func TrailingIndex(name string) (int, error) {
	base := filepath.Base(name)
	i := strings.LastIndex(base, "-")
	if i < 0 || i == len(base)-1 {
		return 0, fmt.Errorf("no numeric suffix in %q", base)
	}
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0, fmt.Errorf("no numeric suffix in %q: %w", base, err)
	}
	return n, nil
}

// SortByTrailingIndex orders names numerically by their suffix, so "files-2"
// comes before "files-10". Names without a numeric suffix are rejected.
func SortByTrailingIndex(names []string) error {
	keys := make(map[string]int, len(names))
	for _, name := range names {
		n, err := TrailingIndex(name)
		if err != nil {
			return err
		}
		keys[name] = n
	}
	sort.SliceStable(names, func(i, j int) bool {
		return keys[names[i]] < keys[names[j]]
	})
	return nil
}

// ListArchives returns the archives directly under dir ordered by chunk index.
// Directory listing order is never relied upon.
func ListArchives(dir string) ([]types.Archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives in %s: %w", dir, err)
	}

	var archives []types.Archive
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		index, count, ok := ParseArchiveName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		archives = append(archives, types.Archive{
			Index:       index,
			SampleCount: count,
			Path:        filepath.Join(dir, e.Name()),
			Size:        info.Size(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Index < archives[j].Index
	})
	return archives, nil
}
