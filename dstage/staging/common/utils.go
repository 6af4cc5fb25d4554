package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathUtils provides path manipulation utilities used across staging packages
type PathUtils struct{}

// NewPathUtils creates a new PathUtils instance
func NewPathUtils() *PathUtils {
	return &PathUtils{}
}

// ValidatePath validates that a path is safe to operate on
func (pu *PathUtils) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrPathEmpty
	}
	if strings.Contains(path, "\x00") {
		return ErrPathInvalid
	}
	if len(path) > 4096 {
		return ErrPathTooLong
	}
	return nil
}

// Exists reports whether path exists at all.
func (pu *PathUtils) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

// IsEmptyDir reports whether path is a directory with no entries.
func (pu *PathUtils) IsEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// SizeUtils measures files and directory trees.
type SizeUtils struct{}

// NewSizeUtils creates a new SizeUtils instance
func NewSizeUtils() *SizeUtils {
	return &SizeUtils{}
}

// FileSize returns the byte size of a regular file.
func (su *SizeUtils) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// SumFileSizes adds up the sizes of the given files.
func (su *SizeUtils) SumFileSizes(paths []string) (int64, error) {
	var total int64
	for _, p := range paths {
		n, err := su.FileSize(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// DirSize returns the total size of every regular file below root.
func (su *SizeUtils) DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", root, err)
	}
	return total, nil
}
