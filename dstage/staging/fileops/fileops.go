package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"

	"github.com/rs/zerolog"
)

// FileOps provides low-level file system operations
type FileOps struct {
	log       zerolog.Logger
	metrics   *common.Metrics
	pathUtils *common.PathUtils
}

// NewFileOps creates a new file operations instance
func NewFileOps(log zerolog.Logger, metrics *common.Metrics) *FileOps {
	return &FileOps{
		log:       log,
		metrics:   metrics,
		pathUtils: common.NewPathUtils(),
	}
}

// CopyFile copies a single file, creating the destination directory if
// needed, and returns the number of bytes written.
func (fo *FileOps) CopyFile(ctx context.Context, srcPath, dstPath string, opts options.CopyOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := fo.pathUtils.ValidatePath(srcPath); err != nil {
		return 0, fmt.Errorf("invalid source path: %w", err)
	}
	if err := fo.pathUtils.ValidatePath(dstPath); err != nil {
		return 0, fmt.Errorf("invalid destination path: %w", err)
	}

	n, err := fo.performFileCopy(ctx, srcPath, dstPath)
	if err != nil {
		return n, fmt.Errorf("failed to copy file from %s to %s: %w", srcPath, dstPath, err)
	}
	fo.metrics.AddBytesCopied(n)

	if opts.PreservePerms || opts.PreserveTimes {
		if err := copyFileAttributes(srcPath, dstPath, opts); err != nil {
			fo.log.Warn().Err(err).Str("dst", dstPath).Msg("Failed to copy file attributes")
		}
	}

	return n, nil
}

// CreateDirectory creates a directory with the specified permissions
func (fo *FileOps) CreateDirectory(ctx context.Context, path string, perms os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fo.pathUtils.ValidatePath(path); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if err := os.MkdirAll(path, perms); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// DeleteDirectory deletes a directory (optionally recursively)
func (fo *FileOps) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fo.pathUtils.ValidatePath(path); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return fmt.Errorf("failed to delete directory %s: %w", path, err)
	}
	return nil
}

// MoveDirectory moves a directory (rename or copy+delete across devices).
// The destination must not exist.
func (fo *FileOps) MoveDirectory(ctx context.Context, srcPath, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fo.pathUtils.ValidatePath(srcPath); err != nil {
		return fmt.Errorf("invalid source path: %w", err)
	}
	if err := fo.pathUtils.ValidatePath(dstPath); err != nil {
		return fmt.Errorf("invalid destination path: %w", err)
	}

	if exists, err := fo.pathUtils.Exists(dstPath); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("destination already exists: %s", dstPath)
	}

	err := os.Rename(srcPath, dstPath)
	if err == nil {
		return nil
	}
	if !isCrossDeviceError(err) {
		return fmt.Errorf("failed to move directory: %w", err)
	}

	if err := fo.copyDirectory(ctx, srcPath, dstPath); err != nil {
		return fmt.Errorf("failed to copy directory during move: %w", err)
	}
	if err := os.RemoveAll(srcPath); err != nil {
		return fmt.Errorf("failed to remove source directory after copy: %w", err)
	}
	return nil
}

func (fo *FileOps) copyDirectory(ctx context.Context, srcPath, dstPath string) error {
	return filepath.WalkDir(srcPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(srcPath, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		target := filepath.Join(dstPath, relPath)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		n, err := fo.performFileCopy(ctx, path, target)
		fo.metrics.AddBytesCopied(n)
		return err
	})
}

func (fo *FileOps) performFileCopy(ctx context.Context, srcPath, dstPath string) (int64, error) {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	dstFile, err := os.Create(dstPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}

	n, copyErr := copyWithContext(ctx, dstFile, srcFile)
	closeErr := dstFile.Close()
	if copyErr != nil {
		return n, fmt.Errorf("failed to copy file content: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("failed to close destination file: %w", closeErr)
	}
	return n, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buffer := make([]byte, 32*1024)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, readErr := src.Read(buffer)
		if n > 0 {
			if _, writeErr := dst.Write(buffer[:n]); writeErr != nil {
				return total, writeErr
			}
			total += int64(n)
		}

		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, readErr
		}
	}
}

func copyFileAttributes(srcPath, dstPath string, opts options.CopyOptions) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	if opts.PreservePerms {
		if err := os.Chmod(dstPath, info.Mode().Perm()); err != nil {
			return err
		}
	}
	if opts.PreserveTimes {
		if err := os.Chtimes(dstPath, info.ModTime(), info.ModTime()); err != nil {
			return err
		}
	}
	return nil
}

func isCrossDeviceError(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return false
}
