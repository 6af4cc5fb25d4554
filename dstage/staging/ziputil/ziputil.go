// Package ziputil packs a directory tree into a zip archive and back.
// Entry names are relative to the packed directory, with directory entries
// written explicitly so empty folders survive a round trip.
package ziputil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// PartialSuffix marks an archive that is still being written.
const PartialSuffix = ".partial"

// Pack writes the contents of srcDir into a new zip file at dstPath.
// dstPath must not exist or be inside srcDir. The archive is written under
// dstPath+PartialSuffix and renamed into place only once complete, so a
// failed pack never leaves a file at dstPath.
func Pack(srcDir, dstPath string) (err error) {
	if _, err := os.Lstat(dstPath); err == nil {
		return fmt.Errorf("failed to create archive %s: %w", dstPath, os.ErrExist)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to create archive %s: %w", dstPath, err)
	}

	partial := dstPath + PartialSuffix
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", dstPath, err)
	}
	defer func() {
		if err != nil {
			os.Remove(partial)
		}
	}()

	if err := writeTree(out, srcDir); err != nil {
		out.Close()
		return fmt.Errorf("failed to pack %s: %w", srcDir, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close archive %s: %w", dstPath, err)
	}
	if err := os.Rename(partial, dstPath); err != nil {
		return fmt.Errorf("failed to finalize archive %s: %w", dstPath, err)
	}
	return nil
}

func writeTree(out io.Writer, srcDir string) error {
	zw := zip.NewWriter(out)

	walkErr := filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if d.IsDir() {
			header.Name += "/"
			header.Method = zip.Store
			_, err := zw.CreateHeader(header)
			return err
		}

		header.Method = zip.Deflate
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if walkErr != nil {
		zw.Close()
		return walkErr
	}
	return zw.Close()
}

// Unpack extracts the archive at zipPath into dstDir, creating it if needed.
// Entries that would escape dstDir are rejected.
func Unpack(zipPath, dstDir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", zipPath, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dstDir, err)
	}
	root := filepath.Clean(dstDir) + string(os.PathSeparator)

	for _, f := range zr.File {
		target := filepath.Join(dstDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("archive entry %q escapes %s", f.Name, dstDir)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
