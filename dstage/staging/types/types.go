package types

import (
	"time"
)

// Sample is one element produced by a SampleStream.
// A nil Files slice marks a label-only sample; a non-nil empty slice is a
// file-bearing sample that happens to carry no files.
type Sample struct {
	Label any      `json:"label"`
	Files []string `json:"files,omitempty"`
}

// IsLabelOnly reports whether the sample belongs to a label-only stream.
func (s Sample) IsLabelOnly() bool {
	return s.Files == nil
}

// Chunk accumulates samples until sealed. FileSets is nil for label-only chunks
// and otherwise holds one (possibly empty) entry per label.
type Chunk struct {
	Index    int        `json:"index"`
	Labels   []any      `json:"labels"`
	FileSets [][]string `json:"file_sets,omitempty"`
	ByteSize int64      `json:"byte_size"`
}

// Len returns the number of samples in the chunk.
func (c *Chunk) Len() int {
	return len(c.Labels)
}

// HasFiles reports whether the chunk materializes per-sample file folders.
func (c *Chunk) HasFiles() bool {
	return c.FileSets != nil
}

// Archive is a sealed, zipped chunk on disk.
type Archive struct {
	Index       int    `json:"index"`
	SampleCount int    `json:"sample_count"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
}

// DatasetRecord mirrors the remote platform's dataset entry.
type DatasetRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SampleCount    int    `json:"sample_count"`
	LastFileNumber int    `json:"last_file_number"`
}

// UploadDestination is a pre-signed form-post target for one archive.
type UploadDestination struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// CopyOperation copies every source file into TargetDir, keeping base names.
type CopyOperation struct {
	SourcePaths []string `json:"source_paths"`
	TargetDir   string   `json:"target_dir"`
}

// MoveOperation renames SourcePath to TargetPath.
type MoveOperation struct {
	SourcePath string `json:"source_path"`
	TargetPath string `json:"target_path"`
}

// OperationResult contains the result of a batch file operation
type OperationResult struct {
	Success        bool          `json:"success"`
	ProcessedFiles int           `json:"processed_files"`
	ProcessedDirs  int           `json:"processed_dirs"`
	BytesCopied    int64         `json:"bytes_copied"`
	Duration       time.Duration `json:"duration"`
}

// ChunkingResult summarises a completed chunking pass.
type ChunkingResult struct {
	Archives    []Archive     `json:"archives"`
	SampleCount int           `json:"sample_count"`
	Duration    time.Duration `json:"duration"`
}

// ProgressInfo is reported to interactors during long-running phases.
type ProgressInfo struct {
	Phase   string `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}
