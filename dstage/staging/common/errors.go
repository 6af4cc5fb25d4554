package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Error kinds raised by the staging pipeline. Every *Error unwraps to its kind,
// so errors.Is(err, ErrCopyFailure) holds for any wrapped copy failure.
var (
	ErrStagingConflict = errors.New("staging conflict")
	ErrSizeViolation   = errors.New("size violation")
	ErrCopyFailure     = errors.New("copy failure")
	ErrUploadFailure   = errors.New("upload failure")
	ErrEmptyDataset    = errors.New("empty dataset")
	ErrNotProcessed    = errors.New("dataset not processed")
)

// Common path validation errors
var (
	ErrPathEmpty   = errors.New("path cannot be empty")
	ErrPathTooLong = errors.New("path too long (max 4096 characters)")
	ErrPathInvalid = errors.New("path contains invalid characters")
)

// Error carries the kind, the operation and the path that failed.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error of the given kind.
func NewError(kind error, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func StagingConflict(path string) error {
	return NewError(ErrStagingConflict, "refusing to overwrite", path, nil)
}

func SizeViolation(path string, size, minimum int64) error {
	return NewError(ErrSizeViolation, "dataset below minimum size", path,
		fmt.Errorf("%d bytes < %d bytes", size, minimum))
}

func CopyFailure(op, path string, err error) error {
	return NewError(ErrCopyFailure, op, path, err)
}

func UploadFailure(op, path string, err error) error {
	return NewError(ErrUploadFailure, op, path, err)
}

// ErrorUtils provides common error handling utilities
type ErrorUtils struct {
	log zerolog.Logger
}

// NewErrorUtils creates a new ErrorUtils instance
func NewErrorUtils(log zerolog.Logger) *ErrorUtils {
	return &ErrorUtils{log: log}
}

// WrapError wraps an error with additional context
func (eu *ErrorUtils) WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	context := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", context, err)
}

// LogAndWrapError logs an error and wraps it with context
func (eu *ErrorUtils) LogAndWrapError(err error, level zerolog.Level, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	context := fmt.Sprintf(message, args...)
	eu.log.WithLevel(level).Err(err).Msg(context)

	return fmt.Errorf("%s: %w", context, err)
}

// KindOf returns the pipeline error kind carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrStagingConflict, ErrSizeViolation, ErrCopyFailure, ErrUploadFailure, ErrEmptyDataset, ErrNotProcessed} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
