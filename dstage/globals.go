package internal

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const (
	Kibibyte = 1 << 10
	Mebibyte = Kibibyte << 10
	Gibibyte = Mebibyte << 10
)

var (
	// DefaultAppName is used for config lookup and env prefixes
	DefaultAppName      = "dstage"
	DefaultConfigPath   = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultGlobalConfig = filepath.Join(DefaultConfigPath, "config.yaml")

	// DefaultStagingRoot is relative to the working directory, matching the layout
	// other tooling expects: ProjectDatasets/<dataset>/...
	DefaultStagingRoot = "ProjectDatasets"

	// Chunking and rebalancing thresholds
	DefaultChunkLimit     int64 = 100 * Mebibyte
	DefaultMinDatasetSize int64 = 100 * Mebibyte

	// Pool sizes for archiver copies and merge moves
	DefaultCopyWorkers = 15
	DefaultMoveWorkers = 15

	// DefaultAcceptStatus is the only status the upload destination answers on success
	DefaultAcceptStatus = 204

	DefaultLogLevel = "info"
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// NewLogger builds a logger for the given level and format ("json" or "console").
// Unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
