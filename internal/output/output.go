// Package output persists probe outcomes: streaming sinks that append each
// outcome as it arrives, and the sorted reports written after a scan.
package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/maxvaer/apihunter/internal/probe"
)

// Artifact names inside the output directory.
const (
	RawFile       = "target_raw.jsonl"
	StreamCSVFile = "target_apis_stream.csv"
	SortedCSVFile = "target_apis_sorted.csv"
	TopFile       = "target_top.txt"
)

// Writer is implemented by each streaming output format.
type Writer interface {
	WriteHeader() error
	WriteOutcome(o *probe.Outcome) error
	Flush() error
	Close() error
}

// Paths resolves the artifact locations in dir.
type Paths struct {
	Raw       string
	StreamCSV string
	SortedCSV string
	Top       string
}

// PathsIn returns the artifact paths under dir.
func PathsIn(dir string) Paths {
	return Paths{
		Raw:       filepath.Join(dir, RawFile),
		StreamCSV: filepath.Join(dir, StreamCSVFile),
		SortedCSV: filepath.Join(dir, SortedCSVFile),
		Top:       filepath.Join(dir, TopFile),
	}
}

// EnsureDir creates dir if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	return nil
}
