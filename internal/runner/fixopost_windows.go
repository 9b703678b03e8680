//go:build windows

package runner

// fixOutputProcessing is a no-op: raw console mode on Windows keeps
// newline translation.
func fixOutputProcessing(fd int) {}
