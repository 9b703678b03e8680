package output

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/maxvaer/apihunter/internal/probe"
)

// TopN is how many outcomes the top report lists.
const TopN = 10

// Sorted returns a copy of outs ordered by score, then status, then final URL.
func Sorted(outs []*probe.Outcome) []*probe.Outcome {
	s := slices.Clone(outs)
	slices.SortStableFunc(s, func(a, b *probe.Outcome) int {
		return cmp.Or(
			cmp.Compare(a.Score, b.Score),
			cmp.Compare(a.Status, b.Status),
			strings.Compare(a.FinalURL, b.FinalURL),
		)
	})
	return s
}

// WriteSortedCSV writes outs, best first, as a CSV file at path.
func WriteSortedCSV(path string, outs []*probe.Outcome) error {
	w, err := CreateCSV(path)
	if err != nil {
		return err
	}
	for _, o := range Sorted(outs) {
		if err := w.WriteOutcome(o); err != nil {
			w.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// TopLine renders one outcome for the top report.
func TopLine(o *probe.Outcome) string {
	return fmt.Sprintf("[%d] %d %s - %dms - notes: %s",
		o.Score, o.Status, o.FinalURL, o.ResponseMS, strings.Join(o.Notes, ", "))
}

// WriteTop writes the n best outcomes, one per line.
func WriteTop(w io.Writer, outs []*probe.Outcome, n int) error {
	sorted := Sorted(outs)
	for _, o := range sorted[:min(n, len(sorted))] {
		if _, err := fmt.Fprintln(w, TopLine(o)); err != nil {
			return err
		}
	}
	return nil
}

// WriteTopFile writes the top report to path.
func WriteTopFile(path string, outs []*probe.Outcome) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteTop(f, outs, TopN); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
