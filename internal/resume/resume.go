// Package resume rebuilds a scan's artifacts from a previous raw JSONL
// file without probing anything again.
package resume

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/maxvaer/apihunter/internal/config"
	"github.com/maxvaer/apihunter/internal/jsonutil"
	"github.com/maxvaer/apihunter/internal/logging"
	"github.com/maxvaer/apihunter/internal/output"
	"github.com/maxvaer/apihunter/internal/probe"
)

// maxLine bounds a single JSONL record.
const maxLine = 1 << 20

// Load reads every outcome from the JSONL file at path. Blank lines are
// skipped; a malformed line fails the whole load.
func Load(path string) ([]*probe.Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening resume file: %w", err)
	}
	defer f.Close()

	var outs []*probe.Outcome
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var o probe.Outcome
		if err := jsonutil.Unmarshal(b, &o); err != nil {
			return nil, fmt.Errorf("%s:%d: parsing outcome: %w", path, line, err)
		}
		if o.Notes == nil {
			o.Notes = []string{}
		}
		outs = append(outs, &o)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading resume file: %w", err)
	}
	return outs, nil
}

// Reemit writes all four artifacts for outs into dir through the same
// writers a live scan uses. outs must already be loaded, so dir may hold
// the file they came from.
func Reemit(ctx context.Context, outs []*probe.Outcome, dir string, logger *slog.Logger) error {
	logger = logging.OrDefault(logger)
	if err := output.EnsureDir(dir); err != nil {
		return err
	}
	paths := output.PathsIn(dir)

	jw, err := output.CreateJSONL(paths.Raw)
	if err != nil {
		return err
	}
	cw, err := output.CreateCSV(paths.StreamCSV)
	if err != nil {
		jw.Close()
		return err
	}
	sinks := output.Fanout{
		output.StartSink("jsonl", jw, config.DefaultSinkBuffer, logger, nil),
		output.StartSink("csv", cw, config.DefaultSinkBuffer, logger, nil),
	}

	var sendErr error
	for _, o := range outs {
		if sendErr = sinks.Send(ctx, o); sendErr != nil {
			break
		}
	}
	sinks.Close()
	// The writers are local files; wait for them regardless of ctx.
	if err := sinks.Wait(context.Background()); err != nil {
		return err
	}
	if sendErr != nil {
		return fmt.Errorf("re-emitting outcomes: %w", sendErr)
	}

	if err := output.WriteSortedCSV(paths.SortedCSV, outs); err != nil {
		return err
	}
	if err := output.WriteTopFile(paths.Top, outs); err != nil {
		return err
	}
	logger.Info("resume artifacts written",
		slog.Int("outcomes", len(outs)),
		slog.String("dir", dir))
	return nil
}
