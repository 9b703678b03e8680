package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name                  string
		verbose, debug, quiet bool
		wantInfo, wantDebug   bool
		wantWarn              bool
	}{
		{name: "default", wantWarn: true},
		{name: "verbose", verbose: true, wantInfo: true, wantWarn: true},
		{name: "debug", debug: true, wantInfo: true, wantDebug: true, wantWarn: true},
		{name: "quiet wins", quiet: true, debug: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(&bytes.Buffer{}, tt.verbose, tt.debug, tt.quiet)
			ctx := context.Background()
			assert.Equal(t, tt.wantDebug, l.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.wantInfo, l.Enabled(ctx, slog.LevelInfo))
			assert.Equal(t, tt.wantWarn, l.Enabled(ctx, slog.LevelWarn))
			assert.True(t, l.Enabled(ctx, slog.LevelError))
		})
	}
}

func TestNewWritesText(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false, false, false).Warn("sink write failed", slog.String("sink", "jsonl"))
	assert.Contains(t, buf.String(), "sink write failed")
	assert.Contains(t, buf.String(), "sink=jsonl")
}

func TestOrDefault(t *testing.T) {
	assert.Same(t, slog.Default(), OrDefault(nil))
	custom := Discard()
	assert.Same(t, custom, OrDefault(custom))
}
