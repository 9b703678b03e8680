package output

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/maxvaer/apihunter/internal/jsonutil"
	"github.com/maxvaer/apihunter/internal/probe"
)

// JSONLWriter writes one compact JSON object per line.
type JSONLWriter struct {
	bw     *bufio.Writer
	closer io.Closer
}

// NewJSONLWriter writes to w. If w is an io.Closer it is closed by Close.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	j := &JSONLWriter{bw: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	return j
}

// CreateJSONL truncates or creates the file at path.
func CreateJSONL(path string) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return NewJSONLWriter(f), nil
}

func (j *JSONLWriter) WriteHeader() error { return nil }

func (j *JSONLWriter) WriteOutcome(o *probe.Outcome) error {
	line, err := jsonutil.Marshal(o)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", o.OrigURL, err)
	}
	line = append(line, '\n')
	_, err = j.bw.Write(line)
	return err
}

func (j *JSONLWriter) Flush() error {
	return j.bw.Flush()
}

func (j *JSONLWriter) Close() error {
	err := j.bw.Flush()
	if j.closer != nil {
		if cerr := j.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
