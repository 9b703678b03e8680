package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/maxvaer/apihunter/internal/probe"
)

// CSVHeader is the fixed column layout of the tabular artifacts.
var CSVHeader = []string{
	"score", "status", "final_url", "orig_url", "content_type", "server",
	"content_length", "response_ms", "tls_issuer", "flags", "notes",
}

// CSVWriter writes outcomes in CSV format.
type CSVWriter struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVWriter writes to w. If w is an io.Closer it is closed by Close.
func NewCSVWriter(w io.Writer) *CSVWriter {
	c := &CSVWriter{w: csv.NewWriter(w)}
	if cl, ok := w.(io.Closer); ok {
		c.closer = cl
	}
	return c
}

// CreateCSV truncates or creates the file at path and writes the header.
func CreateCSV(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	c := NewCSVWriter(f)
	if err := c.WriteHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *CSVWriter) WriteHeader() error {
	return c.w.Write(CSVHeader)
}

func (c *CSVWriter) WriteOutcome(o *probe.Outcome) error {
	return c.w.Write(CSVRow(o))
}

func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) Close() error {
	err := c.Flush()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// CSVRow renders o in CSVHeader column order.
func CSVRow(o *probe.Outcome) []string {
	flags := ""
	if o.IsGraphQL {
		flags = "graphql"
	}
	length := ""
	if o.ContentLength != nil {
		length = strconv.FormatInt(*o.ContentLength, 10)
	}
	return []string{
		strconv.Itoa(o.Score),
		strconv.Itoa(o.Status),
		o.FinalURL,
		o.OrigURL,
		probe.Str(o.ContentType),
		probe.Str(o.Server),
		length,
		strconv.FormatInt(o.ResponseMS, 10),
		probe.Str(o.TLSIssuer),
		flags,
		strings.Join(o.Notes, ", "),
	}
}
