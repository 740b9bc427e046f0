package eventlog

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// CSVSink writes one comma separated line per record:
//
//	source,HEADER,field...
//	source,12.345678,field...
//
// Values containing a comma are wrapped in double quotes, with backslashes
// and quotes escaped by a backslash.
type CSVSink struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: bufio.NewWriter(w)}
}

// OpenCSVFile creates (or truncates) path and returns a sink writing to it.
func OpenCSVFile(path string) (*CSVSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("csv path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &CSVSink{w: bufio.NewWriter(f), c: f}, nil
}

func (s *CSVSink) Emit(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return os.ErrClosed
	}
	if _, err := s.w.WriteString(FormatCSV(r)); err != nil {
		return err
	}
	// Rows must be visible while the sequence is still running.
	return s.w.Flush()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Flush()
	s.w = nil
	if s.c != nil {
		err = errors.Join(err, s.c.Close())
	}
	return err
}

// FormatCSV renders r as a newline terminated CSV line.
func FormatCSV(r Record) string {
	stamp := HeaderMarker
	if !r.Header {
		stamp = strconv.FormatFloat(r.Offset, 'f', 6, 64)
	}
	items := make([]string, 0, len(r.Fields)+2)
	items = append(items, quote(r.Source), stamp)
	for _, f := range r.Fields {
		items = append(items, quote(f))
	}
	return strings.Join(items, ",") + "\n"
}

var csvEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(v string) string {
	if !strings.Contains(v, ",") {
		return v
	}
	return `"` + csvEscaper.Replace(v) + `"`
}
