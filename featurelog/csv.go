package featurelog

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/rs/xid"
	"github.com/sarchlab/mlreplace/replacement"
	"github.com/tebeka/atexit"
)

const defaultCSVBufferSize = 1000

// CSVSink writes feature records as comma-separated lines.
type CSVSink struct {
	lock sync.Mutex

	path   string
	file   *os.File
	writer *bufio.Writer
	closed bool

	records    []replacement.FeatureRecord
	bufferSize int
	dropped    uint64
}

// NewCSVSink creates the file path.csv and writes the header. The file must
// not exist. An empty path generates a unique name. The sink is flushed and
// closed when the program exits through atexit.
func NewCSVSink(path string, bufferSize int) (*CSVSink, error) {
	if path == "" {
		path = "mlreplace_features_" + xid.New().String()
	}

	filename := path + ".csv"

	file, err := createExclusive(filename)
	if err != nil {
		return nil, err
	}

	s, err := NewCSVSinkWithWriter(file, bufferSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	s.path = filename
	s.file = file

	atexit.Register(func() {
		err := s.Close()
		if err != nil {
			log.Printf("featurelog: closing %s: %v", filename, err)
		}
	})

	return s, nil
}

// NewCSVSinkWithWriter creates a CSVSink that writes to w. Closing the sink
// does not close w.
func NewCSVSinkWithWriter(w io.Writer, bufferSize int) (*CSVSink, error) {
	if bufferSize <= 0 {
		bufferSize = defaultCSVBufferSize
	}

	s := &CSVSink{
		writer:     bufio.NewWriter(w),
		bufferSize: bufferSize,
	}

	_, err := fmt.Fprintln(s.writer, csvHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to write feature log header: %w", err)
	}

	err = s.writer.Flush()
	if err != nil {
		return nil, fmt.Errorf("failed to write feature log header: %w", err)
	}

	return s, nil
}

// Path returns the name of the file that the sink writes to.
func (s *CSVSink) Path() string {
	return s.path
}

// Dropped implements Sink.
func (s *CSVSink) Dropped() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.dropped
}

// Record implements replacement.FeatureSink.
func (s *CSVSink) Record(r replacement.FeatureRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return errSinkClosed
	}

	s.records = append(s.records, r)
	if len(s.records) >= s.bufferSize {
		return s.flush()
	}

	return nil
}

// Flush implements Sink.
func (s *CSVSink) Flush() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	return s.flush()
}

// Close implements Sink.
func (s *CSVSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	err := s.flush()
	if s.file != nil {
		closeErr := s.file.Close()
		if err == nil {
			err = closeErr
		}
	}

	return err
}

func (s *CSVSink) flush() error {
	var err error

	for _, r := range s.records {
		_, err = fmt.Fprintf(s.writer, "%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d\n",
			r.Cycle,
			r.Set,
			r.Way,
			r.Signature,
			r.Recency,
			r.Hits,
			boolToInt(r.Prefetch),
			boolToInt(r.Dirty),
			boolToInt(r.Reused),
			int(r.AccessKind),
			boolToInt(r.Hit),
		)
		if err != nil {
			break
		}
	}

	if err == nil {
		err = s.writer.Flush()
	}

	if err != nil {
		s.dropped += uint64(len(s.records))
		err = fmt.Errorf("failed to write %d feature records: %w",
			len(s.records), err)
	}

	s.records = s.records[:0]

	return err
}
