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

const evictionCSVHeader = "cycle,set,way,victim_addr,new_addr"

// EvictionCSVSink writes one line per fill with the address of the block that
// was replaced and the address of the new block, both in hexadecimal.
type EvictionCSVSink struct {
	lock sync.Mutex

	path    string
	file    *os.File
	writer  *bufio.Writer
	closed  bool
	dropped uint64
}

// NewEvictionCSVSink creates the file path.csv and writes the header. The file
// must not exist. An empty path generates a unique name. The sink is closed
// when the program exits through atexit.
func NewEvictionCSVSink(path string) (*EvictionCSVSink, error) {
	if path == "" {
		path = "mlreplace_evictions_" + xid.New().String()
	}

	filename := path + ".csv"

	file, err := createExclusive(filename)
	if err != nil {
		return nil, err
	}

	s, err := NewEvictionCSVSinkWithWriter(file)
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

// NewEvictionCSVSinkWithWriter creates an EvictionCSVSink that writes to w.
// Closing the sink does not close w.
func NewEvictionCSVSinkWithWriter(w io.Writer) (*EvictionCSVSink, error) {
	s := &EvictionCSVSink{writer: bufio.NewWriter(w)}

	_, err := fmt.Fprintln(s.writer, evictionCSVHeader)
	if err == nil {
		err = s.writer.Flush()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to write eviction log header: %w", err)
	}

	return s, nil
}

// Path returns the name of the file that the sink writes to.
func (s *EvictionCSVSink) Path() string {
	return s.path
}

// RecordEviction implements replacement.EvictionSink.
func (s *EvictionCSVSink) RecordEviction(r replacement.EvictionRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return errSinkClosed
	}

	_, err := fmt.Fprintf(s.writer, "%d,%d,%d,%x,%x\n",
		r.Cycle, r.Set, r.Way, r.VictimAddr, r.NewAddr)
	if err != nil {
		s.dropped++
		return fmt.Errorf("failed to write eviction record: %w", err)
	}

	return nil
}

// Dropped returns the number of records that could not be written.
func (s *EvictionCSVSink) Dropped() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.dropped
}

// Flush writes the buffered lines.
func (s *EvictionCSVSink) Flush() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	return s.writer.Flush()
}

// Close flushes the sink and closes the file it created.
func (s *EvictionCSVSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	err := s.writer.Flush()
	if s.file != nil {
		closeErr := s.file.Close()
		if err == nil {
			err = closeErr
		}
	}

	return err
}
