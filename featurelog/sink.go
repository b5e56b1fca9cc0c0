// Package featurelog stores the feature records of replacement policies so
// that reuse models can be trained offline.
package featurelog

import (
	"errors"
	"fmt"
	"os"

	"github.com/sarchlab/mlreplace/replacement"
)

// ErrUnknownSinkType is returned when a SinkConfig names a backend that does
// not exist.
var ErrUnknownSinkType = errors.New("unknown feature sink type")

// A Sink is a replacement.FeatureSink that buffers records and writes them to
// a storage backend.
type Sink interface {
	replacement.FeatureSink

	// Flush writes all the buffered records to the backend.
	Flush() error

	// Close flushes the sink and releases the backend.
	Close() error

	// Dropped returns the number of records that never reached the backend
	// because a write failed. A failed batch is dropped, not retried.
	Dropped() uint64
}

// SinkConfig selects and configures a Sink.
type SinkConfig struct {
	// Type is one of "csv", "sqlite", "clickhouse", or "none".
	Type string

	// Path is the file name without extension for the file-based sinks. An
	// empty path generates a unique name.
	Path string

	// ConnStr is a ClickHouse DSN. If set, it takes precedence over the
	// individual connection parameters.
	ConnStr  string
	Host     string
	Port     int
	Database string
	Username string
	Password string

	// BatchSize is the number of records buffered before a flush. Zero uses
	// the default of the backend.
	BatchSize int
}

// NewSinkWithConfig creates the Sink that the config describes.
func NewSinkWithConfig(c SinkConfig) (Sink, error) {
	switch c.Type {
	case "", "none":
		return Discard{}, nil
	case "csv":
		s, err := NewCSVSink(c.Path, c.BatchSize)
		if err != nil {
			return nil, err
		}

		return s, nil
	case "sqlite":
		s, err := NewSQLiteSink(c.Path, c.BatchSize)
		if err != nil {
			return nil, err
		}

		return s, nil
	case "clickhouse":
		s, err := NewClickHouseSink(c)
		if err != nil {
			return nil, err
		}

		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSinkType, c.Type)
	}
}

// Discard is a Sink that drops every record.
type Discard struct{}

// Record implements replacement.FeatureSink.
func (Discard) Record(replacement.FeatureRecord) error { return nil }

// Flush implements Sink.
func (Discard) Flush() error { return nil }

// Close implements Sink.
func (Discard) Close() error { return nil }

// Dropped implements Sink.
func (Discard) Dropped() uint64 { return 0 }

// createExclusive creates a file that must not exist yet.
func createExclusive(filename string) (*os.File, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filename, err)
	}

	return file, nil
}

var errSinkClosed = errors.New("feature sink is closed")
