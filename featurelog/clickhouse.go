package featurelog

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sarchlab/mlreplace/replacement"
	"github.com/tebeka/atexit"
)

const defaultClickHouseBatchSize = 100000

const createClickHouseTableSQL = `
	CREATE TABLE IF NOT EXISTS ` + FeatureTable + ` (
		Cycle UInt64,
		SetIdx Int64,
		Way Int64,
		PCSig UInt64,
		Recency Int64,
		Hits UInt32,
		Prefetch Bool,
		Dirty Bool,
		Reused Bool,
		AccessType UInt8,
		Hit Bool
	) ENGINE = MergeTree()
	ORDER BY (Cycle, SetIdx, Way)
`

// ClickHouseSink writes feature records into a ClickHouse table in batches.
type ClickHouseSink struct {
	conn clickhouse.Conn

	lock      sync.Mutex
	closed    bool
	records   []replacement.FeatureRecord
	batchSize int
	dropped   uint64
}

// NewClickHouseSink connects to ClickHouse and creates the feature table if
// it does not exist.
func NewClickHouseSink(c SinkConfig) (*ClickHouseSink, error) {
	opts, err := clickHouseOptions(c)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()

	err = conn.Ping(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	err = conn.Exec(ctx, createClickHouseTableSQL)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table %s: %w",
			FeatureTable, err)
	}

	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = defaultClickHouseBatchSize
	}

	s := &ClickHouseSink{
		conn:      conn,
		batchSize: batchSize,
	}

	atexit.Register(func() {
		err := s.Close()
		if err != nil {
			log.Printf("featurelog: closing ClickHouse sink: %v", err)
		}
	})

	return s, nil
}

func clickHouseOptions(c SinkConfig) (*clickhouse.Options, error) {
	if c.ConnStr != "" {
		opts, err := clickhouse.ParseDSN(c.ConnStr)
		if err != nil {
			return nil, fmt.Errorf("invalid ClickHouse DSN: %w", err)
		}

		return opts, nil
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}

	port := c.Port
	if port == 0 {
		port = 9000
	}

	return &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", host, port)},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		DialTimeout:     time.Second * 30,
		MaxOpenConns:    5,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}, nil
}

// Dropped implements Sink.
func (s *ClickHouseSink) Dropped() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.dropped
}

// Record implements replacement.FeatureSink.
func (s *ClickHouseSink) Record(r replacement.FeatureRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return errSinkClosed
	}

	s.records = append(s.records, r)
	if len(s.records) >= s.batchSize {
		return s.flush()
	}

	return nil
}

// Flush implements Sink.
func (s *ClickHouseSink) Flush() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	return s.flush()
}

// Close implements Sink.
func (s *ClickHouseSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	err := s.flush()

	closeErr := s.conn.Close()
	if err == nil {
		err = closeErr
	}

	return err
}

func (s *ClickHouseSink) flush() error {
	if len(s.records) == 0 {
		return nil
	}

	err := s.send()
	if err != nil {
		s.dropped += uint64(len(s.records))
	}

	s.records = s.records[:0]

	return err
}

func (s *ClickHouseSink) send() error {
	ctx := context.Background()

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+FeatureTable)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range s.records {
		err = batch.Append(
			r.Cycle,
			int64(r.Set),
			int64(r.Way),
			r.Signature,
			int64(r.Recency),
			r.Hits,
			r.Prefetch,
			r.Dirty,
			r.Reused,
			uint8(r.AccessKind),
			r.Hit,
		)
		if err != nil {
			abortErr := batch.Abort()
			if abortErr != nil {
				log.Printf("featurelog: aborting ClickHouse batch: %v", abortErr)
			}

			return fmt.Errorf("failed to append feature record: %w", err)
		}
	}

	err = batch.Send()
	if err != nil {
		return fmt.Errorf("failed to send feature records: %w", err)
	}

	return nil
}
