package featurelog

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/sarchlab/mlreplace/replacement"
	"github.com/tebeka/atexit"
)

// FeatureTable is the name of the table that holds feature records.
const FeatureTable = "features"

const defaultSQLBatchSize = 100000

// SQLiteSink writes feature records into a SQLite database.
type SQLiteSink struct {
	*sql.DB

	lock      sync.Mutex
	dbName    string
	ownsDB    bool
	closed    bool
	rows      []featureRow
	batchSize int
	dropped   uint64
}

// NewSQLiteSink creates the database path.sqlite3. The file must not exist.
// An empty path generates a unique name. The sink is flushed and closed when
// the program exits through atexit.
func NewSQLiteSink(path string, batchSize int) (*SQLiteSink, error) {
	if path == "" {
		path = "mlreplace_features_" + xid.New().String()
	}

	filename := path + ".sqlite3"

	file, err := createExclusive(filename)
	if err != nil {
		return nil, err
	}
	file.Close()

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		os.Remove(filename)
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}

	s, err := NewSQLiteSinkWithDB(db, batchSize)
	if err != nil {
		db.Close()
		os.Remove(filename)

		return nil, err
	}

	s.dbName = filename
	s.ownsDB = true

	fmt.Fprintf(os.Stderr, "Database created for feature logging: %s\n",
		filename)

	atexit.Register(func() {
		err := s.Close()
		if err != nil {
			log.Printf("featurelog: closing %s: %v", filename, err)
		}
	})

	return s, nil
}

// NewSQLiteSinkWithDB creates a SQLiteSink on an open database and creates
// the feature table if it does not exist. Closing the sink does not close
// the database.
func NewSQLiteSinkWithDB(db *sql.DB, batchSize int) (*SQLiteSink, error) {
	if batchSize <= 0 {
		batchSize = defaultSQLBatchSize
	}

	s := &SQLiteSink{
		DB:        db,
		batchSize: batchSize,
	}

	err := s.createTable()
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Path returns the database file name.
func (s *SQLiteSink) Path() string {
	return s.dbName
}

func (s *SQLiteSink) createTable() error {
	fields := strings.Join(structs.Names(featureRow{}), ", \n\t")
	createTableSQL := `CREATE TABLE IF NOT EXISTS ` + FeatureTable +
		` (` + "\n\t" + fields + "\n" + `);`

	_, err := s.Exec(createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", FeatureTable, err)
	}

	return nil
}

// Dropped implements Sink.
func (s *SQLiteSink) Dropped() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.dropped
}

// Record implements replacement.FeatureSink.
func (s *SQLiteSink) Record(r replacement.FeatureRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return errSinkClosed
	}

	s.rows = append(s.rows, toRow(r))
	if len(s.rows) >= s.batchSize {
		return s.flush()
	}

	return nil
}

// Flush implements Sink.
func (s *SQLiteSink) Flush() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	return s.flush()
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	err := s.flush()
	if s.ownsDB {
		closeErr := s.DB.Close()
		if err == nil {
			err = closeErr
		}
	}

	return err
}

func (s *SQLiteSink) flush() error {
	if len(s.rows) == 0 {
		return nil
	}

	err := s.insertRows()
	if err != nil {
		s.dropped += uint64(len(s.rows))
	}

	s.rows = s.rows[:0]

	return err
}

func (s *SQLiteSink) insertRows() error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(s.insertSQL())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}

	for _, row := range s.rows {
		_, err = stmt.Exec(structs.Values(row)...)
		if err != nil {
			stmt.Close()
			tx.Rollback()

			return fmt.Errorf("failed to insert feature record: %w", err)
		}
	}

	stmt.Close()

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit feature records: %w", err)
	}

	return nil
}

func (s *SQLiteSink) insertSQL() string {
	n := structs.Names(featureRow{})
	for i := range n {
		n[i] = "?"
	}

	return "INSERT INTO " + FeatureTable +
		" VALUES (" + strings.Join(n, ", ") + ")"
}
