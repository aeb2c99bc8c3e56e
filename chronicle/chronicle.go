// Package chronicle provides the append-only, time-ordered log of raw
// knowledge, independent of vector indexing.
//
// Each row is one record of knowledge produced or gained. Rows are never
// mutated or deleted by this package; retention is an external policy.
// The backing store is SQLite (modernc.org/sqlite, cgo-free), with ids
// allocated by the primary key so they stay strictly increasing across
// concurrent inserts without application-level locking.
package chronicle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound reports a lookup miss. A valid empty result, not a failure.
var ErrNotFound = errors.New("chronicle: record not found")

// Record is one immutable row of the log, totally ordered by
// (TimeStamp, ID).
type Record struct {
	ID        int64     // assigned by the store on insert, never reused
	TimeStamp time.Time // creation stamp, UTC
	Content   string    // raw knowledge
}

// Config holds the connection options for the log.
type Config struct {
	// Path is the SQLite database path (a file path or ":memory:" style
	// DSN accepted by the driver).
	Path string

	// PoolSize is the number of idle connections kept ready. Minimum 1.
	PoolSize int

	// MaxOverflow is how many extra connections may be opened beyond
	// PoolSize under load. Default: 2.
	MaxOverflow int
}

// Log is the chronicle ledger. Safe for concurrent use; every operation
// is its own atomic unit of work on a pooled connection, released on all
// exit paths. Inserts run in an explicit transaction; reads are single
// statements, which SQLite executes in an implicit one.
type Log struct {
	db *sql.DB
}

// Open provisions the schema idempotently and configures the connection
// pool. Call once at startup.
func Open(config Config) (*Log, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("chronicle: database path is required")
	}
	poolSize := config.PoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	maxOverflow := config.MaxOverflow
	if maxOverflow < 0 {
		maxOverflow = 0
	} else if config.MaxOverflow == 0 {
		maxOverflow = 2
	}

	// WAL for concurrent readers, busy timeout so concurrent writers queue
	// instead of failing. Both go in the DSN: the pool hands out multiple
	// connections and every one of them needs the pragmas.
	dsn := config.Path
	if !strings.Contains(dsn, "?") {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(poolSize + maxOverflow)
	db.SetMaxIdleConns(poolSize)

	// time_stamp is UTC unix nanoseconds so range scans order totally by
	// (time_stamp, id).
	createSQL := `CREATE TABLE IF NOT EXISTS chronicle (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time_stamp INTEGER NOT NULL,
		content TEXT NOT NULL
	)`
	if _, err := db.Exec(createSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS chronicle_time_stamp ON chronicle(time_stamp)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Log{db: db}, nil
}

// Insert appends content stamped with the current time.
func (l *Log) Insert(ctx context.Context, content string) (Record, error) {
	return l.InsertAt(ctx, content, time.Now().UTC())
}

// InsertAt appends content with a caller-supplied stamp. Durable on
// return; a failed insert leaves no visible row.
func (l *Log) InsertAt(ctx context.Context, content string, timeStamp time.Time) (Record, error) {
	timeStamp = timeStamp.UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO chronicle (time_stamp, content) VALUES (?, ?)`,
		timeStamp.UnixNano(), content,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("read inserted id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit insert: %w", err)
	}

	return Record{ID: id, TimeStamp: timeStamp, Content: content}, nil
}

// FindOne selects one record by id. A miss returns ErrNotFound.
func (l *Log) FindOne(ctx context.Context, id int64) (Record, error) {
	var rec Record
	var nanos int64

	err := l.db.QueryRowContext(ctx,
		`SELECT id, time_stamp, content FROM chronicle WHERE id = ?`, id,
	).Scan(&rec.ID, &nanos, &rec.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("find record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("find record %d: %w", id, err)
	}

	rec.TimeStamp = time.Unix(0, nanos).UTC()
	return rec, nil
}

// FindMany selects records by id, ordered by time stamp ascending
// regardless of input order. Missing ids are silently omitted, so the
// result is at most len(ids) long.
func (l *Log) FindMany(ctx context.Context, ids []int64) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `SELECT id, time_stamp, content FROM chronicle WHERE id IN (` +
		placeholders + `) ORDER BY time_stamp ASC, id ASC`

	return l.selectRecords(ctx, query, args...)
}

// Range scans records with lower <= time_stamp <= upper (inclusive both
// ends), ordered by time stamp ascending.
func (l *Log) Range(ctx context.Context, lower, upper time.Time) ([]Record, error) {
	return l.selectRecords(ctx,
		`SELECT id, time_stamp, content FROM chronicle
		 WHERE time_stamp BETWEEN ? AND ?
		 ORDER BY time_stamp ASC, id ASC`,
		lower.UTC().UnixNano(), upper.UTC().UnixNano(),
	)
}

// Close releases the connection pool.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) selectRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var nanos int64
		if err := rows.Scan(&rec.ID, &nanos, &rec.Content); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.TimeStamp = time.Unix(0, nanos).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
