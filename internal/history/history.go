// Package history is the durable, append-only log of mutation requests
// issued to the replica catalog: one row per catalog request id, linked to
// the operation that caused it and its approval state.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// ErrConflict is returned when a request id is already recorded for a
// different operation.
var ErrConflict = errors.New("history: request already recorded for another operation")

// Operation is the kind of mutation a request performs.
type Operation string

// Operations.
const (
	OpCopy     Operation = "copy"
	OpDeletion Operation = "deletion"
)

// Record is one issued catalog request.
type Record struct {
	RequestID   int64
	Operation   Operation
	OperationID int64
	Approved    bool
	CreatedAt   time.Time
}

// Store is a SQLite-backed history log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the history database at dbPath and
// applies pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("history database ready", slog.String("path", dbPath))

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert records rec. Recording the same request for the same operation
// twice is a no-op; recording it for another operation is ErrConflict.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO phedex_requests (id, operation_type, operation_id, approved, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id, operation_type) DO NOTHING`,
		rec.RequestID, string(rec.Operation), rec.OperationID, rec.Approved, created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("history: inserting request %d: %w", rec.RequestID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: inserting request %d: %w", rec.RequestID, err)
	}

	if n == 1 {
		s.logger.Debug("recorded request",
			slog.Int64("request_id", rec.RequestID),
			slog.String("operation", string(rec.Operation)),
			slog.Int64("operation_id", rec.OperationID),
			slog.Bool("approved", rec.Approved),
		)

		return nil
	}

	var existing int64

	err = s.db.QueryRowContext(ctx,
		`SELECT operation_id FROM phedex_requests WHERE id = ? AND operation_type = ?`,
		rec.RequestID, string(rec.Operation),
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("history: reading request %d: %w", rec.RequestID, err)
	}

	if existing != rec.OperationID {
		return fmt.Errorf("%w: request %d belongs to operation %d", ErrConflict, rec.RequestID, existing)
	}

	return nil
}

// RequestIDs returns the request ids issued for an operation, ascending.
func (s *Store) RequestIDs(ctx context.Context, op Operation, operationID int64) ([]int64, error) {
	records, err := s.Records(ctx, op, operationID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.RequestID
	}

	return ids, nil
}

// Records returns the rows recorded for an operation, by request id.
func (s *Store) Records(ctx context.Context, op Operation, operationID int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation_type, operation_id, approved, created_at
		 FROM phedex_requests
		 WHERE operation_type = ? AND operation_id = ?
		 ORDER BY id`,
		string(op), operationID,
	)
	if err != nil {
		return nil, fmt.Errorf("history: querying operation %d: %w", operationID, err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		var (
			r       Record
			opType  string
			created int64
		)

		if err := rows.Scan(&r.RequestID, &opType, &r.OperationID, &r.Approved, &created); err != nil {
			return nil, fmt.Errorf("history: scanning row: %w", err)
		}

		r.Operation = Operation(opType)
		r.CreatedAt = time.Unix(created, 0)
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating rows: %w", err)
	}

	return out, nil
}
