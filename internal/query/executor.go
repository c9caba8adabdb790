package query

//go:generate mockgen -package mocks -destination mocks/mock_executor.go github.com/querystream/querystream/internal/query Executor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Executor runs a prepared statement with bound parameters and returns the
// materialized rows.
type Executor interface {
	Execute(ctx context.Context, queryText string, args []any) ([]map[string]any, error)
}

// Compile-time interface compliance check.
var _ Executor = (*SQLExecutor)(nil)

// SQLExecutor executes statements against a database/sql pool.
type SQLExecutor struct {
	log logrus.FieldLogger
	cfg Config
	db  *sql.DB
}

// NewSQLExecutor creates a database-backed executor.
func NewSQLExecutor(log logrus.FieldLogger, cfg Config) (*SQLExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &SQLExecutor{
		log: log.WithField("component", "executor"),
		cfg: cfg,
	}, nil
}

// Start opens the connection pool and verifies connectivity.
func (e *SQLExecutor) Start(ctx context.Context) error {
	e.log.WithField("driver", e.cfg.Driver).Info("Opening database")

	db, err := sql.Open(e.cfg.Driver, e.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(e.cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return fmt.Errorf("ping database: %w", err)
	}

	e.db = db

	e.log.Info("Database connection established")

	return nil
}

// Stop closes the connection pool.
func (e *SQLExecutor) Stop() error {
	e.log.Info("Closing database")

	if e.db != nil {
		return e.db.Close()
	}

	return nil
}

// Execute runs one poll of a statement and materializes every row as a
// column-name-to-value map. Byte slices are converted to strings so results
// serialize cleanly as JSON.
func (e *SQLExecutor) Execute(
	ctx context.Context,
	queryText string,
	args []any,
) ([]map[string]any, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(execCtx, queryText, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := make([]map[string]any, 0)

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]any, len(columns))

		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)

				continue
			}

			row[col] = values[i]
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}
