package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/classifier"
)

// DBPool abstracts pgxpool.Pool so the sink can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// NopSink discards traces. Used when trace persistence is disabled.
type NopSink struct{}

func (NopSink) RecordTrace(context.Context, *schemas.TraceOperation) error { return nil }
func (NopSink) RecordAttributes(context.Context, string, map[string]interface{}) error {
	return nil
}

// PostgresSink persists completed trace trees. Each operation becomes one
// row in trace_operations, flattened with a parent pointer so the tree can
// be reassembled and queried by category, agent, or error message.
type PostgresSink struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresSink verifies the connection and returns a sink.
func NewPostgresSink(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresSink, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping trace database: %w", err)
	}
	return &PostgresSink{
		pool: pool,
		log:  logger.Named("trace.sink"),
	}, nil
}

const insertOperationSQL = `
	INSERT INTO trace_operations
		(id, parent_id, trace_id, name, agent, start_time, end_time, duration_ms, input, output, error_message, error_type)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING`

// RecordTrace writes the whole tree in a single transaction.
func (s *PostgresSink) RecordTrace(ctx context.Context, root *schemas.TraceOperation) error {
	if root == nil {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback trace transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.insertOperation(ctx, tx, root, "", root.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit trace transaction: %w", err)
	}
	return nil
}

func (s *PostgresSink) insertOperation(ctx context.Context, tx pgx.Tx, op *schemas.TraceOperation, parentID, traceID string) error {
	var errMsg, errType interface{}
	if op.Error != nil {
		errMsg = op.Error.Message
		errType = op.Error.Type
	}
	var parent interface{}
	if parentID != "" {
		parent = parentID
	}
	_, err := tx.Exec(ctx, insertOperationSQL,
		op.ID, parent, traceID, op.Name, op.Agent,
		op.StartTime, op.EndTime, op.Duration.Milliseconds(),
		rawOrNil(op.Input), rawOrNil(op.Output), errMsg, errType,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trace operation %s: %w", op.Name, err)
	}
	for _, child := range op.Children {
		if err := s.insertOperation(ctx, tx, child, op.ID, traceID); err != nil {
			return err
		}
	}
	return nil
}

// RecordAttributes attaches run-level key/value metadata, e.g. the fix
// outcome summary, to an existing trace.
func (s *PostgresSink) RecordAttributes(ctx context.Context, traceID string, attrs map[string]interface{}) error {
	if len(attrs) == 0 {
		return nil
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal trace attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO trace_attributes (trace_id, attributes)
		 VALUES ($1, $2)
		 ON CONFLICT (trace_id) DO UPDATE SET attributes = trace_attributes.attributes || EXCLUDED.attributes`,
		traceID, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to record trace attributes: %w", err)
	}
	return nil
}

const selectFailuresSQL = `
	SELECT trace_id, id, name, agent, error_message, COALESCE(error_type, ''), start_time, end_time
	FROM trace_operations
	WHERE error_message IS NOT NULL
	ORDER BY end_time`

// LoadFailures reads back every failed operation and classifies it into
// an analysis row. Rows carry Frequency 1; the history merges duplicates.
func (s *PostgresSink) LoadFailures(ctx context.Context) ([]schemas.FailureAnalysis, error) {
	rows, err := s.pool.Query(ctx, selectFailuresSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed operations: %w", err)
	}
	defer rows.Close()

	var out []schemas.FailureAnalysis
	for rows.Next() {
		var fa schemas.FailureAnalysis
		if err := rows.Scan(&fa.TraceID, &fa.OperationID, &fa.Operation, &fa.Agent,
			&fa.Message, &fa.Detail, &fa.FirstSeen, &fa.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan failed operation: %w", err)
		}
		fa.Category = classifier.Classify(fa.Message, fa.Detail, fa.Operation)
		fa.Frequency = 1
		out = append(out, fa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read failed operations: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
