package query

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks executions abandoned at their deadline.
var ErrTimeout = errors.New("query execution timed out")

// Request is a validated statement plus its positional arguments.
type Request struct {
	SQL  string
	Args []any
}

type Result struct {
	Columns  []string
	Rows     [][]any
	RowCount int
	Duration time.Duration
}

// Records returns rows keyed by column name.
func (r Result) Records() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		out = append(out, record)
	}
	return out
}

// Column returns the index of name, or -1.
func (r Result) Column(name string) int {
	for i, column := range r.Columns {
		if column == name {
			return i
		}
	}
	return -1
}

// Engine executes read-only statements. Implementations must honor ctx
// cancellation and release every resource they acquired before returning.
type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// ExecutionError wraps an engine-level failure. Unwrap exposes ErrTimeout
// when the deadline fired.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// Classify turns err into an *ExecutionError, mapping an expired ctx to
// ErrTimeout regardless of how the driver phrased the failure.
func Classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &ExecutionError{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	return &ExecutionError{Op: op, Err: err}
}
