// Package trace records the per-run tree of stage invocations and ships
// completed trees to a sink for later querying.
package trace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// DefaultMaxSnapshotBytes bounds the serialized input/output captured per
// operation.
const DefaultMaxSnapshotBytes = 8192

// Recorder builds one TraceOperation tree per run. Execution is
// sequential and single-threaded per run, so a plain stack of open
// operations is sufficient; the Recorder is not safe for concurrent use.
type Recorder struct {
	logger      *zap.Logger
	maxSnapshot int

	root *schemas.TraceOperation
	open []*schemas.TraceOperation
}

// NewRecorder starts a new run tree named name and owned by agent.
func NewRecorder(logger *zap.Logger, name, agent string, maxSnapshotBytes int) *Recorder {
	if maxSnapshotBytes <= 0 {
		maxSnapshotBytes = DefaultMaxSnapshotBytes
	}
	root := &schemas.TraceOperation{
		ID:        uuid.New().String(),
		Name:      name,
		Agent:     agent,
		StartTime: time.Now().UTC(),
	}
	return &Recorder{
		logger:      logger.Named("trace"),
		maxSnapshot: maxSnapshotBytes,
		root:        root,
		open:        []*schemas.TraceOperation{root},
	}
}

// Begin opens a child operation under the innermost open operation.
func (r *Recorder) Begin(name, agent string, input interface{}) *schemas.TraceOperation {
	op := &schemas.TraceOperation{
		ID:        uuid.New().String(),
		Name:      name,
		Agent:     agent,
		StartTime: time.Now().UTC(),
		Input:     r.snapshot(input),
	}
	parent := r.open[len(r.open)-1]
	parent.Children = append(parent.Children, op)
	r.open = append(r.open, op)
	return op
}

// End closes the innermost open operation, attaching its output and, if
// err is non-nil, an error detail.
func (r *Recorder) End(op *schemas.TraceOperation, output interface{}, err error) {
	op.EndTime = time.Now().UTC()
	op.Duration = op.EndTime.Sub(op.StartTime)
	op.Output = r.snapshot(output)
	if err != nil {
		op.Error = &schemas.ErrorDetail{
			Message: err.Error(),
			Type:    fmt.Sprintf("%T", err),
		}
	}

	// Pop back to the operation's parent. Closing out of order indicates
	// a controller bug; recover by popping through it.
	for i := len(r.open) - 1; i >= 1; i-- {
		if r.open[i] == op {
			r.open = r.open[:i]
			return
		}
	}
	r.logger.Warn("End called for an operation that is not open", zap.String("op", op.Name))
}

// Finish seals the root operation and returns the completed tree.
func (r *Recorder) Finish() *schemas.TraceOperation {
	r.root.EndTime = time.Now().UTC()
	r.root.Duration = r.root.EndTime.Sub(r.root.StartTime)
	r.open = r.open[:1]
	return r.root
}

// Root returns the (possibly still open) run tree.
func (r *Recorder) Root() *schemas.TraceOperation { return r.root }

// snapshot serializes v, bounded by maxSnapshot. Oversized payloads are
// replaced with a size marker so traces stay queryable without ballooning.
func (r *Recorder) snapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprintf("unserializable: %v", err))
		return raw
	}
	if len(raw) > r.maxSnapshot {
		marker, _ := json.Marshal(map[string]interface{}{
			"truncated":      true,
			"original_bytes": len(raw),
		})
		return marker
	}
	return raw
}

// FailedLeaves walks a completed tree and returns the failed operations
// that have no failed children, i.e. the innermost points of failure the
// classifier operates on.
func FailedLeaves(root *schemas.TraceOperation) []*schemas.TraceOperation {
	if root == nil {
		return nil
	}
	var out []*schemas.TraceOperation
	var walk func(op *schemas.TraceOperation) bool
	walk = func(op *schemas.TraceOperation) bool {
		childFailed := false
		for _, child := range op.Children {
			if walk(child) {
				childFailed = true
			}
		}
		if op.Error != nil && !childFailed {
			out = append(out, op)
		}
		return op.Error != nil || childFailed
	}
	walk(root)
	return out
}
