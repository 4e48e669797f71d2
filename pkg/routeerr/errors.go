// Package routeerr defines the error taxonomy shared by the routing engine.
//
// Every failure surfaced by the engine wraps one of the sentinel kinds below,
// so callers can branch with errors.Is and pull reach/step context out with
// errors.As on *Error.
package routeerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrCyclicNetwork      = errors.New("cyclic network")
	ErrDanglingReference  = errors.New("dangling downstream reference")
	ErrDuplicateSegment   = errors.New("duplicate segment")
	ErrConvergence        = errors.New("convergence failure")
	ErrNonFinite          = errors.New("non-finite result")
	ErrInvariantViolation = errors.New("invariant violation")
)

// Error carries structured context for a routing failure.
type Error struct {
	Op      string // Operation that failed (e.g., "Build", "RunStep")
	Kind    error  // One of the sentinel kinds
	Segment int64  // Segment ID (valid when HasSegment)
	Reach   int    // Reach ID (valid when HasReach)
	Step    int    // Time step index (valid when HasStep)
	Detail  string // Additional context
	Cause   error  // Underlying error

	HasSegment bool
	HasReach   bool
	HasStep    bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}

	ctx := make([]string, 0, 3)
	if e.HasStep {
		ctx = append(ctx, fmt.Sprintf("step %d", e.Step))
	}
	if e.HasReach {
		ctx = append(ctx, fmt.Sprintf("reach %d", e.Reach))
	}
	if e.HasSegment {
		ctx = append(ctx, fmt.Sprintf("segment %d", e.Segment))
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is this error's kind or matches its cause.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if e.Kind != nil && target == e.Kind {
		return true
	}
	return errors.Is(e.Cause, target)
}

// Builder provides a fluent interface for building Errors.
type Builder struct {
	err Error
}

// New creates a new error builder for the given operation and kind.
func New(op string, kind error) *Builder {
	return &Builder{err: Error{Op: op, Kind: kind}}
}

// Segment records the offending segment.
func (b *Builder) Segment(id int64) *Builder {
	b.err.Segment = id
	b.err.HasSegment = true
	return b
}

// Reach records the reach being solved.
func (b *Builder) Reach(id int) *Builder {
	b.err.Reach = id
	b.err.HasReach = true
	return b
}

// Step records the time step index.
func (b *Builder) Step(step int) *Builder {
	b.err.Step = step
	b.err.HasStep = true
	return b
}

// Detail sets additional context.
func (b *Builder) Detail(format string, args ...any) *Builder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

// Cause sets the underlying error cause.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Build returns the constructed Error.
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// Err returns the error as an error interface.
func (b *Builder) Err() error {
	return b.Build()
}

// Configuration is shorthand for a configuration error with a detail message.
func Configuration(op, format string, args ...any) error {
	return New(op, ErrConfiguration).Detail(format, args...).Err()
}

// Invariant is shorthand for an invariant violation with a detail message.
func Invariant(op, format string, args ...any) error {
	return New(op, ErrInvariantViolation).Detail(format, args...).Err()
}

// WithStep returns a copy of err annotated with a step index. Non-routing
// errors are wrapped as invariant violations since the engine only expects
// its own taxonomy.
func WithStep(err error, step int) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		cp := *re
		cp.Step = step
		cp.HasStep = true
		return &cp
	}
	return New("RunStep", ErrInvariantViolation).Step(step).Cause(err).Err()
}

// KindOf returns the sentinel kind carried by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{
		ErrConfiguration,
		ErrCyclicNetwork,
		ErrDanglingReference,
		ErrDuplicateSegment,
		ErrConvergence,
		ErrNonFinite,
		ErrInvariantViolation,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName returns a short label for metrics and logs.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrConfiguration:
		return "configuration"
	case ErrCyclicNetwork:
		return "cyclic_network"
	case ErrDanglingReference:
		return "dangling_reference"
	case ErrDuplicateSegment:
		return "duplicate_segment"
	case ErrConvergence:
		return "convergence"
	case ErrNonFinite:
		return "non_finite"
	case ErrInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Retriable reports whether a step that failed with err may be retried with
// adjusted solver settings. Only convergence failures qualify; corrupted
// numeric state and structural defects are always fatal.
func Retriable(err error) bool {
	return errors.Is(err, ErrConvergence) && !errors.Is(err, ErrNonFinite)
}

// Context extracts the structured context from err, if any.
func Context(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
