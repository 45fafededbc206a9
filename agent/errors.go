package agent

import (
	"errors"
	"fmt"

	"labpilot/database"
)

// ErrorKind classifies every failure a tool dispatch or analysis run can
// produce. Kinds are stable strings so they survive JSON round-trips into
// tool observations.
type ErrorKind string

const (
	// KindNotFound: a referenced dataset or document collection does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindSchemaError: a referenced column does not exist or its type does not
	// support the requested operation.
	KindSchemaError ErrorKind = "schema_error"
	// KindValidationError: arguments are structurally invalid against the
	// tool's parameter schema.
	KindValidationError ErrorKind = "validation_error"
	// KindUnknownTool: the model requested a tool that is not registered.
	KindUnknownTool ErrorKind = "unknown_tool"
	// KindTimeout: sandboxed code exceeded its wall-clock limit.
	KindTimeout ErrorKind = "timeout"
	// KindResourceExceeded: sandboxed code exceeded its memory or output limit.
	KindResourceExceeded ErrorKind = "resource_exceeded"
	// KindRuntimeFault: sandboxed code raised or was rejected by validation.
	KindRuntimeFault ErrorKind = "runtime_fault"
	// KindTransportFailure: the model endpoint could not be reached or
	// returned a malformed response.
	KindTransportFailure ErrorKind = "transport_failure"
	// KindStepLimitExceeded: the orchestrator hit its tool-dispatch budget.
	KindStepLimitExceeded ErrorKind = "step_limit_exceeded"
	// KindInternal: anything that does not fit the taxonomy.
	KindInternal ErrorKind = "internal"
)

// ToolError carries a taxonomy kind alongside the underlying error. Tools
// return it so the registry can report classified, non-fatal observations
// back to the model.
type ToolError struct {
	Kind ErrorKind
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError wraps err with a taxonomy kind.
func NewToolError(kind ErrorKind, err error) *ToolError {
	return &ToolError{Kind: kind, Err: err}
}

// ToolErrorf builds a classified error from a format string.
func ToolErrorf(kind ErrorKind, format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ClassifyError maps an arbitrary error to its taxonomy kind. ToolError
// passes through; dataset registry errors map to their data-layer kinds;
// everything else is internal.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Kind
	}
	var notFound *database.NotFoundError
	if errors.As(err, &notFound) {
		return KindNotFound
	}
	var schemaErr *database.SchemaError
	if errors.As(err, &schemaErr) {
		return KindSchemaError
	}
	var validationErr *database.ValidationError
	if errors.As(err, &validationErr) {
		return KindValidationError
	}
	return KindInternal
}
