package argonaut

import (
	"errors"
	"strings"
)

// Error is the argonaut error domain type.
//
// Errors coming from argonaut components should be able to be inspected
// as ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of argonaut components should create an Error at the
// system boundary (e.g. when decoding an artifact or talking to the
// document store) and intermediate layers should not wrap in another
// Error except to add additional [ErrorKind] information. That is to
// say, use [fmt.Errorf] with a "%w" verb in preference to creating a
// containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	if e.Kind != "" {
		b.WriteString(string(e.Kind))
	} else {
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind is a code from the closed argonaut error taxonomy.
//
// An ErrorKind is an error itself so that call sites can do
//
//	errors.Is(err, argonaut.ErrIDMismatch)
//
// without digging the *Error out of the chain.
type ErrorKind string

// Error implements error.
func (k ErrorKind) Error() string { return string(k) }

// Parser errors.
const (
	ErrMalformedJSON      = ErrorKind(`MALFORMED_JSON`)
	ErrUnsupportedVersion = ErrorKind(`UNSUPPORTED_VERSION`)
	ErrInvalidField       = ErrorKind(`INVALID_FIELD`)
)

// Writer errors. These also appear verbatim as per-document failure
// codes in a WriterReport.
const (
	ErrMissingRequiredID    = ErrorKind(`MISSING_REQUIRED_ID`)
	ErrIDMismatch           = ErrorKind(`ID_MISMATCH`)
	ErrMissingRequiredField = ErrorKind(`MISSING_REQUIRED_FIELD`)
	ErrBulkItemFailed       = ErrorKind(`BULK_ITEM_FAILED`)
)

// Mapping errors.
const (
	ErrUnknownField = ErrorKind(`UNKNOWN_FIELD`)
	ErrTypeMismatch = ErrorKind(`TYPE_MISMATCH`)
	ErrMappingDrift = ErrorKind(`MAPPING_DRIFT`)
)

// Pipeline and workflow errors. The set is closed; the orchestrator
// never invents codes outside it.
const (
	ErrAcquireMissingArtifacts = ErrorKind(`E_ACQUIRE_MISSING_ARTIFACTS`)
	ErrAcquirePipelineFailed   = ErrorKind(`E_ACQUIRE_PIPELINE_FAILED`)
	ErrEnrichNoReachability    = ErrorKind(`E_ENRICH_NO_REACHABILITY`)
	ErrScoreEmptyRanking       = ErrorKind(`E_SCORE_EMPTY_RANKING`)
	ErrActionWriteBlocked      = ErrorKind(`E_ACTION_WRITE_BLOCKED`)
	ErrToolSchemaInvalid       = ErrorKind(`E_TOOL_SCHEMA_INVALID`)
)

// Transport errors from the document-store client.
const (
	// ErrTransient marks bulk transport failures that were retried up to
	// the configured budget and still failed.
	ErrTransient = ErrorKind(`TRANSIENT`)
	// ErrPermanent marks bulk transport failures that must not be
	// retried (e.g. HTTP 400).
	ErrPermanent = ErrorKind(`PERMANENT`)
)
