// javacomplete_errors.go
// Contains exported error definitions and the error classification used by call sites.
package javacomplete

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// Exported Errors
// =============================================================================

var (
	// ErrTransport indicates the analysis service could not be reached (timeout, dial failure).
	ErrTransport = errors.New("analysis service unreachable")

	// ErrConnectionRefused indicates the analysis service refused the connection.
	// Errors carrying this mark also carry ErrTransport.
	ErrConnectionRefused = errors.New("analysis service refused connection")

	// ErrProtocol indicates the service answered with a non-2xx status or an {"error": ...} body.
	ErrProtocol = errors.New("analysis service returned an error")

	// ErrMalformedEntry indicates a single completion entry did not have the expected shape.
	ErrMalformedEntry = errors.New("malformed completion entry")

	// ErrUnknownCompletionKind indicates a completion group used a kind outside fields/methods/classes.
	ErrUnknownCompletionKind = errors.New("unknown completion kind")

	// ErrRequestBuild indicates the request envelope could not be constructed.
	ErrRequestBuild = errors.New("failed to build analysis request")

	// ErrFallback signals that no completions are available from the service and the host
	// should consult an alternate completion source.
	ErrFallback = errors.New("no completions from analysis service")

	// ErrNilBuffer indicates an operation was invoked without a line buffer.
	ErrNilBuffer = errors.New("line buffer is nil")

	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrHistory indicates a failure reading or writing the import history store.
	ErrHistory = errors.New("import history operation failed")

	// ErrPositionConversion indicates failure converting between position formats (LSP <-> byte offset).
	ErrPositionConversion = errors.New("position conversion failed")

	// ErrInvalidPositionInput indicates input position values (line/col) are invalid.
	ErrInvalidPositionInput = errors.New("invalid input position")

	// ErrPositionOutOfRange indicates a position is outside the valid bounds of the file or line.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidUTF8 indicates an invalid UTF-8 sequence was encountered during processing.
	ErrInvalidUTF8 = errors.New("invalid utf-8 sequence")

	// ErrInvalidURI indicates a document URI is invalid or uses an unsupported scheme.
	ErrInvalidURI = errors.New("invalid document URI")
)

// AnalyzerError carries the message reported by the analysis service.
type AnalyzerError struct {
	Endpoint string
	Message  string
	Status   int // HTTP status code, 0 when the error came from a 2xx {"error": ...} body
}

func (e *AnalyzerError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status: %d)", e.Endpoint, e.Message, e.Status)
	}
	return e.Endpoint + ": " + e.Message
}

// =============================================================================
// Error Classification
// =============================================================================

// ErrorKind is the coarse category of a failure, used by call sites to decide
// whether to surface, log, or drop it.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransport
	KindConnectionRefused
	KindProtocol
	KindMalformedEntry
	KindUnknownKind
	KindRequest
	KindConfig
	KindCanceled
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindConnectionRefused:
		return "connection_refused"
	case KindProtocol:
		return "protocol"
	case KindMalformedEntry:
		return "malformed_entry"
	case KindUnknownKind:
		return "unknown_kind"
	case KindRequest:
		return "request"
	case KindConfig:
		return "config"
	case KindCanceled:
		return "canceled"
	default:
		return "other"
	}
}

// ClassifyError maps an error returned by this package onto an ErrorKind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrConnectionRefused):
		return KindConnectionRefused
	case errors.Is(err, ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrUnknownCompletionKind):
		return KindUnknownKind
	case errors.Is(err, ErrMalformedEntry):
		return KindMalformedEntry
	case errors.Is(err, ErrRequestBuild):
		return KindRequest
	case errors.Is(err, ErrConfig), errors.Is(err, ErrInvalidConfig):
		return KindConfig
	default:
		return KindOther
	}
}
