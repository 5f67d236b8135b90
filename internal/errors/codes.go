// Package errors provides structured error handling for stela.
//
// Every error carries a stable snake_case code that is surfaced verbatim in
// API responses, plus a Kind that groups codes for transport-level handling
// (each Kind maps to one HTTP status).
package errors

// Kind classifies error codes for handling and transport mapping.
type Kind string

const (
	// KindConfig indicates configuration or startup errors.
	KindConfig Kind = "config"
	// KindNotFound indicates a missing index, document, or update.
	KindNotFound Kind = "not_found"
	// KindAlreadyExists indicates a uniqueness conflict.
	KindAlreadyExists Kind = "already_exists"
	// KindValidation indicates input that was rejected before execution.
	KindValidation Kind = "validation"
	// KindTransport indicates a payload stream that failed in flight.
	KindTransport Kind = "transport"
	// KindEngine indicates a failure inside the index engine.
	KindEngine Kind = "engine"
	// KindUnavailable indicates a component that has shut down.
	KindUnavailable Kind = "actor_unavailable"
	// KindUnimplemented indicates a declared but unsupported operation.
	KindUnimplemented Kind = "unimplemented"
	// KindInternal indicates unexpected internal errors.
	KindInternal Kind = "internal"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by kind.
const (
	// Config errors.
	CodeConfigInvalid = "invalid_config"
	CodeDataDirLocked = "data_dir_locked"

	// Lookup errors.
	CodeIndexNotFound    = "index_not_found"
	CodeDocumentNotFound = "document_not_found"
	CodeUpdateNotFound   = "update_not_found"

	// Conflicts.
	CodeIndexAlreadyExists = "index_already_exists"

	// Validation errors.
	CodeInvalidIndexUID     = "invalid_index_uid"
	CodeInvalidPrimaryKey   = "invalid_primary_key"
	CodePrimaryKeyPresent   = "primary_key_already_present"
	CodePrimaryKeyInference = "primary_key_inference_failed"
	CodeImmutableIndexUID   = "index_uid_immutable"
	CodeEmptyPayload        = "empty_payload"
	CodeBadPayloadFormat    = "bad_payload_format"
	CodePayloadTooLarge     = "payload_too_large"
	CodeInvalidQuery        = "invalid_search_query"
	CodeBadParameter        = "bad_parameter"

	// Transport errors.
	CodePayloadAborted = "payload_aborted"

	// Engine errors.
	CodeEngineFailed   = "engine_failed"
	CodeIndexCorrupted = "index_corrupted"

	// Lifecycle errors.
	CodeActorUnavailable = "actor_unavailable"

	// Internal errors.
	CodeUnimplemented = "unimplemented"
	CodeStatusLog     = "status_log_failed"
	CodeInternal      = "internal"
)

// codeKinds maps each code to its kind. Codes missing from the table are
// treated as internal.
var codeKinds = map[string]Kind{
	CodeConfigInvalid: KindConfig,
	CodeDataDirLocked: KindConfig,

	CodeIndexNotFound:    KindNotFound,
	CodeDocumentNotFound: KindNotFound,
	CodeUpdateNotFound:   KindNotFound,

	CodeIndexAlreadyExists: KindAlreadyExists,

	CodeInvalidIndexUID:     KindValidation,
	CodeInvalidPrimaryKey:   KindValidation,
	CodePrimaryKeyPresent:   KindValidation,
	CodePrimaryKeyInference: KindValidation,
	CodeImmutableIndexUID:   KindValidation,
	CodeEmptyPayload:        KindValidation,
	CodeBadPayloadFormat:    KindValidation,
	CodePayloadTooLarge:     KindValidation,
	CodeInvalidQuery:        KindValidation,
	CodeBadParameter:        KindValidation,

	CodePayloadAborted: KindTransport,

	CodeEngineFailed:   KindEngine,
	CodeIndexCorrupted: KindEngine,

	CodeActorUnavailable: KindUnavailable,

	CodeUnimplemented: KindUnimplemented,
	CodeStatusLog:     KindInternal,
	CodeInternal:      KindInternal,
}

// kindFromCode looks up the kind for an error code.
func kindFromCode(code string) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindInternal
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case CodeDataDirLocked, CodeIndexCorrupted:
		return SeverityFatal
	}

	// Retryable errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case CodePayloadAborted, CodeStatusLog:
		return true
	default:
		return false
	}
}
