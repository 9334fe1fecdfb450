package domain

import "errors"

const (
	CodeUnexpected         = "unexpected"
	CodeCancelled          = "cancelled"
	CodeSuperseded         = "superseded"
	CodeListSizeExceeded   = "list_size_exceeded"
	CodeShutdownRefresh    = "shutdown_during_refresh"
	CodeShutdownExport     = "shutdown_during_export"
	CodeNotFound           = "not_found"
	CodeNoSuccess          = "no_success_generation"
	CodeNoRefresh          = "no_refresh_in_progress"
	CodeExportNotRunning   = "export_not_in_progress"
	CodeConflict           = "conflict"
	CodeProducerIncomplete = "producer_incomplete"
	CodeFinalized          = "generation_finalized"
	CodeInvalidRequest     = "invalid_request"
	CodeDuplicateContent   = "duplicate_content"
)

// Error is a recognized domain error. Its Code is what terminal records store.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrCancelled             = &Error{Code: CodeCancelled, Message: "cancelled"}
	ErrListSizeExceeded      = &Error{Code: CodeListSizeExceeded, Message: "list size limit exceeded"}
	ErrShutdownDuringRefresh = &Error{Code: CodeShutdownRefresh, Message: "process shut down during refresh"}
	ErrShutdownDuringExport  = &Error{Code: CodeShutdownExport, Message: "process shut down during export"}
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrNoSuccessGeneration   = &Error{Code: CodeNoSuccess, Message: "list has no successful refresh"}
	ErrNoRefreshInProgress   = &Error{Code: CodeNoRefresh, Message: "list has no refresh in progress"}
	ErrExportNotInProgress   = &Error{Code: CodeExportNotRunning, Message: "export is not in progress"}
	ErrConflict              = &Error{Code: CodeConflict, Message: "conflicting operation in progress"}
	ErrProducerIncomplete    = &Error{Code: CodeProducerIncomplete, Message: "query producer ended without a result"}
	ErrGenerationFinalized   = &Error{Code: CodeFinalized, Message: "generation is no longer in progress"}
	ErrInvalidRequest        = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrDuplicateContent      = &Error{Code: CodeDuplicateContent, Message: "duplicate content id in generation"}
)

// CodeOf returns the code of the nearest wrapped *Error, or CodeUnexpected.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnexpected
}
