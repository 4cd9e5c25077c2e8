package medchain

import (
	"errors"
	"fmt"
)

// Workflow error codes
const (
	ErrCodeNetworkUnavailable     = "network_unavailable"
	ErrCodeLedgerReadFailure      = "ledger_read_failure"
	ErrCodeLedgerCountFailure     = "ledger_count_failure"
	ErrCodeTransactionRejected    = "transaction_rejected"
	ErrCodeTransactionUnconfirmed = "transaction_unconfirmed"
	ErrCodeSequenceAborted        = "sequence_aborted"
	ErrCodeCompletionPending      = "completion_pending"
	ErrCodeInvalidRequest         = "invalid_request"
)

// WorkflowError is the error returned by every workflow operation.
// Code is one of the ErrCode constants; Err is the underlying cause.
type WorkflowError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is matches any WorkflowError carrying the same code, so the sentinels below
// can be used with errors.Is.
func (e *WorkflowError) Is(target error) bool {
	var t *WorkflowError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewWorkflowError creates a new workflow error
func NewWorkflowError(code, message string, err error) *WorkflowError {
	return &WorkflowError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail attaches a detail value and returns the same error
func (e *WorkflowError) WithDetail(key string, value interface{}) *WorkflowError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is
var (
	ErrNetworkUnavailable     = &WorkflowError{Code: ErrCodeNetworkUnavailable, Message: "network unavailable"}
	ErrLedgerReadFailure      = &WorkflowError{Code: ErrCodeLedgerReadFailure, Message: "ledger read failed"}
	ErrLedgerCountFailure     = &WorkflowError{Code: ErrCodeLedgerCountFailure, Message: "ledger count read failed"}
	ErrTransactionRejected    = &WorkflowError{Code: ErrCodeTransactionRejected, Message: "transaction rejected"}
	ErrTransactionUnconfirmed = &WorkflowError{Code: ErrCodeTransactionUnconfirmed, Message: "transaction not confirmed"}
	ErrSequenceAborted        = &WorkflowError{Code: ErrCodeSequenceAborted, Message: "purchase sequence aborted"}
	ErrCompletionPending      = &WorkflowError{Code: ErrCodeCompletionPending, Message: "payment confirmed but completion not recorded"}
	ErrInvalidRequest         = &WorkflowError{Code: ErrCodeInvalidRequest, Message: "invalid request"}
)

// ErrorCode returns the workflow code of err, or an empty string
func ErrorCode(err error) string {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}
