package gateway

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/status"
)

var (
	// ErrNotAuthorized is returned when the advisory gate refuses an action.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNoSession is returned when an operation is called without a connected wallet.
	ErrNoSession = errors.New("no connected session")
)

// ValidationError reports bad user input caught before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UploadError reports a failed attachment upload. A submission that hits it
// never reaches the ledger.
type UploadError struct {
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// LedgerError reports a rejected or failed ledger call.
type LedgerError struct {
	Op      string
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// DetailedError is a transport error carrying the messages each endorsing
// peer returned.
type DetailedError interface {
	error
	Details() []string
}

// ledgerError wraps err, extracting the most useful message it carries:
// peer details first, then the gRPC status message, then the plain error text.
func ledgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *LedgerError
	if errors.As(err, &already) {
		return err
	}
	return &LedgerError{Op: op, Message: extractMessage(err), Err: err}
}

func extractMessage(err error) string {
	var detailed DetailedError
	if errors.As(err, &detailed) {
		if details := detailed.Details(); len(details) > 0 {
			return strings.Join(details, "; ")
		}
	}
	if st, ok := status.FromError(err); ok && st.Message() != "" {
		return st.Message()
	}
	return err.Error()
}
