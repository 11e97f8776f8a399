package store

import "fmt"

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and an optional cause.
//
// Errors compare equal under errors.Is when their codes match, so callers can
// test against the sentinels below:
//
//	if errors.Is(err, store.ErrLockTimeout) { ... }
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
	Err  error   // The cause (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("StorageError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("StorageError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code, message and cause.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument  = NewError(RetCInvalidArgument, "invalid argument")
	ErrInvalidOperation = NewError(RetCInvalidOperation, "invalid operation")
	ErrLockTimeout      = NewError(RetCLockTimeout, "lock timeout")
	ErrCancelled        = NewError(RetCCancelled, "cancelled")
)

// argError returns an invalid argument error.
func argError(format string, args ...any) *Error {
	return NewError(RetCInvalidArgument, fmt.Sprintf(format, args...))
}

// RequireKey returns an invalid argument error if value is empty.
func RequireKey(name, value string) error {
	if value == "" {
		return argError("%s must not be empty", name)
	}
	return nil
}

// RequireRange returns an invalid argument error if to is below from.
func RequireRange[T int | float64](fromName string, from T, toName string, to T) error {
	if to < from {
		return argError("%s must be higher or equal to %s", toName, fromName)
	}
	return nil
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported.
	RetCInvalidOperation                    // 3: Invalid operation (e.g. use of a discarded transaction).
	RetCInvalidArgument                     // 4: A required argument is missing or a range is inverted.
	RetCLockTimeout                         // 5: A named lock could not be acquired in time.
	RetCCancelled                           // 6: A blocking call was cancelled.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCLockTimeout:
		return "LockTimeout"
	case RetCCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}
