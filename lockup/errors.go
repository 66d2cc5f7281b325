package lockup

import "fmt"

// ExitError is a synchronous rejection of an inbound message. The lockup
// state is untouched and nothing is sent when one is returned.
type ExitError struct {
	Code    int
	Message string
}

func (e ExitError) Error() string {
	return fmt.Sprintf("exit code %d: %s", e.Code, e.Message)
}

var (
	ErrMalformedMessage   = ExitError{Code: 9, Message: "malformed message body"}
	ErrUnauthorized       = ExitError{Code: 73, Message: "unauthorized"}
	ErrNotInitialized     = ExitError{Code: 74, Message: "lockup is not initialized"}
	ErrAlreadyInitialized = ExitError{Code: 75, Message: "lockup is already initialized"}
	ErrInvalidSchedule    = ExitError{Code: 76, Message: "invalid vesting schedule"}
	ErrInsufficientFee    = ExitError{Code: 77, Message: "not enough ton to process the request"}
	ErrNothingToClaim     = ExitError{Code: 78, Message: "nothing to claim"}
	ErrUnknownOp          = ExitError{Code: 0xffff, Message: "unknown op"}
)
