package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is an agent status code. The set is open: codes this package
// does not name still travel through unchanged.
type ErrorCode uint32

const (
	ErrorOK              ErrorCode = 0
	ErrorFailure         ErrorCode = 1
	ErrorProtocol        ErrorCode = 2
	ErrorSizeError       ErrorCode = 3
	ErrorEOF             ErrorCode = 4
	ErrorOperationActive ErrorCode = 5
	ErrorDenied          ErrorCode = 6
	ErrorKeyNotFound     ErrorCode = 7
	ErrorUnsupported     ErrorCode = 8
)

var codeNames = map[ErrorCode]string{
	ErrorOK:              "ok",
	ErrorFailure:         "failure",
	ErrorProtocol:        "protocol error",
	ErrorSizeError:       "size error",
	ErrorEOF:             "end of stream",
	ErrorOperationActive: "operation active",
	ErrorDenied:          "denied",
	ErrorKeyNotFound:     "key not found",
	ErrorUnsupported:     "unsupported",
}

func (c ErrorCode) Error() string {
	if name, ok := codeNames[c]; ok {
		return "agent: " + name
	}
	return fmt.Sprintf("agent error %d", uint32(c))
}

// Err returns nil for ErrorOK and c otherwise.
func (c ErrorCode) Err() error {
	if c == ErrorOK {
		return nil
	}
	return c
}

// CodeOf recovers the code carried by err. nil maps to ErrorOK and errors
// without a code map to ErrorFailure.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrorOK
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ErrorFailure
}
