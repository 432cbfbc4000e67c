package protocol

import "fmt"

// Failure codes, numbered after the Subversion error space.
const (
	CodeGeneral          = 200000
	CodeMalformedData    = 210004
	CodeUnknownCommand   = 210001
	CodeNoSuchRevision   = 160006
	CodePathNotFound     = 160013
	CodeNotDirectory     = 160016
	CodeStorage          = 160000
	CodeUnrelatedHistory = 195012
	CodeNotAuthorized    = 170001
	CodeAssertion        = 235000
)

// Failure is the body of a failure response.
type Failure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("E%d: %s", f.Code, f.Message)
}

// Response returns the failure response message.
func (f Failure) Response() Message {
	return MustMessage(CmdFailure, f)
}
