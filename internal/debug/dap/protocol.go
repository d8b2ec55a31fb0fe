package dap

import (
	"errors"
	"fmt"

	godap "github.com/google/go-dap"
)

// Errors returned by the client.
var (
	// ErrClosed is returned for requests on a closed client.
	ErrClosed = errors.New("dap client closed")

	// ErrMalformed is returned when a response cannot be decoded.
	ErrMalformed = errors.New("malformed dap message")
)

// ResponseError reports a request the adapter answered with success=false.
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed", e.Command)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// request is the wire envelope for every outgoing request. The typed go-dap
// argument structs are carried in Arguments.
type request struct {
	godap.Request
	Arguments any `json:"arguments,omitempty"`
}

func newRequest(seq int, command string, args any) request {
	return request{
		Request: godap.Request{
			ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: "request"},
			Command:         command,
		},
		Arguments: args,
	}
}

// AttachArguments are the arguments of the attach request sent to a kernel.
type AttachArguments struct {
	JustMyCode bool `json:"justMyCode"`
}

// SourceArguments are the arguments of the source request. A source is
// fetched by reference when SourceReference is non-zero, else by path.
type SourceArguments struct {
	Source          *godap.Source `json:"source,omitempty"`
	SourceReference int           `json:"sourceReference"`
}

// Hash methods reported by debugInfo.
const (
	HashMurmur2 = "Murmur2"
	HashXXH64   = "XXH64"
)

// DebugInfoResponseBody describes the kernel side debugger state. It lets a
// client that reconnects restore breakpoints and stopped threads.
type DebugInfoResponseBody struct {
	IsStarted      bool                  `json:"isStarted"`
	HashMethod     string                `json:"hashMethod"`
	HashSeed       uint32                `json:"hashSeed"`
	Breakpoints    []DebugInfoBreakpoint `json:"breakpoints"`
	TmpFilePrefix  string                `json:"tmpFilePrefix"`
	TmpFileSuffix  string                `json:"tmpFileSuffix"`
	StoppedThreads []int                 `json:"stoppedThreads"`
	RichRendering  bool                  `json:"richRendering,omitempty"`
	ExceptionPaths []string              `json:"exceptionPaths,omitempty"`
}

// DebugInfoBreakpoint lists the breakpoints the kernel holds for one source.
type DebugInfoBreakpoint struct {
	Source      string                   `json:"source"`
	Breakpoints []godap.SourceBreakpoint `json:"breakpoints"`
}

// DumpCellArguments are the arguments of the dumpCell request.
type DumpCellArguments struct {
	Code string `json:"code"`
}

// DumpCellResponseBody reports where the kernel stored the cell code.
type DumpCellResponseBody struct {
	SourcePath string `json:"sourcePath"`
}

// InspectVariablesResponseBody lists the kernel's global variables.
type InspectVariablesResponseBody struct {
	Variables []godap.Variable `json:"variables"`
}
