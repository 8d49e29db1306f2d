// Package exec is the sandboxed code execution collaborator. The engine only
// consumes the terminal classification; everything else is passed through for
// display.
package exec

import "context"

// Classification is the terminal outcome of a submission run.
type Classification string

const (
	Accepted      Classification = "accepted"
	WrongOutput   Classification = "wrong_output"
	CompileError  Classification = "compile_error"
	Timeout       Classification = "timeout"
	RuntimeError  Classification = "runtime_error"
	InternalError Classification = "internal_error"
)

type Submission struct {
	Source string
	Stdin  string
}

type Result struct {
	Classification Classification
	Stdout         string
	Stderr         string
	TimeMS         int64
	MemoryKB       int64
}

// Runner executes a submission to completion. A transport or service failure
// is returned as an error, never folded into a classification: "the judge is
// down" must stay distinguishable from "the code is wrong".
type Runner interface {
	Run(ctx context.Context, sub Submission) (*Result, error)
}
