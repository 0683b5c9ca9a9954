package pipeline

import (
	"errors"
	"fmt"
	"github.com/saylorsolutions/logsift/pkg/script"
)

var (
	ErrParse         = errors.New("parse error")
	ErrStage         = errors.New("stage error")
	ErrFanOutShape   = script.ErrFanOutShape
	ErrCapability    = errors.New("not supported in parallel mode")
	ErrCancelled     = errors.New("cancelled")
	ErrFailFast      = errors.New("aborted on first error")
	ErrUnknownPolicy = errors.New("unknown error policy")
)

// LineError is a parse or stage failure localized to one input line.
type LineError struct {
	Filename string
	Line     int
	// Stage is "parse" for parse failures, otherwise the description of the failing stage.
	Stage string
	Err   error
}

func (e *LineError) Error() string {
	name := e.Filename
	if name == "" {
		name = "<input>"
	}
	return fmt.Sprintf("%s:%d: %s: %v", name, e.Line, e.Stage, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
