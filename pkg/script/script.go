// Package script compiles and evaluates the user expressions that drive filter and exec stages.
//
// Expressions are written in the expr language (github.com/expr-lang/expr). Each evaluation sees the current event
// as `e`, the raw text as `line`, source metadata as `meta`, recent events as `window`, and the aggregation map as `state`.
// A number of functions are bound as well, such as emit_each for fan-out and the track_* aggregation helpers.
package script

import (
	"errors"
	"fmt"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"strings"
)

var (
	ErrCompile     = errors.New("invalid expression")
	ErrNotBool     = errors.New("filter expression must evaluate to a boolean")
	ErrTarget      = errors.New("invalid assignment target")
	ErrFanOutShape = errors.New("invalid emit_each arguments")
)

func compile(src string) (*vm.Program, error) {
	prog, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %v", ErrCompile, src, err)
	}
	return prog, nil
}

// run evaluates prog against the scope, surfacing any strict fan-out error recorded during evaluation.
func run(prog *vm.Program, s *Scope) (any, error) {
	s.shapeErr = nil
	out, err := expr.Run(prog, s.vars)
	if s.shapeErr != nil {
		return nil, s.shapeErr
	}
	return out, err
}

// Filter is a single compiled boolean expression.
type Filter struct {
	src  string
	prog *vm.Program
	caps Capabilities
}

// CompileFilter compiles src as a boolean expression.
func CompileFilter(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	prog, err := compile(src)
	if err != nil {
		return nil, err
	}
	caps, err := Scan(src)
	if err != nil {
		return nil, err
	}
	return &Filter{src: src, prog: prog, caps: caps}, nil
}

func (f *Filter) String() string {
	return f.src
}

func (f *Filter) Capabilities() Capabilities {
	return f.caps
}

// Match evaluates the filter in the given scope.
// A nil result is treated as false, any other non-boolean result is an error.
func (f *Filter) Match(s *Scope) (bool, error) {
	out, err := run(f.prog, s)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("%w: '%s' returned %T", ErrNotBool, f.src, out)
	}
}

// Exec is an ordered list of compiled statements.
type Exec struct {
	src   string
	stmts []*statement
	caps  Capabilities
}

// CompileExec splits src into statements and compiles each one.
func CompileExec(src string) (*Exec, error) {
	parts, err := splitStatements(src)
	if err != nil {
		return nil, err
	}
	x := &Exec{src: strings.TrimSpace(src)}
	for _, part := range parts {
		stmt, err := parseStatement(part)
		if err != nil {
			return nil, err
		}
		x.caps = x.caps.Merge(stmt.caps)
		x.stmts = append(x.stmts, stmt)
	}
	return x, nil
}

func (x *Exec) String() string {
	return x.src
}

func (x *Exec) Capabilities() Capabilities {
	return x.caps
}

// Len reports the number of statements.
func (x *Exec) Len() int {
	return len(x.stmts)
}

// Run executes each statement in order, stopping at the first failure.
// Mutations made by statements before the failure are kept.
func (x *Exec) Run(s *Scope) error {
	for _, stmt := range x.stmts {
		if err := stmt.exec(s); err != nil {
			return err
		}
	}
	return nil
}
