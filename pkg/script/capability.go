package script

import (
	"fmt"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"strings"
)

const (
	eventBinding  = "e"
	lineBinding   = "line"
	metaBinding   = "meta"
	windowBinding = "window"
	stateBinding  = "state"
	envBinding    = "$env"
)

// Capabilities describes the cross-event state an expression touches.
// Expressions with any capability can't run in isolated parallel workers.
type Capabilities struct {
	// State is set when the aggregation map is read or written, including through the track_* functions.
	State bool
	// Window is set when the sliding window is read.
	Window bool
}

func (c Capabilities) Merge(other Capabilities) Capabilities {
	return Capabilities{
		State:  c.State || other.State,
		Window: c.Window || other.Window,
	}
}

func (c Capabilities) Any() bool {
	return c.State || c.Window
}

func (c Capabilities) String() string {
	var used []string
	if c.State {
		used = append(used, stateBinding)
	}
	if c.Window {
		used = append(used, windowBinding)
	}
	if len(used) == 0 {
		return "none"
	}
	return strings.Join(used, ",")
}

type capabilityVisitor struct {
	caps Capabilities
}

func (v *capabilityVisitor) Visit(node *ast.Node) {
	id, ok := (*node).(*ast.IdentifierNode)
	if !ok {
		return
	}
	switch {
	case id.Value == envBinding:
		// $env reaches every binding by name, including computed ones.
		v.caps.State = true
		v.caps.Window = true
	case id.Value == stateBinding, strings.HasPrefix(id.Value, "track_"):
		v.caps.State = true
	case id.Value == windowBinding, strings.HasPrefix(id.Value, "window_"):
		v.caps.Window = true
	}
}

// Scan parses src and reports which cross-event bindings it references.
func Scan(src string) (Capabilities, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return Capabilities{}, fmt.Errorf("%w '%s': %v", ErrCompile, src, err)
	}
	v := &capabilityVisitor{}
	ast.Walk(&tree.Node, v)
	return v.caps, nil
}
