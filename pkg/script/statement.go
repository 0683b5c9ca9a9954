package script

import (
	"fmt"
	"github.com/expr-lang/expr/vm"
	"regexp"
	"strings"
)

type targetKind int

const (
	targetNone targetKind = iota
	targetField
	targetState
)

type statement struct {
	src    string
	kind   targetKind
	target string
	prog   *vm.Program
	caps   Capabilities
}

var (
	dottedTarget  = regexp.MustCompile(`^(e|state)\.([A-Za-z_][A-Za-z0-9_]*)$`)
	indexedTarget = regexp.MustCompile(`^(e|state)\[\s*(?:"([^"]*)"|'([^']*)')\s*\]$`)
	bareTarget    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func parseStatement(src string) (*statement, error) {
	stmt := &statement{src: src}
	exprSrc := src
	if lhs, rhs, ok := splitAssignment(src); ok {
		kind, name, err := parseTarget(lhs)
		if err != nil {
			return nil, err
		}
		stmt.kind, stmt.target = kind, name
		exprSrc = rhs
	}
	prog, err := compile(exprSrc)
	if err != nil {
		return nil, err
	}
	caps, err := Scan(exprSrc)
	if err != nil {
		return nil, err
	}
	if stmt.kind == targetState {
		caps.State = true
	}
	stmt.prog = prog
	stmt.caps = caps
	return stmt, nil
}

func parseTarget(lhs string) (targetKind, string, error) {
	kindOf := func(root string) targetKind {
		if root == stateBinding {
			return targetState
		}
		return targetField
	}
	if m := dottedTarget.FindStringSubmatch(lhs); m != nil {
		return kindOf(m[1]), m[2], nil
	}
	if m := indexedTarget.FindStringSubmatch(lhs); m != nil {
		name := m[2]
		if name == "" {
			name = m[3]
		}
		if name == "" {
			return targetNone, "", fmt.Errorf("%w: empty name in '%s'", ErrTarget, lhs)
		}
		return kindOf(m[1]), name, nil
	}
	if bareTarget.MatchString(lhs) {
		if isReserved(lhs) {
			return targetNone, "", fmt.Errorf("%w: '%s' is a reserved name", ErrTarget, lhs)
		}
		return targetField, lhs, nil
	}
	return targetNone, "", fmt.Errorf("%w: '%s'", ErrTarget, lhs)
}

func (st *statement) exec(s *Scope) error {
	out, err := run(st.prog, s)
	if err != nil {
		return err
	}
	switch st.kind {
	case targetField:
		s.setField(st.target, out)
	case targetState:
		s.setState(st.target, out)
	}
	return nil
}

// splitStatements splits src on semicolons and newlines that aren't quoted or nested in brackets.
// Empty statements are dropped.
func splitStatements(src string) ([]string, error) {
	var (
		parts []string
		cur   strings.Builder
		quote rune
		esc   bool
		depth int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}
	for _, r := range src {
		if quote != 0 {
			cur.WriteRune(r)
			switch {
			case esc:
				esc = false
			case r == '\\' && quote != '`':
				esc = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced '%c' in '%s'", ErrCompile, r, src)
			}
		case ';', '\n':
			if depth == 0 {
				flush()
				continue
			}
		}
		cur.WriteRune(r)
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated string in '%s'", ErrCompile, src)
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced brackets in '%s'", ErrCompile, src)
	}
	flush()
	return parts, nil
}

// splitAssignment finds the first top level '=' or ':=' that isn't part of a comparison operator.
func splitAssignment(stmt string) (lhs, rhs string, ok bool) {
	var (
		quote rune
		esc   bool
		depth int
	)
	runes := []rune(stmt)
	for i, r := range runes {
		if quote != 0 {
			switch {
			case esc:
				esc = false
			case r == '\\' && quote != '`':
				esc = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(runes) && runes[i+1] == '=' {
				return "", "", false
			}
			start := i
			if i > 0 {
				switch runes[i-1] {
				case '=', '!', '<', '>':
					return "", "", false
				case ':':
					start = i - 1
				}
			}
			return strings.TrimSpace(string(runes[:start])), strings.TrimSpace(string(runes[i+1:])), true
		}
	}
	return "", "", false
}
