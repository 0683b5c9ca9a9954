package pipeline

import (
	"fmt"
	"strings"
)

// ErrorPolicy governs what happens when a line fails to parse or a stage fails.
type ErrorPolicy int

const (
	// PolicySkip drops the failing line or element without a diagnostic.
	PolicySkip ErrorPolicy = iota
	// PolicyFailFast halts the run after the failing line.
	PolicyFailFast
	// PolicyEmitAndContinue reports the failure and drops the line or element.
	PolicyEmitAndContinue
	// PolicySubstituteDefault reports the failure and continues with a default.
	// A parse failure becomes an event without fields carrying the raw text, a stage failure continues with the event as
	// it entered the stage.
	PolicySubstituteDefault
)

var policyStrings = map[ErrorPolicy]string{
	PolicySkip:              "skip",
	PolicyFailFast:          "fail-fast",
	PolicyEmitAndContinue:   "emit-errors",
	PolicySubstituteDefault: "default-value",
}

// PolicyNames lists accepted policy names in declaration order.
func PolicyNames() []string {
	return []string{
		policyStrings[PolicySkip],
		policyStrings[PolicyFailFast],
		policyStrings[PolicyEmitAndContinue],
		policyStrings[PolicySubstituteDefault],
	}
}

func ParsePolicy(s string) (ErrorPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range policyStrings {
		if name == s {
			return p, nil
		}
	}
	return PolicySkip, fmt.Errorf("%w '%s', expected one of %s", ErrUnknownPolicy, s, strings.Join(PolicyNames(), "|"))
}

func (p ErrorPolicy) String() string {
	return policyStrings[p]
}

// Set allows an ErrorPolicy to be used as a command line flag value.
func (p *ErrorPolicy) Set(s string) error {
	parsed, err := ParsePolicy(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p *ErrorPolicy) Type() string {
	return "policy"
}
