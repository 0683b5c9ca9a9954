// Package formats provides the built-in input parsers and output formatters.
package formats

import (
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"github.com/saylorsolutions/logsift/plugin"
	"os"
)

var _ plugin.Plugin = (*formatsPlugin)(nil)

func Plugin() plugin.Plugin {
	return new(formatsPlugin)
}

type formatsPlugin struct{}

func (*formatsPlugin) ID() string {
	return "formats"
}

func (*formatsPlugin) Stopping() error {
	return nil
}

func (*formatsPlugin) Register(reg *plugin.Registration) {
	reg.RegisterParser("json", func(plugin.Args) (pipeline.Parser, error) {
		return JSONParser{}, nil
	})
	reg.DocumentParser("json", `json

Parses each line (or multi-line chunk) as a JSON object. Integral numbers become integers, other numbers floats.
Anything other than a single object is a parse error.`)
	reg.RegisterParser("logfmt", func(plugin.Args) (pipeline.Parser, error) {
		return LogfmtParser{}, nil
	})
	reg.DocumentParser("logfmt", `logfmt

Parses key=value pairs, as written by many Go and Heroku style loggers. Numeric values become numbers.`)
	reg.RegisterParser("line", func(plugin.Args) (pipeline.Parser, error) {
		return LineParser{}, nil
	})
	reg.DocumentParser("line", `line

Doesn't parse at all: each line becomes an event with a single "message" field.`)
	reg.RegisterParser("regex", func(args plugin.Args) (pipeline.Parser, error) {
		pattern, err := args.Require("pattern")
		if err != nil {
			return nil, err
		}
		return NewRegexParser(pattern)
	})
	reg.DocumentParser("regex", `regex --regex PATTERN

Extracts the named capture groups of PATTERN as fields, like (?P<level>\w+) (?P<msg>.*).
Lines that don't match are parse errors.`)

	reg.RegisterFormatter("default", func(args plugin.Args) (pipeline.Formatter, error) {
		color, _ := args.String("color")
		mode, err := ParseColorMode(color)
		if err != nil {
			return nil, err
		}
		return NewDefaultFormatter(mode, os.Stdout), nil
	})
	reg.DocumentFormatter("default", `default [--color auto|always|never]

Human readable output: timestamp, level and message, followed by the remaining fields as key=value pairs.`)
	reg.RegisterFormatter("json", func(plugin.Args) (pipeline.Formatter, error) {
		return JSONFormatter{}, nil
	})
	reg.DocumentFormatter("json", `json

Writes each event's fields as a JSON object on a single line.`)
	reg.RegisterFormatter("logfmt", func(plugin.Args) (pipeline.Formatter, error) {
		return LogfmtFormatter{}, nil
	})
	reg.DocumentFormatter("logfmt", `logfmt

Writes each event's fields as key=value pairs.`)
	reg.RegisterFormatter("csv", func(args plugin.Args) (pipeline.Formatter, error) {
		return NewCSVFormatter(args.List("keys")), nil
	})
	reg.DocumentFormatter("csv", `csv [--keys a,b,c]

Writes a header row followed by one row per event. Columns are the --keys if given, otherwise the fields of the
first event written.`)
	reg.RegisterFormatter("summary", func(plugin.Args) (pipeline.Formatter, error) {
		return NewSummaryFormatter(), nil
	})
	reg.DocumentFormatter("summary", `summary

Writes no events. Once the input is exhausted, reports the number of events, the time span they cover, and counts
by level and by field.`)
}
