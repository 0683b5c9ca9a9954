package stdstream

import (
	"context"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"github.com/saylorsolutions/logsift/plugin"
	"os"
)

const (
	// StdinName is both the source name that selects standard input and the filename reported for its lines.
	StdinName = "-"
	stdinFile = "<stdin>"
)

var _ plugin.Plugin = (*stdplugin)(nil)

func Plugin() plugin.Plugin {
	return new(stdplugin)
}

type stdplugin struct {
}

func (s *stdplugin) ID() string {
	return "std"
}

func (s *stdplugin) Register(reg *plugin.Registration) {
	reg.RegisterSource(StdinName, SourceIn)
	reg.DocumentSource(StdinName, `-

Reads each line of STDIN. This is the source used when no files are given.`)
}

func (s *stdplugin) Stopping() error {
	return nil
}

// SourceIn reads lines from STDIN until it's closed or ctx is cancelled.
func SourceIn(ctx context.Context, _ string, _ plugin.Args) (iterator.Iterator, error) {
	return iterator.Cancellable(ctx, iterator.FromReader(os.Stdin, stdinFile)), nil
}

// Stdout creates a pipeline.Writer for formatted output.
func Stdout() *pipeline.LineWriter {
	return pipeline.NewLineWriter(os.Stdout)
}

// Stderr creates a pipeline.Writer for reports that shouldn't mix with formatted output.
func Stderr() *pipeline.LineWriter {
	return pipeline.NewLineWriter(os.Stderr)
}
