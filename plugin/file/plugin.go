package file

import (
	"context"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/plugin"
)

func Plugin() plugin.Plugin {
	return new(filePlugin)
}

type filePlugin struct{}

func (*filePlugin) ID() string {
	return "file"
}

func (*filePlugin) Stopping() error {
	return nil
}

func (*filePlugin) Register(reg *plugin.Registration) {
	reg.RegisterSource("file", func(ctx context.Context, name string, _ plugin.Args) (iterator.Iterator, error) {
		return Open(ctx, name)
	})
	reg.DocumentSource("file", `file FILE_NAME

Reads each line of FILE_NAME once, from the start.
Glob patterns like "logs/**/*.log" are expanded before the files are opened, and matching files are read one after another.`)
	reg.RegisterSource("tail", func(ctx context.Context, name string, args plugin.Args) (iterator.Iterator, error) {
		return Tail(ctx, name, args.Bool("poll"))
	})
	reg.DocumentSource("tail", `tail FILE_NAME [poll=true]

Reads FILE_NAME from the start, then watches it for new lines until the run is interrupted.
The file is reopened if it's rotated or truncated. Lines from several followed files are interleaved as they arrive.
If poll is true, then the file is polled for changes instead of relying on filesystem notifications.`)
}
