package file

import (
	"context"
	"errors"
	"fmt"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/nxadm/tail"
	"github.com/saylorsolutions/logsift/pkg/iterator"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"os"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNoMatch = errors.New("no files match pattern")
)

// Expand resolves glob patterns like "logs/**/*.log" into file names, sorted within each pattern.
// Patterns without glob syntax are passed through unchanged, so a missing file is reported when it's opened.
// A glob pattern that matches nothing is an error.
func Expand(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if !hasMeta(pattern) {
			files = append(files, pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoMatch, pattern)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// Open reads the lines of filename from the start.
// The file is closed once the returned Iterator is exhausted or ctx is cancelled.
func Open(ctx context.Context, filename string) (iterator.Iterator, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	var (
		once  sync.Once
		closeFile = func() {
			once.Do(func() {
				_ = f.Close()
			})
		}
		lines = iterator.FromReader(f, filename)
	)
	go func() {
		<-ctx.Done()
		closeFile()
	}()
	return iterator.Func(func() (iterator.Line, int, error) {
		if ctx.Err() != nil {
			closeFile()
			return iterator.End()
		}
		line, i, err := lines.Next()
		if err != nil {
			closeFile()
			if ctx.Err() != nil {
				return iterator.End()
			}
			return iterator.Err(err)
		}
		return line, i, nil
	}), nil
}

// Tail reads filename from the start and then follows it for new lines until ctx is cancelled.
// A rotated or truncated file is reopened. If poll is true, then the file is polled for changes instead of using
// filesystem notifications.
func Tail(ctx context.Context, filename string, poll bool) (iterator.Iterator, error) {
	_, iter, err := ctxTail(ctx, filename, poll)
	return iter, err
}

func ctxTail(ctx context.Context, filename string, poll bool) (*tail.Tail, iterator.Iterator, error) {
	t, err := tail.TailFile(filename, tail.Config{
		ReOpen:    true,
		MustExist: true,
		Follow:    true,
		Poll:      poll,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan iterator.Line)
	go func() {
		defer func() {
			close(ch)
			_ = t.Stop()
			t.Cleanup()
		}()
		var num int
		for {
			select {
			case <-ctx.Done():
				return
			case l, ok := <-t.Lines:
				if !ok {
					return
				}
				if l.Err != nil {
					continue
				}
				num++
				line := iterator.Line{
					Text:     strings.TrimSuffix(l.Text, "\r"),
					Num:      num,
					Filename: filename,
				}
				select {
				case ch <- line:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return t, iterator.FromChannel(ch), nil
}

// Writer writes output lines to a file.
type Writer struct {
	*pipeline.LineWriter
	f *os.File
}

// Create truncates or creates filename for output.
func Create(filename string) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &Writer{
		LineWriter: pipeline.NewLineWriter(f),
		f:          f,
	}, nil
}

// Close flushes buffered output and closes the file.
func (w *Writer) Close() error {
	err := w.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}
