package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"github.com/saylorsolutions/logsift/plugin"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// exitError carries the process exit status for an error returned from a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func failed(err error) error {
	return &exitError{code: exitFailed, err: err}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit status.
// Runs that recovered from errors exit with 1, as do aborted runs. Invalid flags, expressions and pipelines exit with 2.
func execute(ctx context.Context, args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitUsage
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "logsift [flags] [files...]",
		Short: "Filter, transform and reformat structured logs",
		Long: `logsift reads log lines from files or stdin, parses them into events, and passes each event through the
--filter and --exec stages in the order they're given before writing it in the output format.

Examples:
  logsift -f logfmt --filter 'level == "error"' app.log
  logsift --exec 'duration_ms = to_float(duration) * 1000' -F csv --keys ts,duration_ms "logs/**/*.log"
  kubectl logs my-pod | logsift --filter 'status >= 500' --take 10`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogsift(cmd, o, args)
		},
	}
	bindFlags(cmd.Flags(), o)
	cmd.AddCommand(newFormatsCmd())
	return cmd
}

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the input formats, output formats, sources and sinks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := plugin.NewRegistration(plugins(nil)...)
			fmt.Fprintln(cmd.OutOrStdout(), "Error policies for --on-error:", strings.Join(pipeline.PolicyNames(), ", "))
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprint(cmd.OutOrStdout(), reg.AllDocs())
			return nil
		},
	}
}
