package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"github.com/saylorsolutions/logsift/plugin"
	"github.com/saylorsolutions/logsift/plugin/file"
	"github.com/saylorsolutions/logsift/plugin/formats"
	"github.com/saylorsolutions/logsift/plugin/stdstream"
	"github.com/saylorsolutions/logsift/plugin/store"
	"github.com/saylorsolutions/logsift/runtime"
	"github.com/spf13/cobra"
	"os"
	"strings"
	"time"
)

func plugins(log hclog.Logger) []plugin.Plugin {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return []plugin.Plugin{
		formats.Plugin(),
		file.Plugin(),
		stdstream.Plugin(),
		store.Plugin(log),
	}
}

func usage(err error) error {
	return &exitError{code: exitUsage, err: err}
}

func runLogsift(cmd *cobra.Command, o *options, args []string) (rerr error) {
	v, err := newViper(cmd.Flags(), o.configFile)
	if err != nil {
		return usage(err)
	}
	log := hclog.New(&hclog.LoggerOptions{
		Name:   "logsift",
		Level:  logLevel(v),
		Output: os.Stderr,
	})
	policy, err := pipeline.ParsePolicy(v.GetString("on-error"))
	if err != nil {
		return usage(err)
	}
	follow := v.GetBool("follow")
	source := v.GetString("source")
	if follow && len(args) == 0 {
		return usage(fmt.Errorf("%w: --follow requires at least one file", ErrUsage))
	}
	chunk, err := chunker(v.GetString("multiline"))
	if err != nil {
		return usage(err)
	}
	lineFilter, err := pipeline.NewPatternFilter(v.GetStringSlice("ignore-lines"), v.GetStringSlice("keep-lines"))
	if err != nil {
		return usage(err)
	}

	rt := runtime.NewRuntime(log, plugins(log)...)
	if err := rt.Start(cmd.Context()); err != nil {
		return failed(err)
	}
	defer func() {
		if err := rt.Stop(); err != nil {
			log.Error("Error while stopping runtime", "error", err)
			if rerr == nil {
				rerr = failed(err)
			}
		}
	}()
	reg := rt.Registry()

	keys := v.GetStringSlice("keys")
	outputFile := v.GetString("output")
	color := v.GetString("color")
	if outputFile != "" && color == string(formats.ColorAuto) {
		color = string(formats.ColorNever)
	}
	parser, err := reg.Parser(v.GetString("input-format"), plugin.Args{"pattern": v.GetString("regex")})
	if err != nil {
		return usage(err)
	}
	formatter, err := reg.Formatter(v.GetString("output-format"), plugin.Args{
		"color": color,
		"keys":  strings.Join(keys, ","),
	})
	if err != nil {
		return usage(err)
	}
	now := time.Now()
	since, err := pipeline.ParseTimeBound(v.GetString("since"), now)
	if err != nil {
		return usage(err)
	}
	until, err := pipeline.ParseTimeBound(v.GetString("until"), now)
	if err != nil {
		return usage(err)
	}
	builder, err := pipeline.NewBuilder(log, pipeline.Config{
		Policy:        policy,
		Keys:          keys,
		ExcludeKeys:   v.GetStringSlice("exclude-keys"),
		Levels:        v.GetStringSlice("levels"),
		ExcludeLevels: v.GetStringSlice("exclude-levels"),
		Since:         since,
		Until:         until,
		WindowSize:    v.GetInt("window"),
		StrictEmit:    v.GetBool("strict-emit"),
		Stages:        o.stages,
		Begin:         v.GetStringSlice("begin"),
		End:           v.GetStringSlice("end"),
	}, parser, formatter)
	if err != nil {
		return usage(err)
	}
	parallel := v.GetBool("parallel")
	if parallel {
		if err := builder.CheckParallel(); err != nil {
			return usage(err)
		}
	}

	files, err := file.Expand(args)
	if err != nil {
		return usage(err)
	}
	sourceArgs := plugin.Args{}
	for k, val := range o.sourceArgs {
		sourceArgs[k] = val
	}
	switch {
	case source != "":
	case len(files) == 0:
		source = stdstream.StdinName
	case follow:
		source = "tail"
		sourceArgs["poll"] = fmt.Sprint(v.GetBool("poll"))
	default:
		source = "file"
	}
	input, err := rt.OpenInput(source, files, sourceArgs, follow)
	if err != nil {
		if errors.Is(err, runtime.ErrUnknownSource) || errors.Is(err, plugin.ErrArgs) || errors.Is(err, os.ErrNotExist) {
			return usage(err)
		}
		return failed(err)
	}

	var output pipeline.Writer = stdstream.Stdout()
	if outputFile != "" {
		fw, err := file.Create(outputFile)
		if err != nil {
			return failed(err)
		}
		defer func() {
			_ = fw.Close()
		}()
		output = fw
	}
	var sinks []pipeline.RecordSink
	if db := v.GetString("sqlite"); db != "" {
		sink, err := rt.OpenSink("sqlite", plugin.Args{"file": db, "table": v.GetString("sqlite-table")})
		if err != nil {
			return failed(err)
		}
		sinks = append(sinks, sink)
	}

	sum, err := rt.Run(cmd.Context(), runtime.Job{
		Builder:      builder,
		Input:        input,
		Output:       output,
		Sinks:        sinks,
		Filter:       lineFilter,
		Chunker:      chunk,
		Parallel:     parallel,
		Workers:      v.GetInt("workers"),
		BatchSize:    v.GetInt("batch-size"),
		BatchTimeout: v.GetDuration("batch-timeout"),
		Unordered:    v.GetBool("unordered"),
		Head:         v.GetInt("head"),
		Take:         v.GetInt("take"),
		FlushEach:    follow,
	})
	if werr := report(v.GetBool("stats"), v.GetBool("metrics"), sum); werr != nil {
		log.Error("Failed to write report", "error", werr)
	}
	switch {
	case errors.Is(err, pipeline.ErrCapability):
		return usage(err)
	case err != nil:
		return failed(err)
	case sum.Failed():
		return failed(fmt.Errorf("recovered from %d error(s)", sum.Stats.Errors))
	}
	return nil
}

// report writes the requested end of run statistics to stderr.
func report(stats, metrics bool, sum runtime.Summary) error {
	if !stats && !metrics {
		return nil
	}
	w := stdstream.Stderr()
	if stats {
		if err := w.Write("stats: " + sum.Stats.String()); err != nil {
			return err
		}
	}
	if metrics {
		data, err := json.MarshalIndent(sum.Metrics, "", "  ")
		if err != nil {
			return err
		}
		if err := w.Write("metrics: " + string(data)); err != nil {
			return err
		}
	}
	return w.Flush()
}
