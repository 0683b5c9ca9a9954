package main

import (
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/logsift/pkg/multiline"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"os"
	"strings"
	"time"
)

var (
	ErrUsage = errors.New("usage error")
)

// stageFlag appends stages of one kind to a list shared with the other stage flags, so that the stages run in the
// order they were given on the command line.
type stageFlag struct {
	kind   pipeline.StageKind
	stages *[]pipeline.StageSpec
}

var _ pflag.Value = (*stageFlag)(nil)

func (f *stageFlag) String() string {
	if f.stages == nil {
		return ""
	}
	var srcs []string
	for _, s := range *f.stages {
		if s.Kind == f.kind {
			srcs = append(srcs, s.Source)
		}
	}
	return strings.Join(srcs, ", ")
}

func (f *stageFlag) Set(s string) error {
	*f.stages = append(*f.stages, pipeline.StageSpec{Kind: f.kind, Source: s})
	return nil
}

func (f *stageFlag) Type() string {
	return "expr"
}

type options struct {
	configFile string
	stages     []pipeline.StageSpec
	policy     pipeline.ErrorPolicy
	sourceArgs map[string]string
}

func bindFlags(flags *pflag.FlagSet, o *options) {
	flags.StringVarP(&o.configFile, "config", "c", "", "config file (default: $HOME/.logsift.yaml or ./.logsift.yaml)")
	flags.StringP("input-format", "f", "json", "input format, see 'logsift formats'")
	flags.StringP("output-format", "F", "default", "output format, see 'logsift formats'")
	flags.StringP("output", "o", "", "write formatted output to this file instead of stdout")
	flags.Var(&stageFlag{kind: pipeline.StageFilter, stages: &o.stages}, "filter", "keep events for which the expression is true, may be repeated")
	flags.Var(&stageFlag{kind: pipeline.StageExec, stages: &o.stages}, "exec", "run statements against each event, may be repeated")
	flags.StringArray("begin", nil, "statements run once before any input, may be repeated")
	flags.StringArray("end", nil, "statements run once after all input, may be repeated")

	flags.Bool("parallel", false, "process batches of input concurrently, scripts may not use state or window")
	flags.Int("workers", 0, "parallel workers (default: number of CPUs)")
	flags.Int("batch-size", 1000, "lines per parallel batch")
	flags.Duration("batch-timeout", 200*time.Millisecond, "dispatch a partial parallel batch after waiting this long for input, 0 waits for a full batch")
	flags.Bool("unordered", false, "emit parallel batches as they complete rather than in input order")
	flags.Int("head", -1, "read at most this many input lines")
	flags.Int("take", -1, "output at most this many events")

	flags.StringSlice("keys", nil, "only output these fields, in this order for csv")
	flags.StringSlice("exclude-keys", nil, "remove these fields from output")
	flags.StringSlice("levels", nil, "only keep events with these levels")
	flags.StringSlice("exclude-levels", nil, "drop events with these levels")
	flags.String("since", "", "drop events older than this timestamp, date, or duration ago like 2h")
	flags.String("until", "", "drop events newer than this timestamp, date, or duration ago like 2h")
	flags.Var(&o.policy, "on-error", "error policy: "+strings.Join(pipeline.PolicyNames(), ", "))
	flags.Int("window", 0, "number of previous events visible through 'window'")
	flags.Bool("strict-emit", false, "treat invalid emit_each arguments as stage failures instead of warnings")

	flags.StringArray("ignore-lines", nil, "skip lines matching this regex before parsing, may be repeated")
	flags.StringArray("keep-lines", nil, "only parse lines matching this regex, may be repeated")
	flags.String("multiline", "none", "join lines into records: none, indent, or start:REGEX")
	flags.String("regex", "", "pattern with named groups for the regex input format")

	flags.Bool("follow", false, "keep reading files as they grow")
	flags.Bool("poll", false, "poll followed files for changes instead of using filesystem notifications")
	flags.String("source", "", "read input with this source instead of files or stdin, see 'logsift formats'")
	flags.StringToStringVar(&o.sourceArgs, "source-arg", nil, "key=value argument for --source, may be repeated")
	flags.String("sqlite", "", "also store output events in this SQLite database")
	flags.String("sqlite-table", "events", "table for --sqlite")

	flags.Bool("stats", false, "print processing statistics to stderr at the end")
	flags.Bool("metrics", false, "print tracked metrics to stderr at the end")
	flags.String("color", "auto", "colored output for the default format: auto, always, never")
	flags.BoolP("verbose", "v", false, "log debug diagnostics")
	flags.BoolP("quiet", "q", false, "suppress diagnostics")
}

// newViper binds every flag to a viper instance, so that they may be set in the config file or as LOGSIFT_* variables.
// Stage flags are excluded, because their relative order matters.
func newViper(flags *pflag.FlagSet, configFile string) (*viper.Viper, error) {
	v := viper.New()
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		switch f.Name {
		case "filter", "exec", "config":
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}
	v.SetEnvPrefix("logsift")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %w", ErrUsage, err)
		}
		return v, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")
	v.SetConfigName(".logsift")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: failed to read config file: %w", ErrUsage, err)
		}
	}
	return v, nil
}

func logLevel(v *viper.Viper) hclog.Level {
	switch {
	case v.GetBool("quiet"):
		return hclog.Off
	case v.GetBool("verbose"):
		return hclog.Debug
	default:
		return hclog.Warn
	}
}

// chunker creates the Chunker selected by --multiline.
func chunker(mode string) (pipeline.Chunker, error) {
	switch {
	case mode == "" || mode == "none":
		return nil, nil
	case mode == "indent":
		return multiline.NewIndent(), nil
	case strings.HasPrefix(mode, "start:"):
		return multiline.NewStartPattern(strings.TrimPrefix(mode, "start:"))
	default:
		return nil, fmt.Errorf("%w: %s", multiline.ErrUnknownMode, mode)
	}
}
