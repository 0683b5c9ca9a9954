package main

import (
	"context"
	"github.com/saylorsolutions/logsift/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const appLog = `n=1 level=info msg="starting"
n=2 level=error msg="disk full"
n=3 level=info msg="retrying"
n=4 level=error msg="still full"
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// run executes the command line, returning stdout and the exit status.
func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var code int
	out, err := redirectOut(func() {
		code = execute(context.Background(), args)
	})
	require.NoError(t, err)
	return out, code
}

func TestExecute(t *testing.T) {
	path := writeLog(t, appLog)
	tests := map[string]struct {
		args     []string
		expected string
		code     int
	}{
		"filter": {
			args:     []string{"-f", "logfmt", "-F", "logfmt", "--filter", `level == "error"`, path},
			expected: "level=error msg=\"disk full\" n=2\nlevel=error msg=\"still full\" n=4\n",
		},
		"exec then filter": {
			args:     []string{"-f", "logfmt", "-F", "logfmt", "--keys", "n", "--exec", "n = n + 1", "--filter", "n == 2", path},
			expected: "n=2\n",
		},
		"filter then exec": {
			args:     []string{"-f", "logfmt", "-F", "logfmt", "--keys", "n", "--filter", "n == 2", "--exec", "n = n + 1", path},
			expected: "n=3\n",
		},
		"take": {
			args:     []string{"-f", "logfmt", "-F", "json", "--keys", "n", "--take", "2", path},
			expected: "{\"n\":1}\n{\"n\":2}\n",
		},
		"head": {
			args:     []string{"-f", "logfmt", "-F", "json", "--keys", "n", "--head", "1", path},
			expected: "{\"n\":1}\n",
		},
		"parallel": {
			args:     []string{"-f", "logfmt", "-F", "json", "--keys", "n", "--parallel", "--batch-size", "1", "--filter", "n > 2", path},
			expected: "{\"n\":3}\n{\"n\":4}\n",
		},
		"csv": {
			args:     []string{"-f", "logfmt", "-F", "csv", "--keys", "n,level", "--filter", "n < 3", path},
			expected: "n,level\n1,info\n2,error\n",
		},
		"fan out": {
			args:     []string{"-f", "logfmt", "-F", "logfmt", "--keys", "n,part", "--filter", "n == 1", "--exec", `emit_each([{"part": "a"}, {"part": "b"}], {"n": n})`, path},
			expected: "n=1 part=a\nn=1 part=b\n",
		},
		"levels": {
			args:     []string{"-f", "logfmt", "-F", "json", "--keys", "n", "--levels", "ERROR", path},
			expected: "{\"n\":2}\n{\"n\":4}\n",
		},
		"exclude levels": {
			args:     []string{"-f", "logfmt", "-F", "json", "--keys", "n", "--exclude-levels", "error", path},
			expected: "{\"n\":1}\n{\"n\":3}\n",
		},
		"exclude keys": {
			args:     []string{"-f", "logfmt", "-F", "logfmt", "--exclude-keys", "msg,level", "--take", "1", path},
			expected: "n=1\n",
		},
		"since keeps untimed events": {
			args:     []string{"-f", "logfmt", "-F", "json", "--keys", "n", "--since", "2024-01-01", "--take", "1", path},
			expected: "{\"n\":1}\n",
		},
		"invalid since": {
			args: []string{"-f", "logfmt", "--since", "last tuesday", path},
			code: exitUsage,
		},
		"recovered error": {
			args:     []string{"-f", "json", "-F", "json", "--on-error", "skip", path},
			expected: "",
			code:     exitFailed,
		},
		"fail fast": {
			args:     []string{"-f", "logfmt", "-F", "json", "--keys", "n", "--on-error", "fail-fast", "--exec", "x = n > 1 ? to_int(\"bad\") : n", path},
			expected: "{\"n\":1}\n",
			code:     exitFailed,
		},
		"state with parallel": {
			args: []string{"-f", "logfmt", "--parallel", "--exec", `track_count("errors")`, path},
			code: exitUsage,
		},
		"invalid expression": {
			args: []string{"-f", "logfmt", "--filter", "n ==", path},
			code: exitUsage,
		},
		"invalid policy": {
			args: []string{"-f", "logfmt", "--on-error", "retry", path},
			code: exitUsage,
		},
		"unknown format": {
			args: []string{"-f", "yaml", path},
			code: exitUsage,
		},
		"missing file": {
			args: []string{"-f", "logfmt", filepath.Join(t.TempDir(), "missing.log")},
			code: exitUsage,
		},
		"follow without files": {
			args: []string{"--follow"},
			code: exitUsage,
		},
		"bad multiline": {
			args: []string{"--multiline", "paragraph", path},
			code: exitUsage,
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			out, code := run(t, tc.args...)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.expected, out)
		})
	}
}

func TestExecute_OutputAndSqlite(t *testing.T) {
	path := writeLog(t, appLog)
	dir := t.TempDir()
	outFile := filepath.Join(dir, "out.json")
	db := filepath.Join(dir, "events.db")

	out, code := run(t, "-f", "logfmt", "-F", "json", "--keys", "n,level", "--filter", `level == "error"`,
		"-o", outFile, "--sqlite", db, path)
	require.Equal(t, exitOK, code)
	assert.Empty(t, out)
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "{\"level\":\"error\",\"n\":2}\n{\"level\":\"error\",\"n\":4}\n", string(data))

	out, code = run(t, "--source", "sqlite", "--source-arg", "file="+db, "-f", "json", "-F", "logfmt", "--keys", "evt_id,n", "events")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "evt_id=1 n=2\nevt_id=2 n=4\n", out)
}

func TestExecute_Config(t *testing.T) {
	path := writeLog(t, appLog)
	cfg := filepath.Join(t.TempDir(), "logsift.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("input-format: logfmt\noutput-format: json\nkeys: [n]\n"), 0600))

	out, code := run(t, "--config", cfg, "--take", "1", path)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "{\"n\":1}\n", out)

	t.Setenv("LOGSIFT_TAKE", "2")
	out, code = run(t, "--config", cfg, path)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n", out, "Environment variables should set defaults")
}

func TestExecute_Stdin(t *testing.T) {
	var (
		out  string
		code int
	)
	err, cleanup := redirectIn("n=5\nn=6\n", func() error {
		var rerr error
		out, rerr = redirectOut(func() {
			code = execute(context.Background(), []string{"-f", "logfmt", "-F", "logfmt", "--filter", "n == 6"})
		})
		return rerr
	})
	defer cleanup()
	require.NoError(t, err)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "n=6\n", out)
}

func TestFormatsCommand(t *testing.T) {
	out, code := run(t, "formats")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Input formats:\n")
	assert.Contains(t, out, "Output formats:\n")
	assert.Contains(t, out, "  logfmt\n")
	assert.Contains(t, out, "  sqlite file=FILE_NAME [table=TABLE_NAME]\n")
}

func TestStageFlag(t *testing.T) {
	var stages []pipeline.StageSpec
	filters := &stageFlag{kind: pipeline.StageFilter, stages: &stages}
	execs := &stageFlag{kind: pipeline.StageExec, stages: &stages}
	require.NoError(t, filters.Set("a > 1"))
	require.NoError(t, execs.Set("b = 2"))
	require.NoError(t, filters.Set("c"))

	assert.Equal(t, []pipeline.StageSpec{
		{Kind: pipeline.StageFilter, Source: "a > 1"},
		{Kind: pipeline.StageExec, Source: "b = 2"},
		{Kind: pipeline.StageFilter, Source: "c"},
	}, stages)
	assert.Equal(t, "a > 1, c", filters.String())
	assert.Equal(t, "b = 2", execs.String())
}

func TestChunker(t *testing.T) {
	tests := map[string]struct {
		mode string
		nil  bool
		err  bool
	}{
		"none":      {mode: "none", nil: true},
		"empty":     {mode: "", nil: true},
		"indent":    {mode: "indent"},
		"start":     {mode: `start:^\d{4}-`},
		"bad regex": {mode: "start:(", err: true},
		"unknown":   {mode: "blank-line", err: true},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			c, err := chunker(tc.mode)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.nil, c == nil)
		})
	}
}

func redirectOut(fn func()) (string, error) {
	var (
		oldOut = os.Stdout
		output strings.Builder
	)
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	os.Stdout = w
	defer func() {
		os.Stdout = oldOut
	}()
	fn()
	_ = w.Close()
	_, err = io.Copy(&output, r)
	return output.String(), err
}

func redirectIn(data string, fn func() error) (error, func()) {
	var (
		oldIn   = os.Stdin
		cleanup = func() {}
	)
	r, w, err := os.Pipe()
	if err != nil {
		return err, cleanup
	}
	os.Stdin = r
	cleanup = func() {
		os.Stdin = oldIn
	}
	_, err = io.Copy(w, strings.NewReader(data))
	_ = w.Close()
	if err != nil {
		return err, cleanup
	}
	if err := fn(); err != nil {
		return err, cleanup
	}
	return nil, cleanup
}
