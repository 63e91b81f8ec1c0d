package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/trustinn/internal/domain/tools"
	"github.com/bryanwahyu/trustinn/internal/testutil"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(tools.StatusSuccess))
	assert.Equal(t, 1, exitCode(tools.StatusToolError))
	assert.Equal(t, 2, exitCode(tools.StatusRejected))
	assert.Equal(t, 3, exitCode(tools.StatusSpawnError))
	assert.Equal(t, 130, exitCode(tools.StatusCanceled))
}

func TestRun(t *testing.T) {
	testutil.RequireUnix(t)
	root := t.TempDir()
	testutil.WriteScript(t, root, "C-Tools/CBMC/run.sh", `echo "$@"; [ "$2" = 3 ] && exit 10; exit 0`)

	tests := []struct {
		name    string
		args    []string
		want    int
		wantOut string
		wantErr string
	}{
		{name: "success", args: []string{"-tool", "cbmc", "-file", "foo.c", "-bound", "5"}, want: 0, wantOut: "foo.c 5\n", wantErr: "Executing CBMC on foo.c..."},
		{name: "tool error", args: []string{"-tool", "CBMC", "-file", "foo.c", "-bound", "3"}, want: 1, wantOut: "foo.c 3\n"},
		{name: "unknown tool", args: []string{"-tool", "JBMC", "-file", "foo.c"}, want: 2, wantErr: "unknown tool"},
		{name: "no file", args: []string{"-tool", "CBMC"}, want: 2, wantErr: "no file selected"},
		{name: "missing input", args: []string{"-tool", "AFL", "-file", "foo.c"}, want: 2, wantErr: "input_dir"},
		{name: "not installed", args: []string{"-tool", "DSE", "-file", "main.py"}, want: 3, wantErr: "Error executing DSE"},
		{name: "bad flag", args: []string{"-nope"}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), append([]string{"-root", root}, tt.args...), &stdout, &stderr)
			assert.Equal(t, tt.want, code, stderr.String())
			if tt.wantOut != "" {
				assert.Equal(t, tt.wantOut, stdout.String())
			}
			assert.Contains(t, stderr.String(), tt.wantErr)
		})
	}
}

func TestRun_List(t *testing.T) {
	var stdout bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"-list", "-root", t.TempDir()}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "Static-Analysis")
	assert.Contains(t, stdout.String(), "(live)")
}

func TestRun_InstallRootFromConfig(t *testing.T) {
	testutil.RequireUnix(t)
	t.Setenv("TRUSTINN_HOME", "")
	root := t.TempDir()
	testutil.WriteScript(t, root, "C-Tools/CBMC/run.sh", `echo "from config $@"`)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("tools:\n  root: "+root+"\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-tool", "CBMC", "-file", "foo.c"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "from config foo.c\n", stdout.String())

	t.Setenv("CONFIG_PATH", cfgPath)
	stdout.Reset()
	code = run(context.Background(), []string{"-tool", "CBMC", "-file", "foo.c"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "from config foo.c\n", stdout.String())
}

func TestRun_TrustInnHomeOverridesConfig(t *testing.T) {
	testutil.RequireUnix(t)
	home := t.TempDir()
	testutil.WriteScript(t, home, "C-Tools/CBMC/run.sh", `echo "from home $@"`)
	t.Setenv("TRUSTINN_HOME", home)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("tools:\n  root: /nonexistent\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-tool", "CBMC", "-file", "foo.c"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "from home foo.c\n", stdout.String())
}

func TestRun_BadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: oracle\n"), 0o644))

	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-list"}, &bytes.Buffer{}, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "oracle")
}
