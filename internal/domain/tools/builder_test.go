package tools

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, root string, req Request) ([]Invocation, error) {
	t.Helper()
	d, err := NewRegistry(root).Lookup(req.Tool)
	require.NoError(t, err)
	return Build(root, d, req)
}

func TestBuild_ArgvShapes(t *testing.T) {
	root := filepath.FromSlash("/opt/trustinn")
	at := func(rel string) string { return filepath.Join(root, filepath.FromSlash(rel)) }

	tests := []struct {
		name string
		req  Request
		want [][]string
	}{
		{
			name: "cbmc with bound",
			req:  Request{Tool: ToolCBMC, TargetFile: "foo.c", Bound: "5"},
			want: [][]string{{at("C-Tools/CBMC/run.sh"), "foo.c", "5"}},
		},
		{
			name: "cbmc without bound",
			req:  Request{Tool: ToolCBMC, TargetFile: "foo.c"},
			want: [][]string{{at("C-Tools/CBMC/run.sh"), "foo.c"}},
		},
		{
			name: "esbmc ignores bound",
			req:  Request{Tool: ToolESBMC, TargetFile: "main.py", Bound: "3"},
			want: [][]string{{at("Python-Tools/ESBMC/run.sh"), "main.py"}},
		},
		{
			name: "dse",
			req:  Request{Tool: ToolDSE, TargetFile: "main.py"},
			want: [][]string{{at("Python-Tools/DSE/dse_run.sh"), "main.py"}},
		},
		{
			name: "afl",
			req:  Request{Tool: ToolAFL, TargetFile: "foo.c", InputDir: "seeds"},
			want: [][]string{{at("Python-Tools/AFL/run.sh"), "foo.c", "seeds"}},
		},
		{
			name: "static analysis runs clang then frama-c",
			req:  Request{Tool: ToolStaticAnalysis, TargetFile: "foo.c"},
			want: [][]string{
				{at("C-Tools/StaticAnalysis/clang.sh"), at("C-Tools/StaticAnalysis/LLVM-20.1.0-Linux-X64"), "foo.c"},
				{at("C-Tools/StaticAnalysis/run-Framma-C.sh"), "foo.c"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invs, err := build(t, root, tt.req)
			require.NoError(t, err)
			require.Len(t, invs, len(tt.want))
			for i := range invs {
				assert.Equal(t, tt.want[i], invs[i].Argv)
			}
		})
	}
}

func TestBuild_StreamingFlag(t *testing.T) {
	invs, err := build(t, "/x", Request{Tool: ToolAFL, TargetFile: "foo.c", InputDir: "in"})
	require.NoError(t, err)
	assert.True(t, invs[0].Streaming)

	invs, err = build(t, "/x", Request{Tool: ToolCBMC, TargetFile: "foo.c"})
	require.NoError(t, err)
	assert.False(t, invs[0].Streaming)
}

func TestBuild_MissingInputDir(t *testing.T) {
	_, err := build(t, "/x", Request{Tool: ToolAFL, TargetFile: "foo.c", InputDir: "  "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingParameter))

	var mp *MissingParameterError
	require.True(t, errors.As(err, &mp))
	assert.Equal(t, SlotInputDir, mp.Slot)
	assert.Contains(t, err.Error(), "input_dir")
}

func TestBuild_LaterStageValidatedFirst(t *testing.T) {
	d := Descriptor{
		ID: "two",
		Stages: []Stage{
			{Name: "a", Script: "a.sh", Args: []Slot{{Kind: SlotFile}}},
			{Name: "b", Script: "b.sh", Args: []Slot{{Kind: SlotBound}}},
		},
	}
	invs, err := Build("/x", d, Request{Tool: "two", TargetFile: "f"})
	assert.Nil(t, invs)
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestBuild_HonorsRelocatedRoot(t *testing.T) {
	reg := NewRegistry("/old")
	reg.Relocate("/new")
	d, err := reg.Lookup(ToolCBMC)
	require.NoError(t, err)

	invs, err := Build(reg.Root(), d, Request{Tool: ToolCBMC, TargetFile: "a.c"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/new", "C-Tools", "CBMC", "run.sh"), invs[0].Argv[0])
}
