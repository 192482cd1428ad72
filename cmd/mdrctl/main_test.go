package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/mdr/internal/blocks"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(append([]string{"--log-format", "text", "--log-level", "warn"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// dataset writes a smooth 32x16 float32 field to a raw file and refactors it
// into two blocks.
func dataset(t *testing.T, extra ...string) (dir, input string, f *field.Field[float32]) {
	t.Helper()
	tmp := t.TempDir()
	dir = filepath.Join(tmp, "data")
	input = filepath.Join(tmp, "in.raw")

	f = testutil.SmoothField[float32](11, 32, 16)
	require.NoError(t, writeRaw(input, f))

	args := append([]string{"refactor", input, "--dims", "32x16", "--type", "float32",
		"--level", "2", "--bitplanes", "32", "--blocks", "2", "-d", dir}, extra...)
	out, err := run(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "blocks:    2")
	return dir, input, f
}

func TestParseHelpers(t *testing.T) {
	dims, err := parseDims("4x8, 2")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 8, 2}, dims)
	_, err = parseDims("4,a")
	assert.True(t, mdrerrors.IsConfiguration(err))
	_, err = parseDims("")
	assert.Error(t, err)

	tols, err := parseTolerances("1e-1, 0.001,")
	require.NoError(t, err)
	assert.Equal(t, []float64{1e-1, 1e-3}, tols)
	_, err = parseTolerances("-1")
	assert.ErrorIs(t, err, mdrerrors.ErrInvalidTolerance)
	_, err = parseTolerances(" ")
	assert.ErrorIs(t, err, mdrerrors.ErrInvalidTolerance)

	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2<<20))
}

func TestReadRawRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0644))
	_, err := readRaw[float32](path, []int{4})
	assert.ErrorIs(t, err, mdrerrors.ErrShapeMismatch)
}

func TestRefactorDryRun(t *testing.T) {
	out, err := run(t, "refactor", "unused.raw", "--dims", "64,64", "--dry-run", "-d", t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestRefactorReconstruct(t *testing.T) {
	dir, input, f := dataset(t)
	output := filepath.Join(t.TempDir(), "out.raw")

	out, err := run(t, "reconstruct", "-d", dir, "--tolerance", "1e-1,1e-3", "--verify", input, "-o", output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "tolerance"))
	assert.Contains(t, lines[0], "actual")
	assert.True(t, strings.HasPrefix(lines[1], "0.1 "))
	assert.True(t, strings.HasPrefix(lines[2], "0.001 "))
	assert.Contains(t, lines[3], "wrote")

	back, err := readRaw[float32](output, f.Dims())
	require.NoError(t, err)
	assert.LessOrEqual(t, field.MaxAbsDiff(f, back), 1e-3+1e-6)

	out, err = run(t, "reconstruct", "-d", dir, "--tolerance", "1e-2", "--fresh", "--planner", "roundrobin")
	require.NoError(t, err)
	assert.Contains(t, out, "true")
}

func TestInspect(t *testing.T) {
	dir, _, _ := dataset(t, "--container")

	out, err := run(t, "inspect", "-d", dir, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "container, 2 blocks")
	assert.Contains(t, out, "block 1: dims=[16 16]")
	assert.Contains(t, out, "plane  0:")
	assert.Contains(t, out, "streams:")
}

func TestReport(t *testing.T) {
	dir, _, _ := dataset(t, "--telemetry")
	_, err := run(t, "reconstruct", "-d", dir, "--tolerance", "1e-1,1e-2", "--telemetry")
	require.NoError(t, err)

	out, err := run(t, "report", "-d", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "level")
	assert.Contains(t, out, "tolerance")

	out, err = run(t, "report", "-d", dir, "--sql", "SELECT count(*) AS n FROM retrievals")
	require.NoError(t, err)
	// Two tolerances over two blocks.
	assert.Contains(t, out, "n\n4\n")
}

func TestPrintResultOrdersDegradedBlocks(t *testing.T) {
	res := &blocks.Result[float32]{
		Degraded: map[int][]int{7: {1}, 0: {2}, 3: {0, 2}, 12: {1}, 5: {2}},
	}
	want := "  block 0 degraded levels [2]\n" +
		"  block 3 degraded levels [0 2]\n" +
		"  block 5 degraded levels [2]\n" +
		"  block 7 degraded levels [1]\n" +
		"  block 12 degraded levels [1]\n"

	for i := 0; i < 20; i++ {
		var out bytes.Buffer
		printResult(&app{out: &out}, 1e-2, res, nil)
		_, lines, found := strings.Cut(out.String(), "\n")
		require.True(t, found)
		assert.Equal(t, want, lines)
	}
}

func TestReportEmpty(t *testing.T) {
	out, err := run(t, "report", "-d", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "no telemetry")
}

func TestExitCodes(t *testing.T) {
	_, err := run(t, "reconstruct", "-d", t.TempDir())
	assert.Equal(t, mdrerrors.CodeRetrieval, mdrerrors.ErrorToCode(err))

	_, err = run(t, "refactor", "x.raw", "--dims", "4,4", "--type", "int8", "-d", t.TempDir())
	assert.Equal(t, mdrerrors.CodeConfiguration, mdrerrors.ErrorToCode(err))

	dir, _, _ := dataset(t)
	_, err = run(t, "reconstruct", "-d", dir, "--tolerance", "-3")
	assert.Equal(t, mdrerrors.CodeInvalidInput, mdrerrors.ErrorToCode(err))

	_, err = run(t, "inspect", "-d", dir, "--log-level", "loud")
	assert.Equal(t, mdrerrors.CodeConfiguration, mdrerrors.ErrorToCode(err))

	_, err = run(t, "inspect", "-d", dir, "--log-format", "xml")
	assert.Equal(t, mdrerrors.CodeConfiguration, mdrerrors.ErrorToCode(err))
}

func TestRepl(t *testing.T) {
	dir, _, f := dataset(t)

	var out bytes.Buffer
	a := &app{out: &out, dataDir: dir, logLevel: "warn", logFormat: "text"}
	require.NoError(t, a.setup())

	ctx := context.Background()
	s, err := a.openRepl(ctx)
	require.NoError(t, err)
	defer s.close()

	assert.False(t, s.execute(ctx, "save x.raw"))
	assert.Contains(t, out.String(), "nothing reconstructed yet")

	assert.False(t, s.execute(ctx, "1e-2"))
	assert.Contains(t, out.String(), "0.01 ")

	out.Reset()
	assert.False(t, s.execute(ctx, "budget 0"))
	assert.False(t, s.execute(ctx, "tol 1e-4"))
	assert.Contains(t, out.String(), "false", "a zero budget cannot refine further")

	assert.False(t, s.execute(ctx, "budget -2"))
	assert.Contains(t, out.String(), "invalid byte budget")

	out.Reset()
	assert.False(t, s.execute(ctx, "budget -1"))
	assert.False(t, s.execute(ctx, "tol 1e-4"))
	assert.False(t, s.execute(ctx, "status"))
	assert.Contains(t, out.String(), "block 1: planes")

	path := filepath.Join(t.TempDir(), "repl.raw")
	assert.False(t, s.execute(ctx, "save "+path))
	back, err := readRaw[float32](path, f.Dims())
	require.NoError(t, err)
	assert.LessOrEqual(t, field.MaxAbsDiff(f, back), 1e-4+1e-6)

	assert.False(t, s.execute(ctx, "frobnicate"))
	assert.Contains(t, out.String(), `unknown command "frobnicate"`)
	assert.False(t, s.execute(ctx, "   "))
	assert.True(t, s.execute(ctx, "exit"))
}
