package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/appbase/pkg/allocator"
	"github.com/ngld/appbase/pkg/linkscript"
)

const linker = "BASE_ADDRESS = 0x80400000;\n"

type fixture struct {
	dir    string
	linker string
	out    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		linker: filepath.Join(dir, "linker.ld"),
		out:    filepath.Join(dir, "out.txt"),
	}
	require.NoError(t, os.WriteFile(f.linker, []byte(linker), 0644))
	return f
}

func (f fixture) action(t *testing.T, command string) *ShellAction {
	t.Helper()
	action, err := NewShellAction(command)
	require.NoError(t, err)

	action.Dir = f.dir
	action.TempDir = f.dir
	action.Stdout = new(bytes.Buffer)
	action.Stderr = new(bytes.Buffer)
	action.Env["OUT"] = f.out
	return action
}

func (f fixture) output(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.out)
	require.NoError(t, err)
	return string(data)
}

func testApp() allocator.App {
	return allocator.App{Name: "initproc", Source: "src/bin/initproc.rs", Index: 1, Base: 0x80420000}
}

func TestShellActionEnvironment(t *testing.T) {
	f := newFixture(t)
	action := f.action(t, `echo "$APP_NAME $APP_INDEX $APP_BASE_ADDRESS $APP_SOURCE $EXTRA" > "$OUT"`)
	action.Env["EXTRA"] = "extra"
	action.Env[EnvAppName] = "ignored"

	script, err := allocator.LoadScript(f.linker)
	require.NoError(t, err)

	err = action.Build(context.Background(), testApp(), script.Patch(0x80400000, 0x80420000))
	require.NoError(t, err)
	assert.Equal(t, "initproc 1 0x80420000 src/bin/initproc.rs extra\n", f.output(t))
}

func TestShellActionInPlace(t *testing.T) {
	f := newFixture(t)
	guard, err := linkscript.Acquire(f.linker)
	require.NoError(t, err)
	defer guard.Release()

	action := f.action(t, `read -r line < "$LINKER_SCRIPT"; echo "$LINKER_SCRIPT $line" > "$OUT"`)
	action.Guard = guard

	err = action.Build(context.Background(), testApp(), guard.Script().Patch(0x80400000, 0x80420000))
	require.NoError(t, err)

	assert.Equal(t, f.linker+" BASE_ADDRESS = 0x80420000;\n", f.output(t))

	data, err := os.ReadFile(f.linker)
	require.NoError(t, err)
	assert.Equal(t, linker, string(data))
}

func TestShellActionRestoresAfterFailure(t *testing.T) {
	f := newFixture(t)
	guard, err := linkscript.Acquire(f.linker)
	require.NoError(t, err)
	defer guard.Release()

	action := f.action(t, `echo started > "$OUT"; exit 3; echo unreachable > "$OUT"`)
	action.Guard = guard

	err = action.Build(context.Background(), testApp(), guard.Script().Patch(0x80400000, 0x80420000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build command failed for initproc")
	assert.Equal(t, "started\n", f.output(t))

	data, err := os.ReadFile(f.linker)
	require.NoError(t, err)
	assert.Equal(t, linker, string(data))
}

func TestShellActionIsolated(t *testing.T) {
	f := newFixture(t)
	action := f.action(t, `read -r line < "$LINKER_SCRIPT"; echo "$line" > "$OUT"; echo "$LINKER_SCRIPT" >> "$OUT"`)

	script, err := allocator.LoadScript(f.linker)
	require.NoError(t, err)

	err = action.Build(context.Background(), testApp(), script.Patch(0x80400000, 0x80420000))
	require.NoError(t, err)

	out := f.output(t)
	assert.Contains(t, out, "BASE_ADDRESS = 0x80420000;\n")
	assert.NotContains(t, out, f.linker+"\n")

	data, err := os.ReadFile(f.linker)
	require.NoError(t, err)
	assert.Equal(t, linker, string(data))

	// the temporary script is gone
	matches, err := filepath.Glob(filepath.Join(f.dir, "linker-*.ld"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestShellActionDryRun(t *testing.T) {
	f := newFixture(t)
	guard, err := linkscript.Acquire(f.linker)
	require.NoError(t, err)
	defer guard.Release()

	action := f.action(t, `echo built > "$OUT"`)
	action.Guard = guard
	action.DryRun = true

	err = action.Build(context.Background(), testApp(), guard.Script().Patch(0x80400000, 0x80420000))
	require.NoError(t, err)
	assert.NoFileExists(t, f.out)
	assert.NoFileExists(t, linkscript.BackupPath(f.linker))
}

func TestShellActionCancelled(t *testing.T) {
	f := newFixture(t)
	action := f.action(t, `echo built > "$OUT"`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	script, err := allocator.LoadScript(f.linker)
	require.NoError(t, err)

	err = action.Build(ctx, testApp(), script)
	require.Error(t, err)
	assert.True(t, eris.Is(err, context.Canceled))
	assert.NoFileExists(t, f.out)
}

func TestShellActionTimeout(t *testing.T) {
	f := newFixture(t)
	action := f.action(t, `while true; do :; done`)
	action.Timeout = 50 * time.Millisecond

	script, err := allocator.LoadScript(f.linker)
	require.NoError(t, err)

	err = action.Build(context.Background(), testApp(), script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was stopped")
}

func TestNewShellActionRejectsBadCommands(t *testing.T) {
	_, err := NewShellAction("   ")
	assert.Error(t, err)

	_, err = NewShellAction(`cargo build --bin "$APP_NAME`)
	assert.Error(t, err)
}

func TestShellActionTimeoutRestoresScript(t *testing.T) {
	f := newFixture(t)
	guard, err := linkscript.Acquire(f.linker)
	require.NoError(t, err)
	defer guard.Release()

	action := f.action(t, `while true; do :; done`)
	action.Guard = guard
	action.Timeout = 50 * time.Millisecond

	err = action.Build(context.Background(), testApp(), guard.Script().Patch(0x80400000, 0x80420000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was stopped")
	assert.True(t, eris.Is(err, context.DeadlineExceeded))

	data, err := os.ReadFile(f.linker)
	require.NoError(t, err)
	assert.Equal(t, linker, string(data))
}
