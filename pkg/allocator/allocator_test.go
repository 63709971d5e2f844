package allocator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLinker = `OUTPUT_ARCH(riscv)
ENTRY(_start)

BASE_ADDRESS = 0x80400000;

SECTIONS
{
    . = BASE_ADDRESS;
    .text : { *(.text.entry) *(.text .text.*) }
}
`

type build struct {
	name string
	base Address
	text string
}

type recorder struct {
	builds []build
	fail   map[string]bool
}

func (r *recorder) Build(ctx context.Context, app App, script Script) error {
	r.builds = append(r.builds, build{name: app.Name, base: app.Base, text: script.Text()})
	if r.fail[app.Name] {
		return eris.Errorf("exit status 101")
	}

	return nil
}

func writeApps(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("fn main() {}\n"), 0644))
	}

	return dir
}

func newAllocator(t *testing.T, rec *recorder, names ...string) (*Allocator, *bytes.Buffer) {
	t.Helper()
	apps, err := DiscoverApps(writeApps(t, names...), "rs")
	require.NoError(t, err)

	plan, err := NewPlan(apps, 0x80400000, 0x20000)
	require.NoError(t, err)

	out := new(bytes.Buffer)
	return &Allocator{
		Plan:   plan,
		Script: NewScript("src/linker.ld", testLinker),
		Action: rec,
		Out:    out,
	}, out
}

func TestRunAssignsSequentialAddresses(t *testing.T) {
	rec := &recorder{}
	alloc, out := newAllocator(t, rec, "b.rs", "a.rs", "c.rs")

	result, err := alloc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)
	require.Len(t, rec.builds, 3)

	expected := []build{
		{name: "a", base: 0x80400000},
		{name: "b", base: 0x80420000},
		{name: "c", base: 0x80440000},
	}
	for idx, want := range expected {
		got := rec.builds[idx]
		assert.Equal(t, want.name, got.name)
		assert.Equal(t, want.base, got.base)
		assert.Contains(t, got.text, "BASE_ADDRESS = "+want.base.String()+";")
	}

	assert.Equal(t, "[builder] set base address of a as 0x80400000\n"+
		"[builder] set base address of b as 0x80420000\n"+
		"[builder] set base address of c as 0x80440000\n", out.String())
}

func TestRunLeavesScriptUntouched(t *testing.T) {
	rec := &recorder{}
	alloc, _ := newAllocator(t, rec, "a.rs", "b.rs")

	_, err := alloc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testLinker, alloc.Script.Text())
	// every build starts from the pristine text, not the previous patch
	assert.NotContains(t, rec.builds[1].text, "0x80400000")
}

func TestRunAbortsOnFailure(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"b": true}}
	alloc, _ := newAllocator(t, rec, "a.rs", "b.rs", "c.rs")

	result, err := alloc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to build b")
	assert.Len(t, rec.builds, 2)
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, "b", result.Failed()[0].App.Name)
}

func TestRunKeepGoing(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"a": true, "c": true}}
	alloc, out := newAllocator(t, rec, "a.rs", "b.rs", "c.rs")
	alloc.KeepGoing = true

	progress := 0
	alloc.Progress = func(Outcome) { progress++ }

	result, err := alloc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 builds failed: a, c")
	assert.Len(t, rec.builds, 3)
	assert.Len(t, result.Outcomes, 3)
	assert.Equal(t, 3, progress)
	assert.Contains(t, out.String(), "set base address of c as 0x80440000")
}

func TestRunStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	alloc, _ := newAllocator(t, &recorder{}, "a.rs", "b.rs")
	alloc.Action = BuildFunc(func(ctx context.Context, app App, script Script) error {
		calls++
		cancel()
		return nil
	})

	_, err := alloc.Run(ctx)
	require.Error(t, err)
	assert.True(t, eris.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestRunWithoutStartLiteral(t *testing.T) {
	rec := &recorder{}
	alloc, _ := newAllocator(t, rec, "a.rs", "b.rs")
	alloc.Script = NewScript("src/linker.ld", "BASE_ADDRESS = 0x80000000;\n")

	_, err := alloc.Run(context.Background())
	require.NoError(t, err)
	for _, b := range rec.builds {
		assert.Equal(t, "BASE_ADDRESS = 0x80000000;\n", b.text)
	}
}

func TestRunEmptyPlan(t *testing.T) {
	rec := &recorder{}
	alloc, out := newAllocator(t, rec)

	result, err := alloc.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes)
	assert.Empty(t, out.String())
}
