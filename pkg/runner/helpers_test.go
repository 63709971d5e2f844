package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/appbase/pkg/allocator"
)

func runHelpers(t *testing.T, f fixture, command string) (*ShellAction, error) {
	t.Helper()
	action := f.action(t, command)
	script, err := allocator.LoadScript(f.linker)
	require.NoError(t, err)

	return action, action.Build(context.Background(), testApp(), script)
}

func TestHelpers(t *testing.T) {
	f := newFixture(t)
	_, err := runHelpers(t, f, `
mkdir -p images/nested
echo "$APP_NAME" > images/nested/image
cp images/nested/image images/copy
mv images/copy images/"$APP_NAME"
cp -r images/nested archive
rm -r images/nested
rm -f does-not-exist
`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "images", "initproc"))
	require.NoError(t, err)
	assert.Equal(t, "initproc\n", string(data))

	data, err = os.ReadFile(filepath.Join(f.dir, "archive", "image"))
	require.NoError(t, err)
	assert.Equal(t, "initproc\n", string(data))

	assert.NoDirExists(t, filepath.Join(f.dir, "images", "nested"))
	assert.NoFileExists(t, filepath.Join(f.dir, "images", "copy"))
}

func TestHelperMoveIntoDirectory(t *testing.T) {
	f := newFixture(t)
	_, err := runHelpers(t, f, `mkdir out && echo a > a.bin && echo b > b.bin && mv a.bin b.bin out`)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(f.dir, "out", "a.bin"))
	assert.FileExists(t, filepath.Join(f.dir, "out", "b.bin"))
}

func TestHelperErrors(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{name: "rm missing", command: "rm missing"},
		{name: "rm directory", command: "mkdir dir && rm dir"},
		{name: "mkdir twice", command: "mkdir dir && mkdir dir"},
		{name: "mv one argument", command: "mv linker.ld"},
		{name: "cp directory", command: "mkdir dir && cp dir copy"},
		{name: "cp into missing dir", command: "echo a > a && echo b > b && cp a b nowhere"},
		{name: "unknown flag", command: "mkdir --banana dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := runHelpers(t, newFixture(t), tt.command)
			assert.Error(t, err)
			assert.NotEmpty(t, action.Stderr.(interface{ String() string }).String())
		})
	}
}
