//go:build unix

package linkscript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLockIgnoresRemovedInode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linker.ld.lock")

	first, err := lockFile(path)
	require.NoError(t, err)

	// a second process opened the lock file before the first one released it
	stale, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer stale.Close()

	require.NoError(t, first.unlock())
	assert.NoFileExists(t, path)

	// it now holds a lock on the removed inode, which must not count
	require.NoError(t, unix.Flock(int(stale.Fd()), unix.LOCK_EX|unix.LOCK_NB))
	assert.False(t, isCurrent(stale, path))

	second, err := lockFile(path)
	require.NoError(t, err)
	assert.True(t, isCurrent(second.handle, path))

	_, err = lockFile(path)
	assert.True(t, eris.Is(err, ErrLocked), "unexpected error: %v", err)

	require.NoError(t, second.unlock())
}
