//go:build unix

package linkscript

import (
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

type fileLock struct {
	handle *os.File
}

func lockFile(path string) (*fileLock, error) {
	for {
		handle, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to open lock file %s", path)
		}

		err = unix.Flock(int(handle.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err != nil {
			handle.Close()
			if err == unix.EWOULDBLOCK {
				return nil, eris.Wrapf(ErrLocked, "%s", path)
			}
			return nil, eris.Wrapf(err, "Failed to lock %s", path)
		}

		// the previous owner removes the file on unlock; a lock on that old inode excludes nobody
		if isCurrent(handle, path) {
			return &fileLock{handle: handle}, nil
		}
		handle.Close()
	}
}

// isCurrent reports whether handle still refers to the file at path.
func isCurrent(handle *os.File, path string) bool {
	held, err := handle.Stat()
	if err != nil {
		return false
	}

	current, err := os.Stat(path)
	if err != nil {
		return false
	}

	return os.SameFile(held, current)
}

func (l *fileLock) unlock() error {
	// lockFile retries when it locked a removed inode, so removing before unlocking is safe
	os.Remove(l.handle.Name())

	err := unix.Flock(int(l.handle.Fd()), unix.LOCK_UN)
	cErr := l.handle.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to unlock %s", l.handle.Name())
	}

	return cErr
}
