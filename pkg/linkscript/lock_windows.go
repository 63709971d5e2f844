//go:build windows

package linkscript

import (
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/windows"
)

type fileLock struct {
	handle *os.File
	ol     *windows.Overlapped
}

func lockFile(path string) (*fileLock, error) {
	handle, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to open lock file %s", path)
	}

	ol := new(windows.Overlapped)
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	err = windows.LockFileEx(windows.Handle(handle.Fd()), flags, 0, 1, 0, ol)
	if err != nil {
		handle.Close()
		if err == windows.ERROR_LOCK_VIOLATION {
			return nil, eris.Wrapf(ErrLocked, "%s", path)
		}
		return nil, eris.Wrapf(err, "Failed to lock %s", path)
	}

	return &fileLock{handle: handle, ol: ol}, nil
}

func (l *fileLock) unlock() error {
	err := windows.UnlockFileEx(windows.Handle(l.handle.Fd()), 0, 1, 0, l.ol)
	cErr := l.handle.Close()
	// open handles prevent deletion on Windows, so this has to happen last
	os.Remove(l.handle.Name())
	if err != nil {
		return eris.Wrapf(err, "Failed to unlock %s", l.handle.Name())
	}

	return cErr
}
