// Package linkscript owns the shared linker script while applications are built against patched copies of it.
//
// A Guard holds an exclusive lock next to the script for the whole run. Before the first in-place write it stores
// the pristine text in a backup file so an interrupted run (SIGKILL, power loss) can be repaired with Recover.
package linkscript

import (
	"os"

	"github.com/rotisserie/eris"

	"github.com/ngld/appbase/pkg/allocator"
)

const (
	backupSuffix = ".appbase-orig"
	lockSuffix   = ".lock"
)

var (
	// ErrLocked is returned if another run holds the lock on the linker script.
	ErrLocked = eris.New("linker script is locked by another run")
	// ErrInterrupted is returned if a backup of an earlier, interrupted run still exists.
	ErrInterrupted = eris.New("a previous run was interrupted")
)

// BackupPath returns the location of the crash backup for the script at path.
func BackupPath(path string) string {
	return path + backupSuffix
}

// Guard protects a linker script for the duration of a run.
type Guard struct {
	path     string
	original allocator.Script
	lock     *fileLock
	backedUp bool
	dirty    bool
}

// Acquire locks the script at path and reads its current content.
func Acquire(path string) (*Guard, error) {
	lock, err := lockFile(path + lockSuffix)
	if err != nil {
		return nil, err
	}

	backup := BackupPath(path)
	_, err = os.Stat(backup)
	if err == nil {
		lock.unlock()
		return nil, eris.Wrapf(ErrInterrupted, "found %s, run \"appbase restore\" first", backup)
	}

	if !eris.Is(err, os.ErrNotExist) {
		lock.unlock()
		return nil, eris.Wrapf(err, "Failed to check %s", backup)
	}

	script, err := allocator.LoadScript(path)
	if err != nil {
		lock.unlock()
		return nil, err
	}

	return &Guard{
		path:     path,
		original: script,
		lock:     lock,
	}, nil
}

// Script returns the text the script had when the guard was acquired.
func (g *Guard) Script() allocator.Script {
	return g.original
}

func (g *Guard) Path() string {
	return g.path
}

// Apply writes script over the shared file. The returned function writes the original text back and has to be
// called once the build that needs the patched file is done, regardless of its outcome.
func (g *Guard) Apply(script allocator.Script) (func() error, error) {
	if g.lock == nil {
		return nil, eris.New("guard has already been released")
	}

	if !g.backedUp {
		err := writeFileSync(BackupPath(g.path), g.original.Bytes())
		if err != nil {
			return nil, eris.Wrap(err, "Failed to back up the linker script")
		}
		g.backedUp = true
	}

	g.dirty = true
	err := writeFileSync(g.path, script.Bytes())
	if err != nil {
		if rErr := g.restore(); rErr != nil {
			return nil, eris.Wrapf(err, "Failed to patch %s (restore failed as well: %s)", g.path, rErr)
		}
		return nil, eris.Wrapf(err, "Failed to patch %s", g.path)
	}

	return g.restore, nil
}

func (g *Guard) restore() error {
	if !g.dirty {
		return nil
	}

	err := writeFileSync(g.path, g.original.Bytes())
	if err != nil {
		return eris.Wrapf(err, "Failed to restore %s", g.path)
	}

	g.dirty = false
	return nil
}

// Release restores the original text if necessary, removes the backup and drops the lock. The backup is kept if
// the restore fails.
func (g *Guard) Release() error {
	if g.lock == nil {
		return nil
	}

	err := g.restore()
	if err == nil && g.backedUp {
		err = os.Remove(BackupPath(g.path))
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			err = eris.Wrap(err, "Failed to remove the linker script backup")
		} else {
			err = nil
			g.backedUp = false
		}
	}

	lErr := g.lock.unlock()
	g.lock = nil
	if err != nil {
		return err
	}

	return lErr
}

// Recover restores the script at path from the backup left by an interrupted run. It reports whether a backup was
// found.
func Recover(path string) (bool, error) {
	lock, err := lockFile(path + lockSuffix)
	if err != nil {
		return false, err
	}
	defer lock.unlock()

	backup := BackupPath(path)
	data, err := os.ReadFile(backup)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, eris.Wrapf(err, "Failed to read %s", backup)
	}

	err = writeFileSync(path, data)
	if err != nil {
		return true, eris.Wrapf(err, "Failed to restore %s", path)
	}

	err = os.Remove(backup)
	if err != nil {
		return true, eris.Wrapf(err, "Failed to remove %s", backup)
	}

	return true, nil
}

func writeFileSync(path string, data []byte) error {
	handle, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	_, err = handle.Write(data)
	if err != nil {
		handle.Close()
		return err
	}

	err = handle.Sync()
	if err != nil {
		handle.Close()
		return err
	}

	return handle.Close()
}
