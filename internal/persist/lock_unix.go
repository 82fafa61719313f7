//go:build unix

package persist

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive advisory lock so writers in different processes
// do not interleave. Non-OS filesystems need no lock.
func lockFile(fs afero.Fs, path string) (func(), error) {
	if _, ok := fs.(*afero.OsFs); !ok {
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
