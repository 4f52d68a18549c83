//go:build !windows

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func replaceFile(tmpPath, finalPath string) error {
	if err := unix.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("replace %s: %w", finalPath, err)
	}
	syncDir(filepath.Dir(finalPath))
	return nil
}

// syncDir makes the rename durable; failures are ignored since the data
// itself was already synced.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = unix.Fsync(int(d.Fd()))
	_ = d.Close()
}
