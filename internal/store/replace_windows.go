//go:build windows

package store

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func replaceFile(tmpPath, finalPath string) error {
	from, err := windows.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(finalPath)
	if err != nil {
		return err
	}
	if err := windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH); err != nil {
		return fmt.Errorf("replace %s: %w", finalPath, err)
	}
	return nil
}
