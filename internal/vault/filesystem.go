package vault

import (
	"errors"
	"os"
	"syscall"
)

// copyFile copies srcPath to destPath. Used as the fallback when a rename
// across filesystems is not possible.
func copyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = destFile.ReadFrom(srcFile)
	return err
}

// moveFile renames srcPath to destPath, falling back to copy-then-remove when
// the two paths live on different filesystems. The rename path is atomic with
// respect to concurrent readers; the copy fallback is not, which is accepted
// for cross-device staging directories.
func moveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
		if copyErr := copyFile(srcPath, destPath); copyErr != nil {
			return copyErr
		}
		if rmErr := os.Remove(srcPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return rmErr
		}
		return nil
	}

	return err
}
