package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ralt/debrepack/internal/models"
)

// CopyFile copies a file from src to dst
func CopyFile(src, dst string) error {
	// Create destination directory if it doesn't exist
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	return WriteFileAtomic(dst, 0644, func(w io.Writer) error {
		_, err := io.Copy(w, srcFile)
		return err
	})
}

// WriteFile writes data to a file, creating directories as needed
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return WriteFileAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteFileAtomic writes a file through a temporary sibling that is renamed
// into place once fill succeeds, so readers never observe partial content.
func WriteFileAtomic(path string, perm os.FileMode, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	// Sync to disk
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// EnsureDir ensures a directory exists, creating it if necessary
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// NeedsCopy reports whether dst must be (re)written to hold the content of
// src. An existing regular file of the same size and SHA-256 is kept.
func NeedsCopy(src, dst string) (bool, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, fmt.Errorf("cannot stat source: %w", err)
	}

	dstInfo, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("cannot stat destination: %w", err)
	}

	// Links and other special files are replaced
	if !dstInfo.Mode().IsRegular() {
		return true, nil
	}

	// Different sizes = need copy
	if srcInfo.Size() != dstInfo.Size() {
		return true, nil
	}

	// Same size - compare checksums
	algs := []models.Algorithm{models.SHA256}
	srcSums, _, err := CalculateChecksums(src, algs)
	if err != nil {
		return false, err
	}
	dstSums, _, err := CalculateChecksums(dst, algs)
	if err != nil {
		// Can't calculate checksums, copy to be safe
		return true, nil
	}
	return srcSums[models.SHA256] != dstSums[models.SHA256], nil
}

// PlaceFile makes src available at dst, either as a relative symbolic link or
// as a physical copy. A copy is stamped with mtime when it is non-nil. An
// existing entry at dst is replaced.
func PlaceFile(src, dst string, symlink bool, mtime *time.Time) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}

	if symlink {
		absSrc, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		absDstDir, err := filepath.Abs(filepath.Dir(dst))
		if err != nil {
			return err
		}
		target, err := filepath.Rel(absDstDir, absSrc)
		if err != nil {
			return err
		}

		if current, err := os.Readlink(dst); err == nil && current == target {
			return nil
		}
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Symlink(target, dst)
	}

	needsCopy, err := NeedsCopy(src, dst)
	if err != nil {
		return err
	}
	if needsCopy {
		// Never write through a link pointing back into the source tree
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := CopyFile(src, dst); err != nil {
			return err
		}
	}

	if mtime != nil {
		return os.Chtimes(dst, *mtime, *mtime)
	}
	return nil
}
