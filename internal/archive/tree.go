package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralt/debrepack/internal/utils"
	"github.com/sirupsen/logrus"
)

// ErrUnsafePath is returned for entries escaping the tree
var ErrUnsafePath = errors.New("unsafe path")

// entryMeta holds the attributes recorded for a tree entry
type entryMeta struct {
	mode    os.FileMode
	modTime time.Time
}

// Tree is an unpacked source tree on disk. Entry modes and timestamps are
// tracked separately from the filesystem so archives written from the tree
// do not depend on the umask or on when the tree was unpacked.
type Tree struct {
	root   string
	meta   map[string]entryMeta
	newest time.Time
}

// NewTree creates a tree rooted at dir, which must exist
func NewTree(dir string) *Tree {
	return &Tree{root: dir, meta: make(map[string]entryMeta)}
}

// Root returns the directory holding the tree
func (t *Tree) Root() string {
	return t.root
}

// record stores attributes for a tree-relative path
func (t *Tree) record(rel string, mode os.FileMode, modTime time.Time) {
	t.meta[rel] = entryMeta{mode: mode, modTime: modTime}
	if modTime.After(t.newest) {
		t.newest = modTime
	}
}

// Stamp returns the known timestamp of rel, falling back to the newest
// timestamp in the tree
func (t *Tree) Stamp(rel string) time.Time {
	if m, ok := t.meta[rel]; ok && !m.modTime.IsZero() {
		return m.modTime
	}
	return t.newest
}

// Mode returns the recorded permission bits of rel
func (t *Tree) Mode(rel string) (os.FileMode, bool) {
	m, ok := t.meta[rel]
	return m.mode, ok
}

// Clean validates a tree-relative slash path and returns it normalized
func Clean(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	for _, elem := range strings.Split(name, "/") {
		if elem == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
	}
	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

// StripComponents removes n leading path elements, returning "" when
// nothing remains
func StripComponents(name string, n int) string {
	name = strings.TrimPrefix(name, "./")
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(name, '/')
		if idx < 0 {
			return ""
		}
		name = name[idx+1:]
	}
	return name
}

// Path maps a tree-relative path to the filesystem, refusing paths whose
// parents are symbolic links so nothing is written outside the tree
func (t *Tree) Path(rel string) (string, error) {
	rel, err := Clean(rel)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return t.root, nil
	}

	elems := strings.Split(rel, "/")
	cur := t.root
	for _, elem := range elems[:len(elems)-1] {
		cur = filepath.Join(cur, elem)
		info, err := os.Lstat(cur)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return "", err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: %q traverses symlink %q", ErrUnsafePath, rel, elem)
		}
	}
	return filepath.Join(t.root, filepath.FromSlash(rel)), nil
}

// ReadFile returns the content of a regular file in the tree
func (t *Tree) ReadFile(rel string) ([]byte, error) {
	p, err := t.Path(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Exists reports whether rel is present in the tree
func (t *Tree) Exists(rel string) bool {
	p, err := t.Path(rel)
	if err != nil {
		return false
	}
	_, err = os.Lstat(p)
	return err == nil
}

// WriteFile creates or replaces a regular file, creating parents as needed
func (t *Tree) WriteFile(rel string, data []byte, mode os.FileMode, modTime time.Time) error {
	p, err := t.Path(rel)
	if err != nil {
		return err
	}
	if err := t.mkdirParents(rel, modTime); err != nil {
		return err
	}
	if info, err := os.Lstat(p); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(p); err != nil {
			return err
		}
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return err
	}
	t.record(path.Clean(rel), mode.Perm(), modTime)
	return nil
}

// Remove deletes a file from the tree
func (t *Tree) Remove(rel string) error {
	p, err := t.Path(rel)
	if err != nil {
		return err
	}
	delete(t.meta, path.Clean(rel))
	return os.Remove(p)
}

// RemoveAll deletes rel and everything below it. A missing path is not an
// error.
func (t *Tree) RemoveAll(rel string) error {
	p, err := t.Path(rel)
	if err != nil {
		return err
	}
	rel = path.Clean(rel)
	for name := range t.meta {
		if name == rel || strings.HasPrefix(name, rel+"/") {
			delete(t.meta, name)
		}
	}
	return os.RemoveAll(p)
}

// mkdirParents creates missing parent directories of rel, recording them
// with modTime
func (t *Tree) mkdirParents(rel string, modTime time.Time) error {
	dir := path.Dir(path.Clean(rel))
	if dir == "." {
		return nil
	}

	var missing []string
	for d := dir; d != "."; d = path.Dir(d) {
		if _, ok := t.meta[d]; ok {
			break
		}
		missing = append(missing, d)
	}
	p, err := t.Path(dir + "/x")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	for _, d := range missing {
		if _, ok := t.meta[d]; !ok {
			t.record(d, 0755, modTime)
		}
	}
	return nil
}

// ExtractOptions control how a tarball is unpacked into a tree
type ExtractOptions struct {
	// Dest is the tree-relative directory receiving the entries
	Dest string
	// Strip is the number of leading path elements removed from entries
	Strip int
}

// ExtractFile unpacks a (possibly compressed) tarball file into the tree
func (t *Tree) ExtractFile(tarball string, opts ExtractOptions) error {
	f, err := os.Open(tarball)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := t.Extract(f, opts); err != nil {
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(tarball), err)
	}
	return nil
}

// TopDirStrip returns the number of leading path elements to strip from a
// (possibly compressed) tarball so its content lands at the tree root: 1 when
// every entry lives below a single top-level directory, 0 otherwise.
func TopDirStrip(tarball string) (int, error) {
	f, err := os.Open(tarball)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dr, _, err := utils.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer dr.Close()

	var top string
	tr := tar.NewReader(dr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", filepath.Base(tarball), err)
		}
		if header.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		name := strings.TrimSuffix(strings.TrimPrefix(header.Name, "./"), "/")
		if name == "" || name == "." {
			continue
		}
		first, _, nested := strings.Cut(name, "/")
		if !nested && header.Typeflag != tar.TypeDir {
			// A file at the root
			return 0, nil
		}
		if top == "" {
			top = first
		} else if first != top {
			return 0, nil
		}
	}

	if top == "" {
		return 0, nil
	}
	return 1, nil
}

// Extract unpacks a (possibly compressed) tar stream into the tree
func (t *Tree) Extract(r io.Reader, opts ExtractOptions) error {
	dr, _, err := utils.NewReader(r)
	if err != nil {
		return err
	}
	defer dr.Close()

	var dest string
	if opts.Dest != "" {
		if dest, err = Clean(opts.Dest); err != nil {
			return err
		}
	}

	tr := tar.NewReader(dr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if _, err := Clean(header.Name); err != nil {
			return err
		}
		name := StripComponents(header.Name, opts.Strip)
		if name == "" || path.Clean(name) == "." {
			continue
		}
		rel := path.Join(dest, path.Clean(name))

		if err := t.extractEntry(tr, header, rel, dest, opts.Strip); err != nil {
			return fmt.Errorf("%s: %w", header.Name, err)
		}
	}

	return nil
}

// extractEntry materializes a single tar entry
func (t *Tree) extractEntry(tr *tar.Reader, header *tar.Header, rel, dest string, strip int) error {
	p, err := t.Path(rel)
	if err != nil {
		return err
	}
	modTime := header.ModTime.UTC().Truncate(time.Second)
	mode := os.FileMode(header.Mode).Perm()

	switch header.Typeflag {
	case tar.TypeDir:
		if err := t.mkdirParents(rel, modTime); err != nil {
			return err
		}
		if err := os.MkdirAll(p, 0755); err != nil {
			return err
		}
		t.record(rel, mode, modTime)

	case tar.TypeReg, tar.TypeRegA:
		if err := t.mkdirParents(rel, modTime); err != nil {
			return err
		}
		// Replace whatever was there, links included
		os.Remove(p)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		t.record(rel, mode, modTime)

	case tar.TypeSymlink:
		if err := t.mkdirParents(rel, modTime); err != nil {
			return err
		}
		os.Remove(p)
		if err := os.Symlink(header.Linkname, p); err != nil {
			return err
		}
		t.record(rel, 0777, modTime)

	case tar.TypeLink:
		// Hard links become independent copies of their target
		if _, err := Clean(header.Linkname); err != nil {
			return err
		}
		target := path.Join(dest, StripComponents(header.Linkname, strip))
		data, err := t.ReadFile(target)
		if err != nil {
			return fmt.Errorf("hard link target %q: %w", header.Linkname, err)
		}
		targetMode, _ := t.Mode(target)
		if err := t.WriteFile(rel, data, targetMode, modTime); err != nil {
			return err
		}

	case tar.TypeXGlobalHeader:
		// pax global headers carry no entry

	default:
		logrus.Debugf("Skipping special tar entry %s (type %c)", header.Name, header.Typeflag)
	}

	return nil
}
