package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"
)

// WriteTar writes the tree as an uncompressed tar stream with every entry
// placed below prefix. Entries are emitted in lexical order with root
// ownership so identical trees always produce identical archives.
func (t *Tree) WriteTar(w io.Writer, prefix string, policy MtimePolicy) error {
	tw := tar.NewWriter(w)

	if prefix != "" {
		if err := tw.WriteHeader(t.header(prefix+"/", tar.TypeDir, 0755, "", 0, policy.Stamp(t.newest))); err != nil {
			return err
		}
	}

	err := filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == t.root {
			return nil
		}

		relOS, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relOS)
		name := rel
		if prefix != "" {
			name = path.Join(prefix, rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		mtime := policy.Stamp(t.Stamp(rel))

		switch {
		case d.IsDir():
			return tw.WriteHeader(t.header(name+"/", tar.TypeDir, t.modeOf(rel, info, 0755), "", 0, mtime))

		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return tw.WriteHeader(t.header(name, tar.TypeSymlink, 0777, target, 0, mtime))

		case info.Mode().IsRegular():
			if err := tw.WriteHeader(t.header(name, tar.TypeReg, t.modeOf(rel, info, 0644), "", info.Size(), mtime)); err != nil {
				return err
			}
			return copyInto(tw, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to archive tree: %w", err)
	}

	return tw.Close()
}

// WriteFiles writes the given files flat, at the archive root, as an
// uncompressed tar stream sorted by file name
func WriteFiles(w io.Writer, files []string, policy MtimePolicy) error {
	sorted := append([]string(nil), files...)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})

	tw := tar.NewWriter(w)
	for _, file := range sorted {
		info, err := os.Stat(file)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s is not a regular file", file)
		}

		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     filepath.Base(file),
			Mode:     int64(info.Mode().Perm()),
			Size:     info.Size(),
			ModTime:  policy.Stamp(info.ModTime()),
			Uname:    "root",
			Gname:    "root",
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if err := copyInto(tw, file); err != nil {
			return err
		}
	}

	return tw.Close()
}

func (t *Tree) header(name string, typ byte, mode os.FileMode, link string, size int64, mtime time.Time) *tar.Header {
	if mtime.IsZero() {
		mtime = time.Unix(0, 0).UTC()
	}
	return &tar.Header{
		Typeflag: typ,
		Name:     name,
		Linkname: link,
		Mode:     int64(mode.Perm()),
		Size:     size,
		ModTime:  mtime,
		Uname:    "root",
		Gname:    "root",
	}
}

// modeOf returns the recorded mode of rel, falling back to def with the
// execute bits of the file on disk
func (t *Tree) modeOf(rel string, info fs.FileInfo, def os.FileMode) os.FileMode {
	if mode, ok := t.Mode(rel); ok {
		return mode
	}
	if info.Mode()&0111 != 0 {
		return def | 0111
	}
	return def
}

func copyInto(w io.Writer, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}
