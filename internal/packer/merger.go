package packer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ralt/debrepack/internal/archive"
	"github.com/ralt/debrepack/internal/debian"
	"github.com/ralt/debrepack/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	seriesPath   = "debian/patches/series"
	patchesDir   = "debian/patches"
	defaultStrip = 1
)

// SourceSet is a parsed .dsc with the local paths of the files it lists
type SourceSet struct {
	Dsc     *debian.Dsc
	DscPath string
	// Files maps the names listed in the .dsc to their downloaded path
	Files map[string]string
}

// paths returns the .dsc followed by every listed file
func (s *SourceSet) paths() []string {
	paths := []string{s.DscPath}
	for _, f := range s.Dsc.Files {
		paths = append(paths, s.Files[f.Name])
	}
	return paths
}

func (s *SourceSet) path(f *debian.DscFile) string {
	return s.Files[f.Name]
}

// SourceMerger turns a source package into a single tarball
type SourceMerger struct {
	Compression utils.Compression
	Mtime       archive.MtimePolicy
}

// Merge writes the merged archive of src to dst. Without patching the
// archive holds the downloaded files as they are; with patching it holds
// the unpacked source tree with every patch applied.
func (m *SourceMerger) Merge(ctx context.Context, src *SourceSet, patched bool, dst string) error {
	err := utils.WriteFileAtomic(dst, 0644, func(w io.Writer) error {
		cw, err := m.Compression.NewWriter(w)
		if err != nil {
			return err
		}
		if patched {
			err = m.writePatched(ctx, src, cw)
		} else {
			err = archive.WriteFiles(cw, src.paths(), m.Mtime)
		}
		if err != nil {
			cw.Close()
			return err
		}
		return cw.Close()
	})
	if err != nil {
		return err
	}

	// Symlinked placements expose the merged file itself
	if t := m.Mtime.Time(); t != nil {
		if err := os.Chtimes(dst, *t, *t); err != nil {
			return err
		}
	}
	return nil
}

func (m *SourceMerger) writePatched(ctx context.Context, src *SourceSet, w io.Writer) error {
	workDir, err := os.MkdirTemp("", "debrepack-"+src.Dsc.Source+"-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	tree := archive.NewTree(workDir)
	if err := m.unpack(ctx, src, tree); err != nil {
		return err
	}

	prefix := fmt.Sprintf("%s-%s", src.Dsc.Source, debian.UpstreamVersion(src.Dsc.Version))
	return tree.WriteTar(w, prefix, m.Mtime)
}

// unpack reproduces the source tree dpkg-source would extract
func (m *SourceMerger) unpack(ctx context.Context, src *SourceSet, tree *archive.Tree) error {
	dsc := src.Dsc

	switch {
	case dsc.Format == debian.Format3Quilt:
		orig := dsc.OrigTarball()
		if orig == nil {
			return fmt.Errorf("%s: no upstream tarball listed", dsc.Format)
		}
		if err := extractUpstream(tree, src.path(orig), ""); err != nil {
			return err
		}

		comps := dsc.OrigComponents()
		names := make([]string, 0, len(comps))
		for name := range comps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := extractUpstream(tree, src.path(comps[name]), name); err != nil {
				return err
			}
		}

		deb := dsc.DebianTarball()
		if deb == nil {
			return fmt.Errorf("%s: no debian tarball listed", dsc.Format)
		}
		// The debian tarball replaces any upstream debian directory
		if err := tree.RemoveAll("debian"); err != nil {
			return err
		}
		if err := tree.ExtractFile(src.path(deb), archive.ExtractOptions{}); err != nil {
			return err
		}
		return m.applySeries(ctx, tree)

	case dsc.Format == debian.Format3Native, dsc.Format == debian.Format10 && dsc.IsNative():
		native := dsc.NativeTarball()
		if native == nil {
			return fmt.Errorf("%s: no tarball listed", dsc.Format)
		}
		return extractUpstream(tree, src.path(native), "")

	case dsc.Format == debian.Format10:
		orig := dsc.OrigTarball()
		if orig == nil {
			return fmt.Errorf("%s: no upstream tarball listed", dsc.Format)
		}
		if err := extractUpstream(tree, src.path(orig), ""); err != nil {
			return err
		}
		return m.applyDiff(tree, src.path(dsc.DebianDiff()))

	default:
		return fmt.Errorf("unsupported source format %q", dsc.Format)
	}
}

// extractUpstream unpacks tarball into dest, dropping its top-level directory
// when it has exactly one
func extractUpstream(tree *archive.Tree, tarball, dest string) error {
	strip, err := archive.TopDirStrip(tarball)
	if err != nil {
		return err
	}
	return tree.ExtractFile(tarball, archive.ExtractOptions{Dest: dest, Strip: strip})
}

// applyDiff applies the compressed Debian diff of a 1.0 package
func (m *SourceMerger) applyDiff(tree *archive.Tree, diffPath string) error {
	f, err := os.Open(diffPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	r, _, err := utils.NewReader(f)
	if err != nil {
		return err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	logrus.Debugf("Applying %s", filepath.Base(diffPath))
	opts := archive.PatchOptions{Strip: defaultStrip, ModTime: m.Mtime.Stamp(info.ModTime())}
	if err := tree.ApplyPatch(data, opts); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(diffPath), err)
	}
	return nil
}

// seriesEntry is one patch listed in a quilt series file
type seriesEntry struct {
	name  string
	strip int
}

// parseSeries parses a quilt series file
func parseSeries(data []byte) ([]seriesEntry, error) {
	var entries []seriesEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		entry := seriesEntry{name: fields[0], strip: defaultStrip}
		for _, opt := range fields[1:] {
			if !strings.HasPrefix(opt, "-p") {
				return nil, fmt.Errorf("series line %d: unsupported option %q", lineNo, opt)
			}
			n, err := strconv.Atoi(strings.TrimPrefix(opt, "-p"))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("series line %d: invalid strip level %q", lineNo, opt)
			}
			entry.strip = n
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// applySeries applies debian/patches/series in order
func (m *SourceMerger) applySeries(ctx context.Context, tree *archive.Tree) error {
	if !tree.Exists(seriesPath) {
		return nil
	}
	data, err := tree.ReadFile(seriesPath)
	if err != nil {
		return err
	}
	entries, err := parseSeries(data)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel := path.Join(patchesDir, entry.name)
		patch, err := tree.ReadFile(rel)
		if err != nil {
			return fmt.Errorf("patch %s: %w", entry.name, err)
		}

		logrus.Debugf("Applying %s (-p%d)", entry.name, entry.strip)
		opts := archive.PatchOptions{Strip: entry.strip, ModTime: m.Mtime.Stamp(tree.Stamp(rel))}
		if err := tree.ApplyPatch(patch, opts); err != nil {
			return fmt.Errorf("patch %s: %w", entry.name, err)
		}
	}
	return nil
}
