package archive

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/sirupsen/logrus"
)

// PatchOptions control how a unified diff is applied to a tree
type PatchOptions struct {
	// Strip is the number of leading path elements removed from file names,
	// as with patch -pN
	Strip int
	// ModTime stamps files created or modified by the patch
	ModTime time.Time
}

// gitHeaderPrefix starts the file header of a git-generated diff
const gitHeaderPrefix = "diff --git "

// ApplyPatch applies a unified or git-style diff to the tree. Hunks whose
// context has moved are applied at the nearest position matching exactly,
// as patch -F0 does; no fuzz is attempted.
func (t *Tree) ApplyPatch(patch []byte, opts PatchOptions) error {
	files, _, err := gitdiff.Parse(bytes.NewReader(patch))
	if err != nil {
		return fmt.Errorf("failed to parse patch: %w", err)
	}

	gitNames := gitHeaderNames(patch)
	for _, f := range files {
		// Git headers already drop the a/ and b/ prefixes
		strip := opts.Strip
		if strip > 0 && gitNames.has(f) {
			strip--
		}
		if err := t.applyFile(f, strip, opts.ModTime); err != nil {
			return err
		}
	}
	return nil
}

// gitHeaders holds the file header lines of a patch that gitdiff parses as
// git headers, which are the lines starting with "diff --git "
type gitHeaders []string

func gitHeaderNames(patch []byte) gitHeaders {
	var headers gitHeaders
	for _, line := range strings.Split(string(patch), "\n") {
		if strings.HasPrefix(line, gitHeaderPrefix) {
			headers = append(headers, strings.TrimSuffix(line, "\r"))
		}
	}
	return headers
}

// has reports whether f was parsed from a git header. Names parsed from a
// git header have their a/ and b/ prefixes removed, so the header ends in
// "/<name>"; traditional headers keep the prefix.
func (h gitHeaders) has(f *gitdiff.File) bool {
	name := f.NewName
	if name == "" {
		name = f.OldName
	}
	if name == "" {
		return false
	}
	for _, line := range h {
		if strings.HasSuffix(line, "/"+name) {
			return true
		}
	}
	return false
}

// locateFragments moves each text fragment of f to the nearest line where
// its context and removed lines match src exactly. Fragments keep their
// order and never overlap; a fragment matching nowhere is left in place for
// gitdiff to report the conflict.
func locateFragments(f *gitdiff.File, src []byte) {
	if len(f.TextFragments) == 0 || f.IsNew {
		return
	}
	lines := splitLines(src)

	frags := make([]*gitdiff.TextFragment, len(f.TextFragments))
	copy(frags, f.TextFragments)
	sort.SliceStable(frags, func(i, j int) bool {
		return frags[i].OldPosition < frags[j].OldPosition
	})

	var floor int64
	for _, frag := range frags {
		if frag.OldLines == 0 || frag.OldPosition == 0 {
			continue
		}
		want := frag.OldPosition - 1
		if at, ok := findFragment(lines, frag, want, floor); ok && at != want {
			delta := at - want
			logrus.Debugf("Hunk %s applied with offset %d", frag.Header(), delta)
			frag.OldPosition += delta
			if frag.NewPosition > 0 {
				frag.NewPosition += delta
			}
		}
		floor = frag.OldPosition - 1 + frag.OldLines
	}
}

// findFragment searches outward from want for the first line index at or
// after floor where frag matches, preferring later positions on ties
func findFragment(lines []string, frag *gitdiff.TextFragment, want, floor int64) (int64, bool) {
	var old []string
	for _, l := range frag.Lines {
		if l.Old() {
			old = append(old, l.Line)
		}
	}
	last := int64(len(lines)) - int64(len(old))
	if last < floor {
		return 0, false
	}

	matches := func(at int64) bool {
		if at < floor || at > last {
			return false
		}
		for i, l := range old {
			if lines[at+int64(i)] != l {
				return false
			}
		}
		return true
	}

	for offset := int64(0); want+offset <= last || want-offset >= floor; offset++ {
		if matches(want + offset) {
			return want + offset, true
		}
		if offset > 0 && matches(want-offset) {
			return want - offset, true
		}
	}
	return 0, false
}

// splitLines splits data into lines that keep their line terminator
func splitLines(data []byte) []string {
	var lines []string
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			lines = append(lines, string(data))
			break
		}
		lines = append(lines, string(data[:i+1]))
		data = data[i+1:]
	}
	return lines
}

func (t *Tree) applyFile(f *gitdiff.File, strip int, modTime time.Time) error {
	oldName := stripPatchName(f.OldName, strip)
	newName := stripPatchName(f.NewName, strip)
	if newName == "" {
		newName = oldName
	}
	if oldName == "" {
		oldName = newName
	}
	if newName == "" {
		return fmt.Errorf("patch entry without file name")
	}
	if _, err := Clean(newName); err != nil {
		return err
	}
	if _, err := Clean(oldName); err != nil {
		return err
	}

	if f.IsDelete {
		logrus.Debugf("Patch deletes %s", oldName)
		if err := t.Remove(oldName); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", oldName, err)
		}
		return nil
	}

	var src []byte
	if !f.IsNew {
		data, err := t.ReadFile(oldName)
		if err != nil {
			return fmt.Errorf("patch target %s: %w", oldName, err)
		}
		src = data
	}
	locateFragments(f, src)

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(src), f); err != nil {
		return fmt.Errorf("failed to patch %s: %w", newName, err)
	}

	mode := os.FileMode(0644)
	if existing, ok := t.Mode(oldName); ok && !f.IsNew {
		mode = existing
	}
	if f.NewMode != 0 {
		mode = f.NewMode.Perm()
	}

	if err := t.WriteFile(newName, out.Bytes(), mode, modTime); err != nil {
		return err
	}
	if f.IsRename && oldName != newName {
		if err := t.Remove(oldName); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// stripPatchName removes n leading elements from a patch file name
func stripPatchName(name string, n int) string {
	if name == "" || name == "/dev/null" {
		return ""
	}
	name = strings.TrimPrefix(name, "/")
	return StripComponents(name, n)
}
