package debian

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SourceFormat is the value of the Format field of a .dsc
type SourceFormat string

const (
	Format10      SourceFormat = "1.0"
	Format3Quilt  SourceFormat = "3.0 (quilt)"
	Format3Native SourceFormat = "3.0 (native)"
)

// DscFile is a file referenced by a .dsc
type DscFile struct {
	Name   string
	Size   int64
	MD5    string
	SHA256 string
}

// Dsc describes a Debian source package control file
type Dsc struct {
	Source     string
	Version    string
	Format     SourceFormat
	Maintainer string
	Homepage   string
	Files      []DscFile
	Fields     Paragraph
}

// ParseDscFile reads and parses a .dsc file
func ParseDscFile(path string) (*Dsc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dsc, err := ParseDsc(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dsc, nil
}

// ParseDsc parses the content of a .dsc file
func ParseDsc(data []byte) (*Dsc, error) {
	para, err := ParseControl(data)
	if err != nil {
		return nil, err
	}

	dsc := &Dsc{
		Source:     para.Get("Source"),
		Version:    para.Get("Version"),
		Format:     SourceFormat(para.Get("Format")),
		Maintainer: para.Get("Maintainer"),
		Homepage:   para.Get("Homepage"),
		Fields:     para,
	}
	if dsc.Source == "" || dsc.Version == "" {
		return nil, fmt.Errorf("missing Source or Version field")
	}
	if dsc.Format == "" {
		dsc.Format = Format10
	}

	files, err := parseFileList(para.Get("Files"), false)
	if err != nil {
		return nil, fmt.Errorf("invalid Files field: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files listed")
	}

	sha256s, err := parseFileList(para.Get("Checksums-Sha256"), true)
	if err != nil {
		return nil, fmt.Errorf("invalid Checksums-Sha256 field: %w", err)
	}
	bySHA := make(map[string]string, len(sha256s))
	for _, f := range sha256s {
		bySHA[f.Name] = f.SHA256
	}
	for i := range files {
		files[i].SHA256 = bySHA[files[i].Name]
	}

	dsc.Files = files
	return dsc, nil
}

// parseFileList parses "<digest> <size> <name>" lines
func parseFileList(value string, sha bool) ([]DscFile, error) {
	var files []DscFile
	for _, line := range strings.Split(value, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed size in %q", line)
		}
		if strings.ContainsAny(fields[2], "/\\") || fields[2] == ".." {
			return nil, fmt.Errorf("file name %q is not a plain name", fields[2])
		}

		f := DscFile{Name: fields[2], Size: size}
		if sha {
			f.SHA256 = strings.ToLower(fields[0])
		} else {
			f.MD5 = strings.ToLower(fields[0])
		}
		files = append(files, f)
	}
	return files, nil
}

// IsNative reports whether the source package has no upstream tarball
func (d *Dsc) IsNative() bool {
	switch d.Format {
	case Format3Native:
		return true
	case Format3Quilt:
		return false
	default:
		// 1.0 is native when it ships no diff
		return d.DebianDiff() == nil
	}
}

// OrigTarball returns the main upstream tarball
func (d *Dsc) OrigTarball() *DscFile {
	for i := range d.Files {
		if isOrigMain(d.Files[i].Name) {
			return &d.Files[i]
		}
	}
	return nil
}

// OrigComponents returns the additional upstream tarballs keyed by component
func (d *Dsc) OrigComponents() map[string]*DscFile {
	comps := make(map[string]*DscFile)
	for i := range d.Files {
		if comp, ok := origComponent(d.Files[i].Name); ok {
			comps[comp] = &d.Files[i]
		}
	}
	return comps
}

// DebianTarball returns the debian.tar.* of a 3.0 (quilt) package
func (d *Dsc) DebianTarball() *DscFile {
	for i := range d.Files {
		if strings.Contains(d.Files[i].Name, ".debian.tar") {
			return &d.Files[i]
		}
	}
	return nil
}

// DebianDiff returns the .diff.gz of a 1.0 package
func (d *Dsc) DebianDiff() *DscFile {
	for i := range d.Files {
		if strings.HasSuffix(d.Files[i].Name, ".diff.gz") {
			return &d.Files[i]
		}
	}
	return nil
}

// NativeTarball returns the single tarball of a native package
func (d *Dsc) NativeTarball() *DscFile {
	for i := range d.Files {
		name := d.Files[i].Name
		if strings.Contains(name, ".tar") && !strings.Contains(name, ".orig") &&
			!strings.Contains(name, ".debian.tar") && !strings.HasSuffix(name, ".asc") {
			return &d.Files[i]
		}
	}
	return nil
}

// isOrigMain matches <name>_<upstream>.orig.tar.<ext>
func isOrigMain(name string) bool {
	return strings.Contains(name, ".orig.tar") && !strings.HasSuffix(name, ".asc")
}

// origComponent matches <name>_<upstream>.orig-<component>.tar.<ext>
func origComponent(name string) (string, bool) {
	i := strings.Index(name, ".orig-")
	if i < 0 || strings.HasSuffix(name, ".asc") {
		return "", false
	}
	rest := name[i+len(".orig-"):]
	j := strings.Index(rest, ".tar")
	if j <= 0 {
		return "", false
	}
	return rest[:j], true
}
