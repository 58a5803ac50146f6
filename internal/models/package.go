package models

import (
	"fmt"
	"sort"
	"strings"
)

// SourceArch is the reserved architecture of Debian source packages
const SourceArch = "source"

// DefaultNamespace is the purl namespace used when a package carries none
const DefaultNamespace = "debian"

// Identity is the key of a package for set membership and document lookup
type Identity struct {
	Name         string
	Version      string
	Architecture string
}

// String returns the identity in name@version?arch=arch form
func (i Identity) String() string {
	return fmt.Sprintf("%s@%s?arch=%s", i.Name, i.Version, i.Architecture)
}

// IsSource reports whether the identity denotes a source package
func (i Identity) IsSource() bool {
	return i.Architecture == SourceArch
}

// Algorithm names a checksum algorithm
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Algorithms lists every supported checksum algorithm
var Algorithms = []Algorithm{MD5, SHA1, SHA256, SHA512}

// ParseAlgorithm parses a checksum algorithm name
func ParseAlgorithm(s string) (Algorithm, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	for _, a := range Algorithms {
		if string(a) == norm {
			return a, nil
		}
	}
	return "", fmt.Errorf("unsupported checksum algorithm: %q", s)
}

// Checksums maps checksum algorithms to hex digests
type Checksums map[Algorithm]string

// Sorted returns the algorithms present in a stable order
func (c Checksums) Sorted() []Algorithm {
	algs := make([]Algorithm, 0, len(c))
	for alg := range c {
		algs = append(algs, alg)
	}
	sort.Slice(algs, func(i, j int) bool { return algs[i] < algs[j] })
	return algs
}

// Package represents a Debian source or binary package of an SBOM
type Package struct {
	Identity

	// Purl namespace, e.g. "debian"
	Namespace string

	// Descriptive metadata
	Maintainer  string
	Homepage    string
	Description string

	// Set by the packer after repacking
	Locator   string
	Checksums Checksums
}

// IsSource reports whether the package is a source package
func (p *Package) IsSource() bool {
	return p.Identity.IsSource()
}

// Summary returns the first line of the description
func (p *Package) Summary() string {
	summary, _, _ := strings.Cut(p.Description, "\n")
	return strings.TrimSpace(summary)
}

// Clone returns a copy that shares no mutable state with p
func (p Package) Clone() Package {
	if p.Checksums != nil {
		sums := make(Checksums, len(p.Checksums))
		for k, v := range p.Checksums {
			sums[k] = v
		}
		p.Checksums = sums
	}
	return p
}
