// Package purl converts between Debian package URLs and packages.
package purl

import (
	"errors"
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
	"github.com/ralt/debrepack/internal/models"
)

// ArchQualifier is the purl qualifier carrying the Debian architecture
const ArchQualifier = "arch"

// ErrNotDebian is returned for well-formed purls of a foreign type
var ErrNotDebian = errors.New("not a Debian package URL")

// IsDebian reports whether s looks like a Debian purl
func IsDebian(s string) bool {
	return strings.HasPrefix(s, "pkg:"+packageurl.TypeDebian+"/")
}

// FromPackage renders the canonical purl of a package
func FromPackage(p models.Package) string {
	ns := p.Namespace
	if ns == "" {
		ns = models.DefaultNamespace
	}
	qualifiers := packageurl.QualifiersFromMap(map[string]string{
		ArchQualifier: p.Architecture,
	})
	return packageurl.NewPackageURL(packageurl.TypeDebian, ns, p.Name, p.Version, qualifiers, "").ToString()
}

// Parse parses a Debian purl into a package. The architecture qualifier is
// required since it distinguishes source from binary packages.
func Parse(s string) (models.Package, error) {
	u, err := packageurl.FromString(s)
	if err != nil {
		return models.Package{}, fmt.Errorf("invalid purl %q: %w", s, err)
	}
	if u.Type != packageurl.TypeDebian {
		return models.Package{}, fmt.Errorf("%q: %w", s, ErrNotDebian)
	}
	if u.Name == "" || u.Version == "" {
		return models.Package{}, fmt.Errorf("purl %q lacks name or version", s)
	}

	arch := u.Qualifiers.Map()[ArchQualifier]
	if arch == "" {
		return models.Package{}, fmt.Errorf("purl %q lacks the %s qualifier", s, ArchQualifier)
	}

	return models.Package{
		Identity: models.Identity{
			Name:         u.Name,
			Version:      u.Version,
			Architecture: arch,
		},
		Namespace: u.Namespace,
	}, nil
}

// IdentityOf returns the identity encoded in a Debian purl
func IdentityOf(s string) (models.Identity, bool) {
	if !IsDebian(s) {
		return models.Identity{}, false
	}
	p, err := Parse(s)
	if err != nil {
		return models.Identity{}, false
	}
	return p.Identity, true
}
