// Package pkgset resolves the package subset of a partial repack run from a
// stream of package records.
package pkgset

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/purl"
	"github.com/sirupsen/logrus"
)

// Set is a set of package identities
type Set map[models.Identity]struct{}

// Add inserts an identity
func (s Set) Add(id models.Identity) {
	s[id] = struct{}{}
}

// Contains reports whether id is a member of the set
func (s Set) Contains(id models.Identity) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of identities in the set
func (s Set) Len() int {
	return len(s)
}

// Intersect returns the packages whose identity is in the set, in input order
func (s Set) Intersect(pkgs []models.Package) []models.Package {
	var out []models.Package
	for _, p := range pkgs {
		if s.Contains(p.Identity) {
			out = append(out, p)
		}
	}
	return out
}

// StreamResolver reads package records, one per line. A record is either a
// Debian purl or a "name version arch" triple as printed by
// dpkg-query -W -f='${Package} ${Version} ${Architecture}\n'.
type StreamResolver struct {
	r io.Reader
}

// NewStreamResolver creates a resolver reading from r
func NewStreamResolver(r io.Reader) *StreamResolver {
	return &StreamResolver{r: r}
}

// Resolve consumes the stream. Any malformed record fails the whole stream.
func (s *StreamResolver) Resolve() (Set, error) {
	set := make(Set)

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id, err := parseRecord(line)
		if err != nil {
			return nil, &models.RepackError{
				Type: models.ErrInputIntegrity,
				Err:  fmt.Errorf("package stream line %d: %w", lineNo, err),
			}
		}
		logrus.Debugf("Subset package: %s", id)
		set.Add(id)
	}
	if err := scanner.Err(); err != nil {
		return nil, &models.RepackError{
			Type: models.ErrInputIntegrity,
			Err:  fmt.Errorf("failed to read package stream: %w", err),
		}
	}

	return set, nil
}

// parseRecord parses a single non-empty record
func parseRecord(line string) (models.Identity, error) {
	if strings.HasPrefix(line, "pkg:") {
		p, err := purl.Parse(line)
		if err != nil {
			return models.Identity{}, err
		}
		return p.Identity, nil
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return models.Identity{}, fmt.Errorf("expected purl or \"name version arch\", got %q", line)
	}

	// Multiarch qualified names (libc6:amd64) carry a redundant arch suffix
	name, nameArch, qualified := strings.Cut(fields[0], ":")
	if qualified && nameArch != fields[2] {
		return models.Identity{}, fmt.Errorf("architecture mismatch in %q", line)
	}
	if name == "" {
		return models.Identity{}, fmt.Errorf("empty package name in %q", line)
	}

	return models.Identity{
		Name:         name,
		Version:      fields[1],
		Architecture: fields[2],
	}, nil
}
