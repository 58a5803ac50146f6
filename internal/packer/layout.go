package packer

import (
	"fmt"
	"path"

	"github.com/ralt/debrepack/internal/debian"
	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/utils"
)

// Layout returns the slash-separated path of the archive of id relative to
// the output directory. Sources are stored as tarballs compressed with comp,
// binaries keep their .deb.
func Layout(id models.Identity, comp utils.Compression) string {
	dir := path.Join(id.Name, debian.EscapeVersion(id.Version))
	epochless := debian.StripEpoch(id.Version)

	if id.IsSource() {
		return path.Join(dir, fmt.Sprintf("%s_%s.tar%s", id.Name, epochless, comp.Extension()))
	}
	return path.Join(dir, fmt.Sprintf("%s_%s_%s.deb", id.Name, epochless, id.Architecture))
}

// DscName returns the file name of the .dsc of a source package
func DscName(id models.Identity) string {
	return fmt.Sprintf("%s_%s.dsc", id.Name, debian.StripEpoch(id.Version))
}

// DebName returns the file name of the .deb of a binary package
func DebName(id models.Identity) string {
	return fmt.Sprintf("%s_%s_%s.deb", id.Name, debian.StripEpoch(id.Version), id.Architecture)
}

// mergedName returns the file name of a merged source archive in the merge
// directory
func mergedName(id models.Identity, patched bool, comp utils.Compression) string {
	kind := "merged"
	if patched {
		kind = "patched"
	}
	return fmt.Sprintf("%s_%s.%s.tar%s", id.Name, debian.EscapeVersion(id.Version), kind, comp.Extension())
}
