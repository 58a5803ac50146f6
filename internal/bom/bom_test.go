package bom

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/packer"
	"github.com/spdx/tools-golang/spdx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identities(pkgs []models.Package) []string {
	var ids []string
	for _, p := range pkgs {
		ids = append(ids, p.Identity.String())
	}
	return ids
}

func TestReadDetectsFormat(t *testing.T) {
	tests := []struct {
		name string
		data string
		typ  Type
		pkgs int
	}{
		{"cyclonedx json", cycloneDXJSON, TypeCycloneDX, 5},
		{"cyclonedx xml", cycloneDXXML, TypeCycloneDX, 1},
		{"spdx json", spdxJSON, TypeSPDX, 3},
		{"spdx tag-value", spdxTagValue, TypeSPDX, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustRead(t, tt.data)
			assert.Equal(t, tt.typ, doc.Type())
			assert.Len(t, doc.Packages(), tt.pkgs)
		})
	}
}

func TestReadRejectsUnknownInput(t *testing.T) {
	for _, data := range []string{`{"foo": 1}`, "plain text", `{broken`} {
		_, err := Read(strings.NewReader(data))
		require.Error(t, err, data)
		assert.True(t, models.IsErrorType(err, models.ErrBOMRead))
	}
}

func TestCycloneDXPackagesCarryMetadata(t *testing.T) {
	doc := mustRead(t, cycloneDXJSON)

	var libfoo *models.Package
	for _, p := range doc.Packages() {
		if p.Name == "libfoo" && p.IsSource() {
			p := p
			libfoo = &p
		}
	}
	require.NotNil(t, libfoo)
	assert.Equal(t, "Foo Org", libfoo.Maintainer)
	assert.Equal(t, "https://libfoo.example.org", libfoo.Homepage)
	assert.Equal(t, "Existing description", libfoo.Description)
}

func TestCycloneDXFilterLeavesNoDanglingEdges(t *testing.T) {
	doc := mustRead(t, cycloneDXJSON).(*CycloneDX)

	removed := doc.Filter(Selection{Sources: true})
	assert.Equal(t, 3, removed)

	assert.Equal(t, []string{
		"hello@1.0-1?arch=source",
		"libfoo@2.0-3?arch=source",
	}, identities(doc.Packages()))

	bom := doc.BOM()
	require.NotNil(t, bom.Metadata.Component, "metadata component must survive")
	refs := map[string]bool{"root": true}
	for _, c := range doc.components() {
		refs[c.BOMRef] = true
	}
	for _, dep := range *bom.Dependencies {
		assert.True(t, refs[dep.Ref], "dangling dependency entry %s", dep.Ref)
		if dep.Dependencies != nil {
			for _, ref := range *dep.Dependencies {
				assert.True(t, refs[ref], "dangling edge %s -> %s", dep.Ref, ref)
			}
		}
	}
	assert.Len(t, *bom.Dependencies, 2)
	assert.NoError(t, doc.Validate())
}

func TestFilterNoopSelections(t *testing.T) {
	for _, sel := range []Selection{{}, {Sources: true, Binaries: true}} {
		doc := mustRead(t, cycloneDXJSON)
		assert.Equal(t, 0, doc.Filter(sel))
		assert.Len(t, doc.Packages(), 5)
	}
}

func TestCycloneDXFilterBinaries(t *testing.T) {
	doc := mustRead(t, cycloneDXJSON)

	// Removing the libfoo source also removes its nested binary
	assert.Equal(t, 3, doc.Filter(Selection{Binaries: true}))
	assert.Equal(t, []string{
		"hello@1.0-1?arch=amd64",
		"hello-doc@1.0-1?arch=all",
	}, identities(doc.Packages()))
	assert.NoError(t, doc.Validate())
}

func TestCycloneDXAnnotate(t *testing.T) {
	doc := mustRead(t, cycloneDXJSON).(*CycloneDX)
	hello := repacked("hello", "1.0-1")
	libfoo := repacked("libfoo", "2.0-3")

	require.True(t, doc.Annotate(hello))
	require.True(t, doc.Annotate(libfoo))

	comps := doc.find(hello.Identity)
	require.Len(t, comps, 1)
	c := comps[0]
	require.NotNil(t, c.Supplier)
	assert.Equal(t, "Jane Doe", c.Supplier.Name)
	website := findReference(c.ExternalReferences, cdx.ERTypeWebsite)
	require.NotNil(t, website)
	assert.Equal(t, "https://example.org/hello", website.URL)

	dist := findReference(c.ExternalReferences, cdx.ERTypeDistribution)
	require.NotNil(t, dist)
	assert.Equal(t, hello.Locator, dist.URL)
	assert.Equal(t, sourceComment, dist.Comment)
	require.NotNil(t, dist.Hashes)
	assert.Equal(t, []cdx.Hash{{Algorithm: cdx.HashAlgoSHA256, Value: helloDigest}}, *dist.Hashes)

	// Existing values are kept
	lc := doc.find(libfoo.Identity)[0]
	assert.Equal(t, "Foo Org", lc.Supplier.Name)
	assert.Equal(t, "Existing description", lc.Description)
	assert.Equal(t, "https://libfoo.example.org", findReference(lc.ExternalReferences, cdx.ERTypeWebsite).URL)
	assert.Len(t, *lc.ExternalReferences, 3, "existing references are kept and one is added")
}

func TestAnnotateIsIdempotent(t *testing.T) {
	for _, data := range []string{cycloneDXJSON, spdxJSON} {
		doc := mustRead(t, data)
		hello := repacked("hello", "1.0-1")
		require.True(t, doc.Annotate(hello))

		var first bytes.Buffer
		require.NoError(t, doc.Encode(&first))

		require.True(t, doc.Annotate(hello))
		var second bytes.Buffer
		require.NoError(t, doc.Encode(&second))

		assert.Equal(t, first.String(), second.String())
	}
}

func TestAnnotateMiss(t *testing.T) {
	doc := mustRead(t, cycloneDXJSON)
	assert.False(t, doc.Annotate(repacked("absent", "1.0")))
	assert.False(t, doc.Lookup(models.Identity{Name: "absent", Version: "1.0", Architecture: "source"}))
}

func TestCycloneDXValidateDetectsDanglingEdges(t *testing.T) {
	doc := mustRead(t, cycloneDXJSON).(*CycloneDX)
	deps := append(*doc.BOM().Dependencies, cdx.Dependency{Ref: "root", Dependencies: &[]string{"ghost"}})
	doc.BOM().Dependencies = &deps
	assert.Error(t, doc.Validate())

	doc = mustRead(t, cycloneDXJSON).(*CycloneDX)
	comps := append(*doc.BOM().Components, cdx.Component{BOMRef: helloSrc, Name: "dup"})
	doc.BOM().Components = &comps
	assert.Error(t, doc.Validate())
}

func TestCycloneDXXMLRoundTrip(t *testing.T) {
	doc := mustRead(t, cycloneDXXML)
	require.True(t, doc.Annotate(repacked("hello", "1.0-1")))

	var out bytes.Buffer
	require.NoError(t, doc.Encode(&out))
	assert.Contains(t, out.String(), "<bom")
	assert.Contains(t, out.String(), `type="distribution"`)

	again := mustRead(t, out.String())
	assert.Equal(t, TypeCycloneDX, again.Type())
}

func TestSPDXFilterLeavesNoDanglingEdges(t *testing.T) {
	doc := mustRead(t, spdxJSON).(*SPDX)

	assert.Equal(t, 1, doc.Filter(Selection{Sources: true}))
	assert.Equal(t, []string{
		"hello@1.0-1?arch=source",
		"libfoo@2.0-3?arch=source",
	}, identities(doc.Packages()))

	rels := doc.Document().Relationships
	require.Len(t, rels, 1)
	assert.Equal(t, "DESCRIBES", rels[0].Relationship)
	assert.NoError(t, doc.Validate())
}

func TestSPDXFilterKeepsPackagesWithoutPurl(t *testing.T) {
	vendored := `"packages": [
    {"SPDXID": "SPDXRef-vendored", "name": "vendored", "downloadLocation": "NOASSERTION"},`
	doc := mustRead(t, strings.Replace(spdxJSON, `"packages": [`, vendored, 1)).(*SPDX)

	assert.Equal(t, 1, doc.Filter(Selection{Sources: true}))

	var ids []string
	for _, p := range doc.Document().Packages {
		ids = append(ids, strings.TrimPrefix(string(p.PackageSPDXIdentifier), "SPDXRef-"))
	}
	assert.Equal(t, []string{"vendored", "hello-src", "libfoo-src"}, ids)
}

func TestSPDXAnnotate(t *testing.T) {
	doc := mustRead(t, spdxJSON).(*SPDX)
	hello := repacked("hello", "1.0-1")
	libfoo := repacked("libfoo", "2.0-3")

	require.True(t, doc.Annotate(hello))
	require.True(t, doc.Annotate(libfoo))

	h := doc.find(hello.Identity)[0]
	require.NotNil(t, h.PackageSupplier)
	assert.Equal(t, "Jane Doe (jane@example.org)", h.PackageSupplier.Supplier)
	assert.Equal(t, "https://example.org/hello", h.PackageHomePage)
	assertDistributionRef(t, h, hello.Locator)
	require.Len(t, h.PackageChecksums, 1)
	assert.Equal(t, helloDigest, h.PackageChecksums[0].Value)

	l := doc.find(libfoo.Identity)[0]
	assert.Equal(t, "Foo Org", l.PackageSupplier.Supplier)
	assert.Equal(t, "https://libfoo.example.org", l.PackageHomePage)
	assert.Equal(t, "Existing summary", l.PackageSummary)
	// Checksums are replaced, not merged
	require.Len(t, l.PackageChecksums, 1)
	assert.Equal(t, helloDigest, l.PackageChecksums[0].Value)
	assert.Len(t, l.PackageExternalReferences, 2)
}

func assertDistributionRef(t *testing.T, p *spdx.Package, locator string) {
	t.Helper()
	for _, ref := range p.PackageExternalReferences {
		if ref.RefType == spdxRefTypeDistribution {
			assert.Equal(t, locator, ref.Locator)
			assert.Equal(t, spdxCategoryPackageManager, ref.Category)
			return
		}
	}
	t.Errorf("no distribution reference on %s", p.PackageName)
}

func TestSPDXValidate(t *testing.T) {
	doc := mustRead(t, spdxJSON).(*SPDX)
	require.NoError(t, doc.Validate())

	doc.Document().Relationships = append(doc.Document().Relationships, &spdx.Relationship{
		RefA:         doc.Document().Relationships[0].RefA,
		RefB:         doc.Document().Relationships[0].RefB,
		Relationship: "CONTAINS",
	})
	require.NoError(t, doc.Validate())

	doc.Document().Packages[0].PackageSPDXIdentifier = doc.Document().Packages[1].PackageSPDXIdentifier
	assert.Error(t, doc.Validate())

	doc = mustRead(t, spdxJSON).(*SPDX)
	doc.Document().DocumentNamespace = ""
	assert.Error(t, doc.Validate())
}

func TestSPDXTagValueRoundTrip(t *testing.T) {
	doc := mustRead(t, spdxTagValue)
	require.True(t, doc.Annotate(repacked("hello", "1.0-1")))

	var out bytes.Buffer
	require.NoError(t, doc.Encode(&out))
	assert.Contains(t, out.String(), "SPDXVersion: SPDX-2.3")
	assert.Contains(t, out.String(), "distribution hello/1.0-1/hello_1.0-1.tar.gz")

	again := mustRead(t, out.String())
	assert.Equal(t, TypeSPDX, again.Type())
}

// The documented end-to-end case: sources are kept, the binary is pruned
// with its edges, both sources are annotated and the result validates.
func TestExampleScenario(t *testing.T) {
	for _, data := range []string{cycloneDXJSON, spdxJSON} {
		doc := mustRead(t, data)
		doc.Filter(Selection{Sources: true})

		tr, err := NewTransformer(packer.FormatStandardBOM, doc)
		require.NoError(t, err)
		_, annotated := tr.Transform([]models.Package{repacked("hello", "1.0-1"), repacked("libfoo", "2.0-3")})
		assert.Equal(t, 2, annotated)

		path := filepath.Join(t.TempDir(), "out.json")
		require.NoError(t, WriteFile(doc, path, true))

		written, err := ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, written.Packages(), 2)
		require.NoError(t, written.Validate())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello/1.0-1/hello_1.0-1.tar.gz")
		assert.Contains(t, string(data), "libfoo/2.0-3/libfoo_2.0-3.tar.gz")
		assert.NotContains(t, string(data), helloBin)
	}
}

func TestNewTransformerRejectsUnknownFormat(t *testing.T) {
	doc := mustRead(t, cycloneDXJSON)
	_, err := NewTransformer("flat", doc)
	require.Error(t, err)
	assert.True(t, models.IsErrorType(err, models.ErrInvalidConfig))
}

func TestWriteFileValidation(t *testing.T) {
	doc := mustRead(t, spdxJSON).(*SPDX)
	doc.Document().DocumentName = ""

	path := filepath.Join(t.TempDir(), "out.json")
	err := WriteFile(doc, path, true)
	require.Error(t, err)
	assert.True(t, models.IsErrorType(err, models.ErrValidation))
	assert.NoFileExists(t, path)

	require.NoError(t, WriteFile(doc, path, false))
	assert.FileExists(t, path)
}
