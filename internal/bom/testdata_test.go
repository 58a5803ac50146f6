package bom

import (
	"strings"
	"testing"

	"github.com/ralt/debrepack/internal/models"
	"github.com/stretchr/testify/require"
)

const (
	helloSrc  = "pkg:deb/debian/hello@1.0-1?arch=source"
	helloBin  = "pkg:deb/debian/hello@1.0-1?arch=amd64"
	libfooSrc = "pkg:deb/debian/libfoo@2.0-3?arch=source"
	libfooBin = "pkg:deb/debian/libfoo@2.0-3?arch=amd64"
)

const cycloneDXJSON = `{
  "bomFormat": "CycloneDX",
  "specVersion": "1.5",
  "version": 1,
  "metadata": {
    "component": {"bom-ref": "root", "type": "operating-system", "name": "debian"}
  },
  "components": [
    {
      "bom-ref": "` + helloSrc + `",
      "type": "library",
      "name": "hello",
      "version": "1.0-1",
      "purl": "` + helloSrc + `"
    },
    {
      "bom-ref": "` + helloBin + `",
      "type": "library",
      "name": "hello",
      "version": "1.0-1",
      "purl": "` + helloBin + `",
      "components": [
        {"bom-ref": "hello-doc", "type": "library", "name": "hello-doc", "version": "1.0-1", "purl": "pkg:deb/debian/hello-doc@1.0-1?arch=all"}
      ]
    },
    {
      "bom-ref": "` + libfooSrc + `",
      "type": "library",
      "name": "libfoo",
      "version": "2.0-3",
      "purl": "` + libfooSrc + `",
      "supplier": {"name": "Foo Org"},
      "description": "Existing description",
      "externalReferences": [
        {"type": "website", "url": "https://libfoo.example.org"},
        {"type": "vcs", "url": "https://git.example.org/libfoo"}
      ],
      "components": [
        {"bom-ref": "` + libfooBin + `", "type": "library", "name": "libfoo", "version": "2.0-3"}
      ]
    }
  ],
  "dependencies": [
    {"ref": "root", "dependsOn": ["` + helloBin + `", "` + libfooSrc + `"]},
    {"ref": "` + helloBin + `", "dependsOn": ["` + helloSrc + `", "hello-doc"]},
    {"ref": "hello-doc"},
    {"ref": "` + libfooSrc + `", "dependsOn": ["` + libfooBin + `"]}
  ]
}
`

const cycloneDXXML = `<?xml version="1.0" encoding="UTF-8"?>
<bom xmlns="http://cyclonedx.org/schema/bom/1.5" version="1">
  <components>
    <component type="library" bom-ref="` + helloSrc + `">
      <name>hello</name>
      <version>1.0-1</version>
      <purl>` + helloSrc + `</purl>
    </component>
  </components>
</bom>
`

const spdxJSON = `{
  "spdxVersion": "SPDX-2.3",
  "dataLicense": "CC0-1.0",
  "SPDXID": "SPDXRef-DOCUMENT",
  "name": "debian",
  "documentNamespace": "https://example.org/spdx/debian",
  "creationInfo": {"created": "2024-01-01T00:00:00Z", "creators": ["Tool: test"]},
  "packages": [
    {
      "SPDXID": "SPDXRef-hello-src",
      "name": "hello",
      "versionInfo": "1.0-1",
      "downloadLocation": "NOASSERTION",
      "supplier": "NOASSERTION",
      "externalRefs": [
        {"referenceCategory": "PACKAGE-MANAGER", "referenceType": "purl", "referenceLocator": "` + helloSrc + `"}
      ]
    },
    {
      "SPDXID": "SPDXRef-hello-bin",
      "name": "hello",
      "versionInfo": "1.0-1",
      "downloadLocation": "NOASSERTION",
      "externalRefs": [
        {"referenceCategory": "PACKAGE-MANAGER", "referenceType": "purl", "referenceLocator": "` + helloBin + `"}
      ]
    },
    {
      "SPDXID": "SPDXRef-libfoo-src",
      "name": "libfoo",
      "versionInfo": "2.0-3",
      "downloadLocation": "NOASSERTION",
      "supplier": "Organization: Foo Org",
      "homepage": "https://libfoo.example.org",
      "summary": "Existing summary",
      "checksums": [{"algorithm": "MD5", "checksumValue": "d41d8cd98f00b204e9800998ecf8427e"}],
      "externalRefs": [
        {"referenceCategory": "PACKAGE-MANAGER", "referenceType": "purl", "referenceLocator": "` + libfooSrc + `"}
      ]
    }
  ],
  "relationships": [
    {"spdxElementId": "SPDXRef-DOCUMENT", "relationshipType": "DESCRIBES", "relatedSpdxElement": "SPDXRef-hello-bin"},
    {"spdxElementId": "SPDXRef-hello-bin", "relationshipType": "GENERATED_FROM", "relatedSpdxElement": "SPDXRef-hello-src"},
    {"spdxElementId": "SPDXRef-DOCUMENT", "relationshipType": "DESCRIBES", "relatedSpdxElement": "SPDXRef-libfoo-src"}
  ]
}
`

const spdxTagValue = `SPDXVersion: SPDX-2.3
DataLicense: CC0-1.0
SPDXID: SPDXRef-DOCUMENT
DocumentName: debian
DocumentNamespace: https://example.org/spdx/debian
Creator: Tool: test
Created: 2024-01-01T00:00:00Z

PackageName: hello
SPDXID: SPDXRef-hello-src
PackageVersion: 1.0-1
PackageDownloadLocation: NOASSERTION
ExternalRef: PACKAGE-MANAGER purl ` + helloSrc + `
`

const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

// repacked returns hello/libfoo packages as the packer would return them
func repacked(name, version string) models.Package {
	return models.Package{
		Identity:   models.Identity{Name: name, Version: version, Architecture: models.SourceArch},
		Namespace:  models.DefaultNamespace,
		Maintainer: "Jane Doe <jane@example.org>",
		Homepage:   "https://example.org/" + name,
		Locator:    name + "/" + version + "/" + name + "_" + version + ".tar.gz",
		Checksums:  models.Checksums{models.SHA256: helloDigest},
	}
}

func mustRead(t *testing.T, data string) Document {
	t.Helper()
	doc, err := Read(strings.NewReader(data))
	require.NoError(t, err)
	return doc
}
