package packer

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ralt/debrepack/internal/debian"
	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/utils"
	"github.com/stretchr/testify/require"
)

var fixtureTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// tarGz builds a gzip compressed tarball from name/content pairs. Names
// ending in "/" become directories.
func tarGz(t *testing.T, files ...string) []byte {
	t.Helper()
	require.True(t, len(files)%2 == 0, "tarGz takes name/content pairs")

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for i := 0; i < len(files); i += 2 {
		name, body := files[i], files[i+1]
		hdr := &tar.Header{Name: name, Mode: 0644, ModTime: fixtureTime}
		if strings.HasSuffix(name, "/") {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0755
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

// writeDsc writes a .dsc listing files (name -> content) into dir, followed
// by the files themselves
func writeDsc(t *testing.T, dir, source, version, format string, files map[string][]byte) string {
	t.Helper()

	var names []string
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var md5s, shas strings.Builder
	for _, name := range names {
		data := files[name]
		m := md5.Sum(data)
		s := sha256.Sum256(data)
		fmt.Fprintf(&md5s, " %s %d %s\n", hex.EncodeToString(m[:]), len(data), name)
		fmt.Fprintf(&shas, " %s %d %s\n", hex.EncodeToString(s[:]), len(data), name)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}

	dsc := fmt.Sprintf("Format: %s\nSource: %s\nVersion: %s\nMaintainer: Jane Doe <jane@example.org>\nHomepage: https://example.org/%s\nChecksums-Sha256:\n%sFiles:\n%s",
		format, source, version, source, shas.String(), md5s.String())

	name := fmt.Sprintf("%s_%s.dsc", source, debian.StripEpoch(version))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(dsc), 0644))
	return path
}

// readArchive returns the regular files of a (compressed) tarball
func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, _, err := utils.NewReader(f)
	require.NoError(t, err)
	defer r.Close()

	files := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag != tar.TypeReg {
			files[hdr.Name] = ""
			continue
		}
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(data)
	}
	return files
}

func sourcePkg(name, version string) models.Package {
	return models.Package{
		Identity:  models.Identity{Name: name, Version: version, Architecture: models.SourceArch},
		Namespace: models.DefaultNamespace,
	}
}

func binaryPkg(name, version, arch string) models.Package {
	return models.Package{
		Identity:  models.Identity{Name: name, Version: version, Architecture: arch},
		Namespace: models.DefaultNamespace,
	}
}

type dirs struct {
	dl, out, merge string
}

func newDirs(t *testing.T) dirs {
	root := t.TempDir()
	d := dirs{
		dl:    filepath.Join(root, "downloads"),
		out:   filepath.Join(root, "packed"),
		merge: filepath.Join(root, "merged"),
	}
	require.NoError(t, os.MkdirAll(d.dl, 0755))
	return d
}

func (d dirs) config(patched bool) Config {
	return Config{
		DlDir:        d.dl,
		OutDir:       d.out,
		MergeDir:     d.merge,
		Compression:  utils.CompressGzip,
		ApplyPatches: patched,
		Checksums:    []models.Algorithm{models.SHA256},
	}
}

// quiltFixture writes a 3.0 (quilt) source package with one patch
func quiltFixture(t *testing.T, dir string) {
	t.Helper()
	quiltPackage(t, dir, tarGz(t,
		"hello-1.0/", "",
		"hello-1.0/hello.txt", "hello world\n",
	))
}

// quiltPackage writes hello 1.0-1 with the given upstream tarball and a
// debian tarball patching hello.txt
func quiltPackage(t *testing.T, dir string, orig []byte) {
	t.Helper()
	patch := "--- a/hello.txt\n+++ b/hello.txt\n@@ -1 +1 @@\n-hello world\n+hello debian\n"
	writeDsc(t, dir, "hello", "1.0-1", "3.0 (quilt)", map[string][]byte{
		"hello_1.0.orig.tar.gz": orig,
		"hello_1.0-1.debian.tar.gz": tarGz(t,
			"debian/", "",
			"debian/control", "Source: hello\n",
			"debian/patches/", "",
			"debian/patches/series", "# applied in order\nfix-greeting.patch\n",
			"debian/patches/fix-greeting.patch", patch,
		),
	})
}
