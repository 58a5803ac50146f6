package repack

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ralt/debrepack/internal/bom"
	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/pkgset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helloSrc  = "pkg:deb/debian/hello@1.0-1?arch=source"
	helloBin  = "pkg:deb/debian/hello@1.0-1?arch=amd64"
	libfooSrc = "pkg:deb/debian/libfoo@2.0-3?arch=source"
)

const inputBOM = `{
  "bomFormat": "CycloneDX",
  "specVersion": "1.5",
  "version": 1,
  "metadata": {"component": {"bom-ref": "root", "type": "operating-system", "name": "debian"}},
  "components": [
    {"bom-ref": "` + helloSrc + `", "type": "library", "name": "hello", "version": "1.0-1", "purl": "` + helloSrc + `"},
    {"bom-ref": "` + helloBin + `", "type": "library", "name": "hello", "version": "1.0-1", "purl": "` + helloBin + `"},
    {"bom-ref": "` + libfooSrc + `", "type": "library", "name": "libfoo", "version": "2.0-3", "purl": "` + libfooSrc + `"}
  ],
  "dependencies": [
    {"ref": "root", "dependsOn": ["` + helloBin + `", "` + libfooSrc + `"]},
    {"ref": "` + helloBin + `", "dependsOn": ["` + helloSrc + `"]}
  ]
}
`

type workspace struct {
	root string
	cfg  *models.RepackConfig
}

// newWorkspace lays out downloads for hello (source and amd64 binary);
// libfoo is listed in the document but was never downloaded
func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	root := t.TempDir()
	dl := filepath.Join(root, "downloads")
	require.NoError(t, os.MkdirAll(dl, 0755))

	files := map[string]string{
		"hello_1.0.orig.tar.gz":     "upstream tarball",
		"hello_1.0-1.debian.tar.xz": "debian tarball",
	}
	var md5s, shas strings.Builder
	for _, name := range []string{"hello_1.0-1.debian.tar.xz", "hello_1.0.orig.tar.gz"} {
		data := []byte(files[name])
		m, s := md5.Sum(data), sha256.Sum256(data)
		fmt.Fprintf(&md5s, " %s %d %s\n", hex.EncodeToString(m[:]), len(data), name)
		fmt.Fprintf(&shas, " %s %d %s\n", hex.EncodeToString(s[:]), len(data), name)
		require.NoError(t, os.WriteFile(filepath.Join(dl, name), data, 0644))
	}
	dsc := "Format: 3.0 (quilt)\nSource: hello\nVersion: 1.0-1\nMaintainer: Jane Doe <jane@example.org>\n" +
		"Checksums-Sha256:\n" + shas.String() + "Files:\n" + md5s.String()
	require.NoError(t, os.WriteFile(filepath.Join(dl, "hello_1.0-1.dsc"), []byte(dsc), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dl, "hello_1.0-1_amd64.deb"), []byte("!<arch>\ndebian-binary"), 0644))

	bomIn := filepath.Join(root, "in.json")
	require.NoError(t, os.WriteFile(bomIn, []byte(inputBOM), 0644))

	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &workspace{
		root: root,
		cfg: &models.RepackConfig{
			BomIn:     bomIn,
			BomOut:    filepath.Join(root, "out.json"),
			DlDir:     dl,
			OutDir:    filepath.Join(root, "packed"),
			MergeDir:  filepath.Join(root, "merged"),
			Format:    "standard-bom",
			Compress:  "gzip",
			Mtime:     &mtime,
			Checksums: []models.Algorithm{models.SHA256},
			Validate:  true,
			Jobs:      2,
		},
	}
}

func (w *workspace) output(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(w.cfg.BomOut)
	require.NoError(t, err)
	return string(data)
}

func TestRunSourcesOnly(t *testing.T) {
	w := newWorkspace(t)
	w.cfg.Sources = true

	result, err := Run(context.Background(), w.cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, &Result{
		Resolved:  3,
		Selected:  2,
		Repacked:  1,
		Skipped:   1,
		Annotated: 1,
		Pruned:    1,
	}, result)

	out := w.output(t)
	assert.Contains(t, out, "hello/1.0-1/hello_1.0-1.tar.gz")
	assert.NotContains(t, out, helloBin)
	assert.FileExists(t, filepath.Join(w.cfg.OutDir, "hello", "1.0-1", "hello_1.0-1.tar.gz"))

	doc, err := bom.ReadFile(w.cfg.BomOut)
	require.NoError(t, err)
	assert.NoError(t, doc.Validate())
	assert.Len(t, doc.Packages(), 2)
}

func TestRunAllPackages(t *testing.T) {
	w := newWorkspace(t)
	w.cfg.Copy = true

	result, err := Run(context.Background(), w.cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Selected)
	assert.Equal(t, 2, result.Repacked)
	assert.Equal(t, 0, result.Pruned)

	out := w.output(t)
	assert.Contains(t, out, "hello/1.0-1/hello_1.0-1_amd64.deb")
	assert.Contains(t, out, "binary package (local copy)")

	info, err := os.Lstat(filepath.Join(w.cfg.OutDir, "hello", "1.0-1", "hello_1.0-1_amd64.deb"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}

func TestRunPartialLeavesOtherNodesUntouched(t *testing.T) {
	w := newWorkspace(t)

	subset, err := pkgset.NewStreamResolver(strings.NewReader("hello 1.0-1 amd64\nunrelated 9.9 all\n")).Resolve()
	require.NoError(t, err)

	result, err := Run(context.Background(), w.cfg, subset)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Selected)
	assert.Equal(t, 1, result.Annotated)

	out := w.output(t)
	assert.Contains(t, out, "hello/1.0-1/hello_1.0-1_amd64.deb")
	assert.NotContains(t, out, "hello/1.0-1/hello_1.0-1.tar.gz")
	assert.Contains(t, out, helloSrc, "unselected nodes pass through")
	assert.NoFileExists(t, filepath.Join(w.cfg.OutDir, "hello", "1.0-1", "hello_1.0-1.tar.gz"))
}

func TestRunIsIdempotent(t *testing.T) {
	w := newWorkspace(t)
	w.cfg.Sources = true

	_, err := Run(context.Background(), w.cfg, nil)
	require.NoError(t, err)
	first := w.output(t)

	_, err = Run(context.Background(), w.cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, first, w.output(t))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *models.RepackConfig)
		typ    models.ErrorType
	}{
		{"unknown format", func(cfg *models.RepackConfig) { cfg.Format = "flat" }, models.ErrInvalidConfig},
		{"unknown compression", func(cfg *models.RepackConfig) { cfg.Compress = "lz4" }, models.ErrInvalidConfig},
		{"sign to stdout", func(cfg *models.RepackConfig) { cfg.SignKey = "key.asc"; cfg.BomOut = "-" }, models.ErrInvalidConfig},
		{"missing key", func(cfg *models.RepackConfig) { cfg.SignKey = "/nonexistent/key.asc" }, models.ErrSigning},
		{"missing input", func(cfg *models.RepackConfig) { cfg.BomIn = "/nonexistent/bom.json" }, models.ErrBOMRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorkspace(t)
			tt.mutate(w.cfg)

			_, err := Run(context.Background(), w.cfg, nil)
			require.Error(t, err)
			assert.True(t, models.IsErrorType(err, tt.typ), "got %v", err)
			assert.NoFileExists(t, filepath.Join(w.root, "out.json"))
		})
	}
}

func TestRunFailsOnIncompleteSource(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.Remove(filepath.Join(w.cfg.DlDir, "hello_1.0.orig.tar.gz")))

	_, err := Run(context.Background(), w.cfg, nil)
	require.Error(t, err)
	assert.True(t, models.IsErrorType(err, models.ErrInputIntegrity))
	assert.NoFileExists(t, w.cfg.BomOut)
}
