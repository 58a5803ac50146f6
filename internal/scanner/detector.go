package scanner

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralt/debrepack/internal/utils"
)

// Debian packages start with "!<arch>\ndebian"
var debMagic = []byte("!<arch>\ndebian")

// DetectArtifactType determines the artifact type based on file name and magic bytes
func DetectArtifactType(path string) (ArtifactType, error) {
	basename := filepath.Base(path)

	// Name-only decisions first, these need no I/O
	switch {
	case strings.HasSuffix(basename, ".dsc"):
		return TypeDsc, nil
	case strings.HasSuffix(basename, ".asc"), strings.HasSuffix(basename, ".sig"):
		return TypeSignature, nil
	case strings.HasSuffix(basename, ".diff.gz"):
		return TypeDiff, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	// Read first 512 bytes for magic byte detection
	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return TypeUnknown, err
	}
	header = header[:n]

	// Check for Debian package
	if bytes.HasPrefix(header, debMagic) || strings.HasSuffix(basename, ".deb") || strings.HasSuffix(basename, ".udeb") {
		return TypeDeb, nil
	}

	// Source tarballs: *.tar, *.tar.{gz,xz,bz2,zst,lzma}
	if strings.Contains(basename, ".tar") {
		return TypeTarball, nil
	}
	// Compressed data without a tar suffix cannot be told apart from
	// other payloads without decompressing
	if utils.DetectCompression(header) != utils.CompressNone {
		return TypeUnknown, nil
	}
	if isUstar(header) {
		return TypeTarball, nil
	}

	return TypeUnknown, nil
}

// isUstar reports whether header is the first block of a tar archive
func isUstar(header []byte) bool {
	return len(header) >= 262 && bytes.Equal(header[257:262], []byte("ustar"))
}
