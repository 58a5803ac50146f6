package utils

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/ralt/debrepack/internal/models"
)

// newHash returns a hash for the given algorithm
func newHash(alg models.Algorithm) (hash.Hash, error) {
	switch alg {
	case models.MD5:
		return md5.New(), nil
	case models.SHA1:
		return sha1.New(), nil
	case models.SHA256:
		return sha256.New(), nil
	case models.SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm: %q", alg)
	}
}

// CalculateChecksums calculates the requested checksums of a file in a single
// pass and returns them with the file size. Symbolic links are followed.
func CalculateChecksums(path string, algs []models.Algorithm) (models.Checksums, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	return CalculateReaderChecksums(f, algs)
}

// CalculateReaderChecksums calculates the requested checksums over a stream
func CalculateReaderChecksums(r io.Reader, algs []models.Algorithm) (models.Checksums, int64, error) {
	hashes := make(map[models.Algorithm]hash.Hash, len(algs))
	writers := make([]io.Writer, 0, len(algs))
	for _, alg := range algs {
		if _, dup := hashes[alg]; dup {
			continue
		}
		h, err := newHash(alg)
		if err != nil {
			return nil, 0, err
		}
		hashes[alg] = h
		writers = append(writers, h)
	}

	// Use MultiWriter to calculate all hashes at once
	n, err := io.Copy(io.MultiWriter(writers...), r)
	if err != nil {
		return nil, 0, err
	}

	sums := make(models.Checksums, len(hashes))
	for alg, h := range hashes {
		sums[alg] = hex.EncodeToString(h.Sum(nil))
	}
	return sums, n, nil
}
