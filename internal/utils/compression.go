package utils

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression identifies a compression codec
type Compression string

const (
	CompressNone  Compression = "none"
	CompressGzip  Compression = "gzip"
	CompressXz    Compression = "xz"
	CompressZstd  Compression = "zstd"
	CompressBzip2 Compression = "bzip2" // read-only
)

// Magic bytes for compression detection
var (
	gzipMagic  = []byte{0x1F, 0x8B}
	zstdMagic  = []byte{0x28, 0xB5, 0x2F, 0xFD}
	xzMagic    = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	bzip2Magic = []byte("BZh")
)

// ParseCompression parses a compression selector usable for writing
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "no", "none":
		return CompressNone, nil
	case "gzip", "gz":
		return CompressGzip, nil
	case "xz":
		return CompressXz, nil
	case "zstd", "zst":
		return CompressZstd, nil
	default:
		return "", fmt.Errorf("unsupported compression: %q (supported: none, gzip, xz, zstd)", s)
	}
}

// Extension returns the file suffix appended after ".tar"
func (c Compression) Extension() string {
	switch c {
	case CompressGzip:
		return ".gz"
	case CompressXz:
		return ".xz"
	case CompressZstd:
		return ".zst"
	case CompressBzip2:
		return ".bz2"
	default:
		return ""
	}
}

// NewWriter wraps w with the compressor. Encoders are configured to produce
// identical output for identical input.
func (c Compression) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressNone:
		return nopWriteCloser{w}, nil
	case CompressGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case CompressXz:
		return xz.NewWriter(w)
	case CompressZstd:
		return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	default:
		return nil, fmt.Errorf("compression %q is not supported for writing", c)
	}
}

// DetectCompression determines the codec from the leading bytes of a stream
func DetectCompression(header []byte) Compression {
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return CompressGzip
	case bytes.HasPrefix(header, xzMagic):
		return CompressXz
	case bytes.HasPrefix(header, zstdMagic):
		return CompressZstd
	case bytes.HasPrefix(header, bzip2Magic):
		return CompressBzip2
	default:
		return CompressNone
	}
}

// NewReader sniffs the codec of r and returns a decompressing reader
func NewReader(r io.Reader) (io.ReadCloser, Compression, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(len(xzMagic))
	if err != nil && err != io.EOF {
		return nil, CompressNone, err
	}

	c := DetectCompression(header)
	switch c {
	case CompressGzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, c, err
		}
		return gr, c, nil
	case CompressXz:
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, c, err
		}
		return io.NopCloser(xr), c, nil
	case CompressZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, c, err
		}
		return zr.IOReadCloser(), c, nil
	case CompressBzip2:
		return io.NopCloser(bzip2.NewReader(br)), c, nil
	default:
		return io.NopCloser(br), c, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
