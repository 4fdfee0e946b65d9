// Package compressors wraps export streams with a compression codec.
package compressors

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedCompression is returned when an unsupported compression type is requested
var ErrUnsupportedCompression = errors.New("unsupported compression type")

// Compression names
const (
	Zstd = "zstd"
	LZ4  = "lz4"
	Gzip = "gzip"
	None = "none"
)

// Compressor streams data through a codec
type Compressor interface {
	// NewWriter wraps w; level <= 0 selects the codec default
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)

	NewReader(r io.Reader) (io.ReadCloser, error)

	// Extension returns the file extension for this compression (e.g., ".zst", ".lz4", ".gz")
	Extension() string

	DefaultLevel() int
}

// GetCompressor returns the compressor for a compression name
func GetCompressor(compression string) (Compressor, error) {
	switch compression {
	case Zstd:
		return NewZstdCompressor(), nil
	case LZ4:
		return NewLZ4Compressor(), nil
	case Gzip:
		return NewGzipCompressor(), nil
	case None, "":
		return NewNoneCompressor(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, compression)
	}
}

// FromPath picks the compressor matching a file name's last extension and returns the
// name with that extension stripped
func FromPath(path string) (Compressor, string) {
	for _, c := range []Compressor{NewZstdCompressor(), NewLZ4Compressor(), NewGzipCompressor()} {
		if strings.HasSuffix(path, c.Extension()) {
			return c, strings.TrimSuffix(path, c.Extension())
		}
	}
	return NewNoneCompressor(), path
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
