package compressors

import (
	"compress/gzip"
	"fmt"
	"io"
)

// GzipCompressor handles Gzip compression
type GzipCompressor struct{}

func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{}
}

// NewWriter creates a streaming gzip writer, levels outside 1-9 use the default
func (c *GzipCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level < 1 || level > 9 {
		level = gzip.DefaultCompression
	}
	writer, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return writer, nil
}

func (c *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return reader, nil
}

func (c *GzipCompressor) Extension() string {
	return ".gz"
}

func (c *GzipCompressor) DefaultLevel() int {
	return 6
}
