package compressors

import (
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// LZ4Compressor handles LZ4 compression
type LZ4Compressor struct{}

func NewLZ4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

// NewWriter creates a streaming lz4 frame writer
func (c *LZ4Compressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer := lz4.NewWriter(w)

	// lz4 levels are 1-9
	if level >= 1 && level <= 9 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(1 << (8 + level)))); err != nil {
			return nil, fmt.Errorf("failed to apply compression level: %w", err)
		}
	}
	return writer, nil
}

func (c *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (c *LZ4Compressor) Extension() string {
	return ".lz4"
}

func (c *LZ4Compressor) DefaultLevel() int {
	return 1
}
