package compressors

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor handles Zstandard compression
type ZstdCompressor struct {
	workers int
}

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{
		workers: 4,
	}
}

// WithWorkers sets the number of encoder goroutines
func (c *ZstdCompressor) WithWorkers(workers int) *ZstdCompressor {
	c.workers = workers
	return c
}

// NewWriter creates a streaming zstd encoder. Levels map onto the encoder speed presets.
func (c *ZstdCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	var encoderLevel zstd.EncoderLevel
	switch {
	case level <= 0:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 7:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(c.workers))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return encoder, nil
}

func (c *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return decoder.IOReadCloser(), nil
}

func (c *ZstdCompressor) Extension() string {
	return ".zst"
}

func (c *ZstdCompressor) DefaultLevel() int {
	return 3
}
