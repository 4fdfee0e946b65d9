package compressors

import "io"

// NoneCompressor passes data through unchanged
type NoneCompressor struct{}

func NewNoneCompressor() *NoneCompressor {
	return &NoneCompressor{}
}

func (c *NoneCompressor) NewWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (c *NoneCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// Extension returns an empty string (no compression extension)
func (c *NoneCompressor) Extension() string {
	return ""
}

func (c *NoneCompressor) DefaultLevel() int {
	return 0
}
