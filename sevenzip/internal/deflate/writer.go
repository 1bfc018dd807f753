package deflate

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/flate"
)

// Compress returns the Deflate-compressed form of data.
func Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("deflate: error creating writer: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("deflate: error writing: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate: error closing: %w", err)
	}

	return buf.Bytes(), nil
}
