package brotli

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/andybalholm/brotli"
)

// Compress returns the Brotli-compressed form of data, prefixed with the
// 16-byte frame 7-Zip's implementation expects ahead of the raw stream.
func Compress(data []byte, quality int) ([]byte, error) {
	var payload bytes.Buffer

	w := brotli.NewWriterLevel(&payload, quality)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("brotli: error writing: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli: error closing: %w", err)
	}

	var out bytes.Buffer

	hr := headerFrame{
		FrameMagic:       frameMagic,
		FrameSize:        frameSize,
		CompressedSize:   uint32(payload.Len()), //nolint:gosec
		BrotliMagic:      brotliMagic,
		UncompressedSize: uint16(len(data) / (64 * 1024)), //nolint:gomnd,gosec
	}

	if err := binary.Write(&out, binary.LittleEndian, hr); err != nil {
		return nil, fmt.Errorf("brotli: error writing frame: %w", err)
	}

	out.Write(payload.Bytes())

	return out.Bytes(), nil
}
