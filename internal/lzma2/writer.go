package lzma2

import (
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// PropertyByte computes the LZMA2 dictionary-size property byte for a given
// dictionary capacity, the inverse of the decoding arithmetic in NewReader.
func PropertyByte(dictCap int) byte {
	for p := 0; p < 41; p++ {
		cap := (2 | (p & 1)) << (p/2 + 11)
		if cap >= dictCap {
			return byte(p) //nolint:gosec
		}
	}

	return 40
}

type writeCloser struct {
	w io.WriteCloser
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	n, err := wc.w.Write(p)
	if err != nil {
		err = fmt.Errorf("lzma2: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if err := wc.w.Close(); err != nil {
		return fmt.Errorf("lzma2: error closing: %w", err)
	}

	return nil
}

// NewWriter returns an io.WriteCloser that LZMA2-compresses into w, using
// the dictionary capacity implied by the given property byte.
func NewWriter(w io.Writer, p byte) (io.WriteCloser, error) {
	config := lzma.Writer2Config{
		DictCap: (2 | (int(p) & 1)) << (p/2 + 11),
	}

	if err := config.Verify(); err != nil {
		return nil, fmt.Errorf("lzma2: error verifying config: %w", err)
	}

	lw, err := config.NewWriter2(w)
	if err != nil {
		return nil, fmt.Errorf("lzma2: error creating writer: %w", err)
	}

	return &writeCloser{w: lw}, nil
}
