package bra

import "io"

const thumbAlignment = 2

type thumb struct {
	ip uint32
}

func (c *thumb) Size() int { return thumbAlignment + 2 }

// Convert rewrites BL/BLX call targets encoded across an ARM-Thumb
// instruction pair (0xF0.. 0xF8..).
func (c *thumb) Convert(b []byte, encoding bool) int {
	if len(b) < c.Size() {
		return 0
	}

	var i int

	limit := len(b) - c.Size()

	for i = 0; i <= limit; i += thumbAlignment {
		if b[i+1]&0xf8 != 0xf0 || b[i+3]&0xf8 != 0xf8 {
			continue
		}

		src := uint32(b[i+1]&0x7)<<19 | uint32(b[i])<<11 | uint32(b[i+3]&0x7)<<8 | uint32(b[i+2])
		src <<= 1

		cur := c.ip + uint32(i) + 4 //nolint:gosec

		var dest uint32
		if encoding {
			dest = cur + src
		} else {
			dest = src - cur
		}

		dest >>= 1

		b[i+1] = 0xf0 | byte(dest>>19)&0x7
		b[i] = byte(dest >> 11)
		b[i+3] = 0xf8 | byte(dest>>8)&0x7
		b[i+2] = byte(dest)

		i += thumbAlignment
	}

	c.ip += uint32(i) //nolint:gosec

	return i
}

// NewARMThumbReader returns a new ARM-Thumb io.ReadCloser.
func NewARMThumbReader(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	return newReader(readers, new(thumb))
}
