// Package ia64 implements the IA-64 (Itanium) branch conversion filter.
//
// IA-64 instructions are packed three to a 16-byte bundle; a 5-bit template
// field selects which of the three 41-bit slots, if any, may hold a branch
// instruction whose immediate needs rewriting.
package ia64

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const bundleSize = 16

// branchSlotMask maps an instruction bundle's 5-bit template to a bitmask
// of which of its three slots can carry a convertible branch.
var branchSlotMask = [32]byte{
	0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0,
	4, 4, 6, 6, 0, 0, 7, 7,
	4, 4, 0, 0, 4, 4, 0, 0,
}

type converter struct {
	ip uint32
}

func (c *converter) Size() int { return bundleSize }

//nolint:cyclop,funlen
func (c *converter) Convert(b []byte, encoding bool) int {
	if len(b) < c.Size() {
		return 0
	}

	var i int

	limit := len(b) - c.Size()

	for i = 0; i <= limit; i += bundleSize {
		template := b[i] & 0x1f
		mask := branchSlotMask[template]

		bitPos := 5

		for slot := 0; slot < 3; slot, bitPos = slot+1, bitPos+41 {
			if (mask>>uint(slot))&1 == 0 {
				continue
			}

			bytePos := bitPos >> 3
			bitRes := uint(bitPos & 0x7)

			var instruction uint64
			for j := 0; j < 6; j++ {
				instruction |= uint64(b[i+j+bytePos]) << (8 * j)
			}

			instNorm := instruction >> bitRes

			if (instNorm>>37)&0xf != 0x5 || (instNorm>>9)&0x7 != 0 {
				continue
			}

			src := uint32(instNorm>>13) & 0xfffff
			src |= uint32(instNorm>>36&1) << 20
			src <<= 4

			cur := c.ip + uint32(i) //nolint:gosec

			var dest uint32
			if encoding {
				dest = cur + src
			} else {
				dest = src - cur
			}

			dest >>= 4

			instNorm &^= uint64(0x8fffff) << 13
			instNorm |= uint64(dest&0xfffff) << 13
			instNorm |= uint64(dest&0x100000) << (36 - 20)

			instruction &= 1<<bitRes - 1
			instruction |= instNorm << bitRes

			for j := 0; j < 6; j++ {
				b[i+j+bytePos] = byte(instruction >> (8 * j))
			}
		}
	}

	c.ip += uint32(i) //nolint:gosec

	return i
}

type readCloser struct {
	rc   io.ReadCloser
	buf  bytes.Buffer
	n    int
	conv converter
}

func (rc *readCloser) Close() error {
	if rc.rc == nil {
		return errAlreadyClosed
	}

	err := rc.rc.Close()
	rc.rc = nil

	if err != nil {
		return fmt.Errorf("ia64: error closing: %w", err)
	}

	return nil
}

func (rc *readCloser) Read(p []byte) (int, error) {
	if rc.rc == nil {
		return 0, errAlreadyClosed
	}

	if _, err := io.CopyN(&rc.buf, rc.rc, int64(max(len(p), rc.conv.Size())-rc.buf.Len())); err != nil {
		if !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("ia64: error buffering: %w", err)
		}

		if rc.buf.Len() < rc.conv.Size() {
			rc.n = rc.buf.Len()
		}
	}

	rc.n += rc.conv.Convert(rc.buf.Bytes()[rc.n:], false)

	n, err := rc.buf.Read(p[:min(rc.n, len(p))])
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("ia64: error reading: %w", err)
	}

	rc.n -= n

	return n, err
}

// NewReader returns a new IA-64 io.ReadCloser.
func NewReader(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	return &readCloser{rc: readers[0]}, nil
}

// Filter adapts the IA-64 branch filter to the whole-buffer
// filterpipe.Filter contract.
type Filter struct{}

func (Filter) Encode(p []byte, _ int64) ([]byte, error) { return convertAll(p, true), nil }
func (Filter) Decode(p []byte, _ int64) ([]byte, error) { return convertAll(p, false), nil }

func convertAll(p []byte, encoding bool) []byte {
	out := make([]byte, len(p))
	copy(out, p)

	c := new(converter)

	var total int
	for total < len(out) {
		n := c.Convert(out[total:], encoding)
		if n == 0 {
			break
		}

		total += n
	}

	return out
}
