package bra

// Filter adapts a branch-conversion converter to the whole-buffer
// filterpipe.Filter contract. Each call to Encode or Decode starts a fresh
// converter instance, since a 7z folder or xz block is filtered as a single
// buffer rather than as an incremental stream.
type Filter struct {
	newConv func() converter
}

// X86 returns a Filter for the x86 BCJ branch filter.
func X86() Filter { return Filter{newConv: func() converter { return new(bcj) }} }

// ARM returns a Filter for the 32-bit ARM branch filter.
func ARM() Filter { return Filter{newConv: func() converter { return new(arm) }} }

// ARMThumb returns a Filter for the ARM-Thumb branch filter.
func ARMThumb() Filter { return Filter{newConv: func() converter { return new(thumb) }} }

// ARM64 returns a Filter for the ARM64 branch filter.
func ARM64() Filter { return Filter{newConv: func() converter { return new(arm64) }} }

// PPC returns a Filter for the PowerPC branch filter.
func PPC() Filter { return Filter{newConv: func() converter { return new(ppc) }} }

// SPARC returns a Filter for the SPARC branch filter.
func SPARC() Filter { return Filter{newConv: func() converter { return new(sparc) }} }

func (f Filter) Encode(p []byte, _ int64) ([]byte, error) {
	return convertAll(f.newConv(), p, true), nil
}

func (f Filter) Decode(p []byte, _ int64) ([]byte, error) {
	return convertAll(f.newConv(), p, false), nil
}

// convertAll repeatedly calls Convert until the converter can no longer make
// forward progress, which happens once fewer than Size() bytes remain. Those
// trailing bytes are left untouched, matching the streaming readCloser's
// behaviour at EOF.
func convertAll(c converter, p []byte, encoding bool) []byte {
	out := make([]byte, len(p))
	copy(out, p)

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
