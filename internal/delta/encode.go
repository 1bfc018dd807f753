package delta

// Encode applies the simple-forward Delta transform used by 7z: each byte
// is replaced by its difference from the byte `distance` positions earlier
// in the original (not yet delta-coded) stream.
func Encode(p []byte, distance int) ([]byte, error) {
	if distance < 1 || distance > stateSize {
		return nil, ErrInsufficientProperties
	}

	out := make([]byte, len(p))

	var (
		history [stateSize]byte
		j       int
	)

	for i, b := range p {
		out[i] = b - history[j]
		history[j] = b

		j++
		if j == distance {
			j = 0
		}
	}

	return out, nil
}

// Decode reverses Encode over a complete buffer.
func Decode(p []byte, distance int) ([]byte, error) {
	if distance < 1 || distance > stateSize {
		return nil, ErrInsufficientProperties
	}

	out := make([]byte, len(p))

	var (
		history [stateSize]byte
		j       int
	)

	for i, b := range p {
		v := b + history[j]
		out[i] = v
		history[j] = v

		j++
		if j == distance {
			j = 0
		}
	}

	return out, nil
}

// SimpleFilter adapts the simple-forward Delta transform to the
// whole-buffer filterpipe.Filter contract, used by the 7z Writer.
type SimpleFilter struct {
	Distance int
}

func (f SimpleFilter) Encode(p []byte, _ int64) ([]byte, error) { return Encode(p, f.Distance) }
func (f SimpleFilter) Decode(p []byte, _ int64) ([]byte, error) { return Decode(p, f.Distance) }
