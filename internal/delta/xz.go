package delta

import "errors"

// CircularHistorySize is the history window of the XZ-specific Delta
// variant, large enough to support the distances used by its filter chain
// presets, unlike 7z's 256-byte simple-forward state.
const CircularHistorySize = 1 << 16

// ErrInvalidDistance is returned when a CircularFilter distance falls
// outside [1, CircularHistorySize].
var ErrInvalidDistance = errors.New("delta: distance out of range")

// CircularFilter implements the circular-history Delta variant selected by
// the xz package. It shares the 7z Delta filter's byte-subtraction idea but
// keeps a full ring buffer rather than a small fixed window, since xz
// streams are not bounded by a single folder's pre-image size.
type CircularFilter struct {
	Distance int
}

func NewCircularFilter(distance int) (*CircularFilter, error) {
	if distance < 1 || distance > CircularHistorySize {
		return nil, ErrInvalidDistance
	}

	return &CircularFilter{Distance: distance}, nil
}

func (f *CircularFilter) Encode(p []byte, _ int64) ([]byte, error) {
	return f.transform(p, true), nil
}

func (f *CircularFilter) Decode(p []byte, _ int64) ([]byte, error) {
	return f.transform(p, false), nil
}

func (f *CircularFilter) transform(p []byte, encode bool) []byte {
	out := make([]byte, len(p))
	history := make([]byte, CircularHistorySize)

	for i, b := range p {
		ref := history[(i-f.Distance+CircularHistorySize*2)%CircularHistorySize]

		var v byte
		if encode {
			v = b - ref
		} else {
			v = b + ref
		}

		out[i] = v

		if encode {
			history[i%CircularHistorySize] = b
		} else {
			history[i%CircularHistorySize] = v
		}
	}

	return out
}
