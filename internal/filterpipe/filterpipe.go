// Package filterpipe composes an ordered stack of reversible filters with
// one terminal compression codec into a single stream transform, applied
// outermost-filter-first at write time and reversed at read time.
package filterpipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Filter is a reversible byte-stream preprocessor such as BCJ or Delta.
// Implementations must satisfy decode(encode(x, p), p) == x for every x and
// starting stream position p.
type Filter interface {
	// Encode transforms p, a chunk starting at absolute stream position
	// pos, in place or into a new slice, and returns the result.
	Encode(p []byte, pos int64) ([]byte, error)
	// Decode is the inverse of Encode.
	Decode(p []byte, pos int64) ([]byte, error)
}

// Codec is the terminal, non-reversible (in the Filter sense) compression
// stage of a pipeline: an io.Reader/Writer pair.
type Codec interface {
	NewEncoder(w io.Writer) (io.WriteCloser, error)
	NewDecoder(r io.Reader) (io.ReadCloser, error)
}

// ErrEmptyPipeline is returned when a Pipeline is built without a terminal
// Codec.
var ErrEmptyPipeline = errors.New("filterpipe: pipeline requires a terminal codec")

// Pipeline is an ordered stack of Filters plus one terminal Codec.
type Pipeline struct {
	filters []Filter
	codec   Codec
}

// New builds a Pipeline. filters are applied outermost-first at encode
// time (filters[0] is applied to the raw bytes first, its output feeds
// filters[1], and so on, with codec as the innermost/terminal stage).
func New(codec Codec, filters ...Filter) (*Pipeline, error) {
	if codec == nil {
		return nil, ErrEmptyPipeline
	}

	return &Pipeline{filters: filters, codec: codec}, nil
}

// Encode runs data through the filter stack outermost-in, then through the
// terminal codec, returning the fully encoded bytes.
func (p *Pipeline) Encode(data []byte, pos int64) ([]byte, error) {
	buf := data

	for _, f := range p.filters {
		var err error

		buf, err = f.Encode(buf, pos)
		if err != nil {
			return nil, fmt.Errorf("filterpipe: error applying filter: %w", err)
		}
	}

	var out bytes.Buffer

	w, err := p.codec.NewEncoder(&out)
	if err != nil {
		return nil, fmt.Errorf("filterpipe: error creating encoder: %w", err)
	}

	if _, err := w.Write(buf); err != nil {
		return nil, fmt.Errorf("filterpipe: error writing to encoder: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("filterpipe: error closing encoder: %w", err)
	}

	return out.Bytes(), nil
}

// Decode runs data through the terminal codec, then back through the
// filter stack innermost-out (the reverse order of Encode).
func (p *Pipeline) Decode(data []byte, pos int64) ([]byte, error) {
	r, err := p.codec.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("filterpipe: error creating decoder: %w", err)
	}

	defer r.Close()

	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("filterpipe: error reading from decoder: %w", err)
	}

	for i := len(p.filters) - 1; i >= 0; i-- {
		buf, err = p.filters[i].Decode(buf, pos)
		if err != nil {
			return nil, fmt.Errorf("filterpipe: error reversing filter: %w", err)
		}
	}

	return buf, nil
}
