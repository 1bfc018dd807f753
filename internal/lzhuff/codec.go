// Package lzhuff implements the LZ77+Huffman block codec: a sliding-window
// match finder, canonical Huffman tree construction, and an encoder/decoder
// pair producing a self-describing block format.
package lzhuff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bodgit/archive/internal/bitstream"
)

const (
	// Alphabet is the total number of symbols: 256 literals, 1
	// end-of-block marker, and 255 match-length symbols.
	Alphabet = 512

	symbolEOB      = 256
	symbolLenBase  = 257
	maxLengthCode  = Alphabet - 1
)

// ErrUnexpectedEOF is returned when the block header itself is truncated.
// A truncated item stream is not an error: the decoder returns whatever it
// decoded, per the format's partial-output-on-EOF contract.
var ErrUnexpectedEOF = bitstream.ErrUnexpectedEOF

type item struct {
	literal      bool
	symbol       byte
	matchSymbol  int
	distance     int
}

// EncodeBlock compresses data into one self-describing LZ77+Huffman block.
func EncodeBlock(data []byte) ([]byte, error) {
	items, freq := scan(data)

	lengths := BuildLengths(freq, Alphabet)
	codes := Canonicalize(lengths)

	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, uint16(Alphabet)); err != nil {
		return nil, fmt.Errorf("lzhuff: error writing symbol count: %w", err)
	}

	if err := writePackedLengths(&buf, lengths); err != nil {
		return nil, err
	}

	bw := bitstream.NewWriter(&buf)

	for _, it := range items {
		if it.literal {
			if err := writeSymbol(bw, codes, lengths, int(it.symbol)); err != nil {
				return nil, err
			}

			continue
		}

		if err := writeSymbol(bw, codes, lengths, it.matchSymbol); err != nil {
			return nil, err
		}

		if err := bw.WriteBits(uint32(it.distance), 16); err != nil { //nolint:gosec
			return nil, fmt.Errorf("lzhuff: error writing distance: %w", err)
		}
	}

	if err := writeSymbol(bw, codes, lengths, symbolEOB); err != nil {
		return nil, err
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("lzhuff: error flushing block: %w", err)
	}

	return buf.Bytes(), nil
}

func writeSymbol(bw *bitstream.Writer, codes []uint16, lengths []int, symbol int) error {
	l := lengths[symbol]
	if l == 0 {
		return fmt.Errorf("lzhuff: symbol %d has no assigned code", symbol) //nolint:err113
	}

	if err := bw.WriteBits(uint32(codes[symbol]), l); err != nil {
		return fmt.Errorf("lzhuff: error writing symbol: %w", err)
	}

	return nil
}

func writePackedLengths(w io.Writer, lengths []int) error {
	packed := make([]byte, len(lengths)/2)

	for i := 0; i < len(lengths); i += 2 {
		hi := lengths[i] & 0x0f
		lo := lengths[i+1] & 0x0f
		packed[i/2] = byte(hi<<4) | byte(lo) //nolint:gosec
	}

	if _, err := w.Write(packed); err != nil {
		return fmt.Errorf("lzhuff: error writing code lengths: %w", err)
	}

	return nil
}

func readPackedLengths(r io.Reader, n int) ([]int, error) {
	packed := make([]byte, n/2)
	if _, err := io.ReadFull(r, packed); err != nil {
		return nil, fmt.Errorf("lzhuff: error reading code lengths: %w", ErrUnexpectedEOF)
	}

	lengths := make([]int, n)
	for i, b := range packed {
		lengths[2*i] = int(b >> 4)
		lengths[2*i+1] = int(b & 0x0f)
	}

	return lengths, nil
}

func lengthToSymbol(length int) int {
	symbol := length - MinMatch + symbolLenBase
	if symbol > maxLengthCode {
		symbol = maxLengthCode
	}

	return symbol
}

func symbolToLength(symbol int) int {
	return symbol - symbolLenBase + MinMatch
}

func scan(data []byte) ([]item, []int) {
	freq := make([]int, Alphabet)
	items := make([]item, 0, len(data))

	mf := NewMatchFinder(data)

	for pos := 0; pos < len(data); {
		m, ok := mf.Find(pos)
		if !ok {
			items = append(items, item{literal: true, symbol: data[pos]})
			freq[data[pos]]++
			pos++

			continue
		}

		symbol := lengthToSymbol(m.Length)
		items = append(items, item{matchSymbol: symbol, distance: m.Distance})
		freq[symbol]++

		for i := 1; i < m.Length; i++ {
			mf.Index(pos + i)
		}

		pos += m.Length
	}

	freq[symbolEOB] = 1

	return items, freq
}

// DecodeBlock decompresses one LZ77+Huffman block produced by EncodeBlock.
// If maxOutput is non-negative, decoding stops once that many bytes have
// been produced. EOF encountered mid-block yields the partial output
// decoded so far rather than an error.
func DecodeBlock(data []byte, maxOutput int) ([]byte, error) {
	r := bytes.NewReader(data)

	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("lzhuff: error reading symbol count: %w", ErrUnexpectedEOF)
	}

	if count != Alphabet {
		return nil, fmt.Errorf("lzhuff: unexpected symbol count %d", count) //nolint:err113
	}

	lengths, err := readPackedLengths(r, Alphabet)
	if err != nil {
		return nil, err
	}

	coder := NewCoder(lengths)
	br := bitstream.NewReader(r)
	win := NewSlidingWindow()

	var out bytes.Buffer

	for maxOutput < 0 || out.Len() < maxOutput {
		symbol, err := coder.DecodeSymbol(br)
		if err != nil {
			if errors.Is(err, bitstream.ErrUnexpectedEOF) {
				return out.Bytes(), nil
			}

			return out.Bytes(), fmt.Errorf("lzhuff: error decoding symbol: %w", err)
		}

		switch {
		case symbol == symbolEOB:
			return out.Bytes(), nil
		case symbol < symbolEOB:
			win.Append(byte(symbol))
			out.WriteByte(byte(symbol))
		default:
			length := symbolToLength(symbol)

			distBits, err := br.ReadBits(16)
			if err != nil {
				if errors.Is(err, bitstream.ErrUnexpectedEOF) {
					return out.Bytes(), nil
				}

				return out.Bytes(), fmt.Errorf("lzhuff: error reading distance: %w", err)
			}

			distance := int(distBits)

			if err := win.CopyMatch(distance, length); err != nil {
				return out.Bytes(), fmt.Errorf("lzhuff: %w", err)
			}

			for i := 0; i < length; i++ {
				out.WriteByte(win.ByteAt(win.Position() - length + i))
			}
		}
	}

	return out.Bytes(), nil
}
