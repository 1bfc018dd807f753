// Package xz implements a single-block subset of the .xz container format:
// stream header/footer, one block with a 0-3 entry BCJ/Delta filter chain
// terminated by LZMA2, and a CRC-32 (or CRC-64 on decode) integrity check.
package xz

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"hash/crc64"
	"io"

	"github.com/bodgit/archive/internal/bra"
	"github.com/bodgit/archive/internal/delta"
	"github.com/bodgit/archive/internal/filterpipe"
	"github.com/bodgit/archive/internal/ia64"
	"github.com/bodgit/archive/internal/lzma2"
)

var streamMagic = [6]byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

var footerMagic = [2]byte{'Y', 'Z'}

// FilterID identifies a preprocessing filter in an XZ filter chain.
type FilterID int

// Filter chain entries supported by this package. ARM64 is omitted: the XZ
// format never assigned it a filter ID.
const (
	FilterX86 FilterID = iota + 1
	FilterARM
	FilterARMThumb
	FilterPPC
	FilterSPARC
	FilterIA64
	FilterDelta
)

// Filter is one entry of a filter chain passed to Encode. Distance is only
// meaningful for FilterDelta.
type Filter struct {
	ID       FilterID
	Distance int
}

var (
	errTooManyFilters   = errors.New("xz: at most 3 chain filters are supported ahead of LZMA2")
	errUnknownFilterID  = errors.New("xz: unknown filter id")
	errBadStreamMagic   = errors.New("xz: bad stream magic")
	errBadFooterMagic   = errors.New("xz: bad footer magic")
	errStreamFlagsCRC   = errors.New("xz: stream flags CRC mismatch")
	errBlockHeaderCRC   = errors.New("xz: block header CRC mismatch")
	errFooterCRC        = errors.New("xz: footer CRC mismatch")
	errFooterFlags      = errors.New("xz: footer stream flags do not match header")
	errIndexCRC         = errors.New("xz: index CRC mismatch")
	errCheckMismatch    = errors.New("xz: block check mismatch")
	errUnsupportedCheck = errors.New("xz: unsupported block check type")
	errTruncated        = errors.New("xz: truncated stream")
	errVarintTooLong    = errors.New("xz: varint too long")
)

const (
	checkNone  = 0x00
	checkCRC32 = 0x01
	checkCRC64 = 0x04
)

var xzFilterID = map[FilterID]uint64{
	FilterX86:      0x04,
	FilterPPC:      0x05,
	FilterIA64:     0x06,
	FilterARM:      0x07,
	FilterARMThumb: 0x08,
	FilterSPARC:    0x09,
	FilterDelta:    0x03,
}

const lzma2FilterID = 0x21

func filterByXZID(id uint64) (FilterID, bool) {
	for k, v := range xzFilterID {
		if v == id {
			return k, true
		}
	}

	return 0, false
}

func chainFilter(f Filter) (filterpipe.Filter, error) {
	switch f.ID {
	case FilterX86:
		return bra.X86(), nil
	case FilterARM:
		return bra.ARM(), nil
	case FilterARMThumb:
		return bra.ARMThumb(), nil
	case FilterPPC:
		return bra.PPC(), nil
	case FilterSPARC:
		return bra.SPARC(), nil
	case FilterIA64:
		return ia64.Filter{}, nil
	case FilterDelta:
		return delta.NewCircularFilter(f.Distance)
	default:
		return nil, errUnknownFilterID
	}
}

// lzma2Codec adapts internal/lzma2's reader/writer pair to the
// filterpipe.Codec interface.
type lzma2Codec struct {
	prop byte
}

func (c lzma2Codec) NewEncoder(w io.Writer) (io.WriteCloser, error) {
	wc, err := lzma2.NewWriter(w, c.prop)
	if err != nil {
		return nil, fmt.Errorf("xz: error creating lzma2 encoder: %w", err)
	}

	return wc, nil
}

func (c lzma2Codec) NewDecoder(r io.Reader) (io.ReadCloser, error) {
	rc, err := lzma2.NewReader([]byte{c.prop}, 0, []io.ReadCloser{io.NopCloser(r)})
	if err != nil {
		return nil, fmt.Errorf("xz: error creating lzma2 decoder: %w", err)
	}

	return rc, nil
}

func putVarint(buf *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}

	buf.WriteByte(byte(v))
}

func readVarint(r *bytes.Reader) (uint64, error) {
	var (
		v     uint64
		shift uint
	)

	for i := 0; i < 9; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("xz: error reading varint: %w", err)
		}

		v |= uint64(b&0x7f) << shift

		if b&0x80 == 0 {
			return v, nil
		}

		shift += 7
	}

	return 0, errVarintTooLong
}

func pad4(n int) int {
	if r := n % 4; r != 0 {
		return 4 - r
	}

	return 0
}

// Encode compresses data through the given filter chain (applied in order,
// outermost first) and a terminal LZMA2 stage, wrapping the result in a
// single-block .xz stream with a CRC-32 integrity check.
func Encode(data []byte, filters []Filter) ([]byte, error) {
	if len(filters) > 3 {
		return nil, errTooManyFilters
	}

	pipelineFilters := make([]filterpipe.Filter, 0, len(filters))

	var filterIDs []uint64

	var filterProps [][]byte

	for _, f := range filters {
		pf, err := chainFilter(f)
		if err != nil {
			return nil, err
		}

		pipelineFilters = append(pipelineFilters, pf)
		filterIDs = append(filterIDs, xzFilterID[f.ID])

		if f.ID == FilterDelta {
			filterProps = append(filterProps, []byte{byte(f.Distance - 1)})
		} else {
			filterProps = append(filterProps, nil)
		}
	}

	prop := lzma2.PropertyByte(max(len(data), 1<<20))

	pipeline, err := filterpipe.New(lzma2Codec{prop: prop}, pipelineFilters...)
	if err != nil {
		return nil, fmt.Errorf("xz: error building pipeline: %w", err)
	}

	compressed, err := pipeline.Encode(data, 0)
	if err != nil {
		return nil, fmt.Errorf("xz: error encoding block: %w", err)
	}

	filterIDs = append(filterIDs, lzma2FilterID)
	filterProps = append(filterProps, []byte{prop})

	return assembleStream(compressed, uint64(len(data)), filterIDs, filterProps), //nolint:gosec
		nil
}

func assembleStream(compressed []byte, uncompressedSize uint64, filterIDs []uint64, filterProps [][]byte) []byte {
	var out bytes.Buffer

	out.Write(streamMagic[:])

	streamFlags := [2]byte{0x00, checkCRC32}
	out.Write(streamFlags[:])

	flagsCRC := crc32.ChecksumIEEE(streamFlags[:])

	var crcBuf [4]byte

	binary.LittleEndian.PutUint32(crcBuf[:], flagsCRC)
	out.Write(crcBuf[:])

	blockHeader := buildBlockHeader(uint64(len(compressed)), uncompressedSize, filterIDs, filterProps) //nolint:gosec

	out.Write(blockHeader)
	out.Write(compressed)

	if p := pad4(len(compressed)); p > 0 {
		out.Write(make([]byte, p))
	}

	check := crc32.ChecksumIEEE(compressed)
	binary.LittleEndian.PutUint32(crcBuf[:], check)
	out.Write(crcBuf[:])

	unpaddedSize := uint64(len(blockHeader) + len(compressed) + 4) //nolint:gosec

	index := buildIndex(unpaddedSize, uncompressedSize)
	indexOffset := out.Len()
	out.Write(index)

	indexSize := out.Len() - indexOffset

	footer := buildFooter(uint64(indexSize), streamFlags) //nolint:gosec
	out.Write(footer)

	return out.Bytes()
}

func buildBlockHeader(compressedSize, uncompressedSize uint64, filterIDs []uint64, filterProps [][]byte) []byte {
	var body bytes.Buffer

	flags := byte(len(filterIDs)-1) & 0x03
	flags |= 0x40 // compressed size present
	flags |= 0x80 // uncompressed size present

	body.WriteByte(flags)

	putVarint(&body, compressedSize)
	putVarint(&body, uncompressedSize)

	for i, id := range filterIDs {
		putVarint(&body, id)
		putVarint(&body, uint64(len(filterProps[i])))
		body.Write(filterProps[i])
	}

	headerLen := 1 + body.Len() // size byte itself + body
	if p := pad4(headerLen); p > 0 {
		body.Write(make([]byte, p))
		headerLen += p
	}

	var out bytes.Buffer

	out.WriteByte(byte(headerLen / 4)) //nolint:gosec
	out.Write(body.Bytes())

	crc := crc32.ChecksumIEEE(out.Bytes())

	var crcBuf [4]byte

	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	out.Write(crcBuf[:])

	return out.Bytes()
}

func buildIndex(unpaddedSize, uncompressedSize uint64) []byte {
	var body bytes.Buffer

	body.WriteByte(0x00) // index indicator
	putVarint(&body, 1)  // one block

	putVarint(&body, unpaddedSize)
	putVarint(&body, uncompressedSize)

	if p := pad4(body.Len()); p > 0 {
		body.Write(make([]byte, p))
	}

	crc := crc32.ChecksumIEEE(body.Bytes())

	var crcBuf [4]byte

	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	body.Write(crcBuf[:])

	return body.Bytes()
}

func buildFooter(indexSize uint64, streamFlags [2]byte) []byte {
	var body bytes.Buffer

	backwardSize := uint32(indexSize/4 - 1) //nolint:gosec

	var sizeBuf [4]byte

	binary.LittleEndian.PutUint32(sizeBuf[:], backwardSize)
	body.Write(sizeBuf[:])
	body.Write(streamFlags[:])

	crc := crc32.ChecksumIEEE(body.Bytes())

	var out bytes.Buffer

	var crcBuf [4]byte

	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	out.Write(crcBuf[:])
	out.Write(body.Bytes())
	out.Write(footerMagic[:])

	return out.Bytes()
}

// Decode reverses Encode, reading the filter chain and check type directly
// from the stream's block header and stream flags.
func Decode(data []byte) ([]byte, error) {
	if len(data) < len(streamMagic)+2+4 {
		return nil, errTruncated
	}

	if !bytes.Equal(data[:len(streamMagic)], streamMagic[:]) {
		return nil, errBadStreamMagic
	}

	off := len(streamMagic)

	var streamFlags [2]byte

	copy(streamFlags[:], data[off:off+2])
	off += 2

	wantFlagsCRC := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4

	if crc32.ChecksumIEEE(streamFlags[:]) != wantFlagsCRC {
		return nil, errStreamFlagsCRC
	}

	checkType := streamFlags[1] & 0x0f

	if err := verifyFooter(data, streamFlags); err != nil {
		return nil, err
	}

	blockHeaderLen := int(data[off]+1) * 4 //nolint:gosec

	if off+blockHeaderLen > len(data) {
		return nil, errTruncated
	}

	blockHeader := data[off : off+blockHeaderLen]

	wantHeaderCRC := binary.LittleEndian.Uint32(blockHeader[blockHeaderLen-4:])
	if crc32.ChecksumIEEE(blockHeader[:blockHeaderLen-4]) != wantHeaderCRC {
		return nil, errBlockHeaderCRC
	}

	filterIDs, filterProps, compressedSize, err := parseBlockHeader(blockHeader)
	if err != nil {
		return nil, err
	}

	off += blockHeaderLen

	if off+int(compressedSize) > len(data) { //nolint:gosec
		return nil, errTruncated
	}

	compressed := data[off : off+int(compressedSize)] //nolint:gosec
	off += int(compressedSize)                         //nolint:gosec
	off += pad4(int(compressedSize))                   //nolint:gosec

	if err := verifyCheck(data, &off, checkType, compressed); err != nil {
		return nil, err
	}

	pipeline, err := rebuildPipeline(filterIDs, filterProps)
	if err != nil {
		return nil, err
	}

	out, err := pipeline.Decode(compressed, 0)
	if err != nil {
		return nil, fmt.Errorf("xz: error decoding block: %w", err)
	}

	return out, nil
}

// verifyFooter validates the stream footer and the index it points back to:
// footer CRC, footer magic, matching stream flags, and the index's own CRC.
func verifyFooter(data []byte, streamFlags [2]byte) error {
	const footerLen = 12

	if len(data) < footerLen {
		return errTruncated
	}

	footer := data[len(data)-footerLen:]

	wantFooterCRC := binary.LittleEndian.Uint32(footer[0:4])
	if crc32.ChecksumIEEE(footer[4:10]) != wantFooterCRC {
		return errFooterCRC
	}

	if !bytes.Equal(footer[8:10], streamFlags[:]) {
		return errFooterFlags
	}

	if !bytes.Equal(footer[10:12], footerMagic[:]) {
		return errBadFooterMagic
	}

	backwardSize := binary.LittleEndian.Uint32(footer[4:8])
	indexSize := int(backwardSize+1) * 4 //nolint:gosec

	footerOffset := len(data) - footerLen
	indexStart := footerOffset - indexSize

	if indexStart < 0 {
		return errTruncated
	}

	index := data[indexStart:footerOffset]

	wantIndexCRC := binary.LittleEndian.Uint32(index[len(index)-4:])
	if crc32.ChecksumIEEE(index[:len(index)-4]) != wantIndexCRC {
		return errIndexCRC
	}

	return nil
}

func verifyCheck(data []byte, off *int, checkType byte, compressed []byte) error {
	switch checkType {
	case checkNone:
		return nil
	case checkCRC32:
		if *off+4 > len(data) {
			return errTruncated
		}

		got := binary.LittleEndian.Uint32(data[*off : *off+4])
		*off += 4

		if crc32.ChecksumIEEE(compressed) != got {
			return errCheckMismatch
		}

		return nil
	case checkCRC64:
		if *off+8 > len(data) {
			return errTruncated
		}

		got := binary.LittleEndian.Uint64(data[*off : *off+8])
		*off += 8

		table := crc64.MakeTable(crc64.ECMA)
		if crc64.Checksum(compressed, table) != got {
			return errCheckMismatch
		}

		return nil
	default:
		return errUnsupportedCheck
	}
}

func parseBlockHeader(header []byte) (filterIDs []uint64, filterProps [][]byte, compressedSize uint64, err error) {
	body := header[1 : len(header)-4]
	r := bytes.NewReader(body)

	flags, err := r.ReadByte()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("xz: error reading block flags: %w", err)
	}

	numFilters := int(flags&0x03) + 1

	if flags&0x40 != 0 {
		compressedSize, err = readVarint(r)
		if err != nil {
			return nil, nil, 0, err
		}
	}

	if flags&0x80 != 0 {
		if _, err := readVarint(r); err != nil { // uncompressed size, unused on decode
			return nil, nil, 0, err
		}
	}

	for i := 0; i < numFilters; i++ {
		id, ferr := readVarint(r)
		if ferr != nil {
			return nil, nil, 0, ferr
		}

		propLen, ferr := readVarint(r)
		if ferr != nil {
			return nil, nil, 0, ferr
		}

		props := make([]byte, propLen)
		if _, ferr := io.ReadFull(r, props); ferr != nil {
			return nil, nil, 0, fmt.Errorf("xz: error reading filter properties: %w", ferr)
		}

		filterIDs = append(filterIDs, id)
		filterProps = append(filterProps, props)
	}

	return filterIDs, filterProps, compressedSize, nil
}

func rebuildPipeline(filterIDs []uint64, filterProps [][]byte) (*filterpipe.Pipeline, error) {
	if len(filterIDs) == 0 {
		return nil, errUnknownFilterID
	}

	last := len(filterIDs) - 1
	if filterIDs[last] != lzma2FilterID {
		return nil, errUnknownFilterID
	}

	if len(filterProps[last]) != 1 {
		return nil, errUnknownFilterID
	}

	codec := lzma2Codec{prop: filterProps[last][0]}

	pipelineFilters := make([]filterpipe.Filter, 0, last)

	for i := 0; i < last; i++ {
		id, ok := filterByXZID(filterIDs[i])
		if !ok {
			return nil, errUnknownFilterID
		}

		f := Filter{ID: id}
		if id == FilterDelta {
			if len(filterProps[i]) != 1 {
				return nil, errUnknownFilterID
			}

			f.Distance = int(filterProps[i][0]) + 1
		}

		pf, err := chainFilter(f)
		if err != nil {
			return nil, err
		}

		pipelineFilters = append(pipelineFilters, pf)
	}

	pipeline, err := filterpipe.New(codec, pipelineFilters...)
	if err != nil {
		return nil, fmt.Errorf("xz: error rebuilding pipeline: %w", err)
	}

	return pipeline, nil
}
