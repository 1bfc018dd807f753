package sevenzip

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bodgit/windows"
)

// Property IDs, as laid out in the 7z format specification.
const (
	idEnd = iota
	idHeader
	idArchiveProperties
	idAdditionalStreamsInfo
	idMainStreamsInfo
	idFilesInfo
	idPackInfo
	idUnpackInfo
	idSubStreamsInfo
	idSize
	idCRC
	idFolder
	idCodersUnpackSize
	idNumUnpackStream
	idEmptyStream
	idEmptyFile
	idAnti
	idName
	idCTime
	idATime
	idMTime
	idWinAttributes
	idComment
	idEncodedHeader
	idStartPos
	idDummy
)

var errUnexpectedID = errors.New("sevenzip: unexpected id")

type byteReader interface {
	io.Reader
	io.ByteReader
}

func readUint64(br byteReader) (uint64, error) {
	first, err := br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("sevenzip: error reading uint64 mask: %w", err)
	}

	var (
		mask  byte = 0x80
		value uint64
	)

	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			value |= uint64(first&(mask-1)) << (8 * i)

			return value, nil
		}

		b, err := br.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("sevenzip: error reading uint64 byte: %w", err)
		}

		value |= uint64(b) << (8 * i)
		mask >>= 1
	}

	return value, nil
}

func readNumber(br byteReader) (uint64, error) { return readUint64(br) }

func readID(br byteReader) (byte, error) {
	id, err := br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("sevenzip: error reading id: %w", err)
	}

	return id, nil
}

func expectID(br byteReader, want byte) error {
	id, err := readID(br)
	if err != nil {
		return err
	}

	if id != want {
		return fmt.Errorf("%w: got %#x want %#x", errUnexpectedID, id, want)
	}

	return nil
}

func readBits(br byteReader, n int) ([]bool, error) {
	out := make([]bool, n)

	var (
		mask byte
		b    byte
		err  error
	)

	for i := 0; i < n; i++ {
		if mask == 0 {
			if b, err = br.ReadByte(); err != nil {
				return nil, fmt.Errorf("sevenzip: error reading bits: %w", err)
			}

			mask = 0x80
		}

		out[i] = b&mask != 0
		mask >>= 1
	}

	return out, nil
}

func readBoolVector(br byteReader, n int) ([]bool, error) {
	allDefined, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading bool vector header: %w", err)
	}

	if allDefined != 0 {
		out := make([]bool, n)
		for i := range out {
			out[i] = true
		}

		return out, nil
	}

	return readBits(br, n)
}

func readUint32LE(br byteReader) (uint32, error) {
	var v uint32

	for i := 0; i < 4; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("sevenzip: error reading uint32: %w", err)
		}

		v |= uint32(b) << (8 * i)
	}

	return v, nil
}

func readDigests(br byteReader, n int) ([]uint32, error) {
	defined, err := readBoolVector(br, n)
	if err != nil {
		return nil, err
	}

	digest := make([]uint32, n)

	for i := 0; i < n; i++ {
		if !defined[i] {
			continue
		}

		if digest[i], err = readUint32LE(br); err != nil {
			return nil, err
		}
	}

	return digest, nil
}

//nolint:cyclop
func readPackInfo(br byteReader) (*packInfo, error) {
	pos, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	streams, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	pi := &packInfo{position: pos, streams: streams}

	for {
		id, err := readID(br)
		if err != nil {
			return nil, err
		}

		switch id {
		case idSize:
			pi.size = make([]uint64, streams)

			for i := range pi.size {
				if pi.size[i], err = readNumber(br); err != nil {
					return nil, err
				}
			}
		case idCRC:
			if pi.digest, err = readDigests(br, int(streams)); err != nil { //nolint:gosec
				return nil, err
			}
		case idEnd:
			return pi, nil
		default:
			return nil, fmt.Errorf("%w: %#x in PackInfo", errUnexpectedID, id)
		}
	}
}

//nolint:cyclop,funlen
func readFolder(br byteReader) (*folder, error) {
	numCoders, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	f := &folder{coder: make([]*coder, numCoders)}

	var totalIn, totalOut uint64

	for i := range f.coder {
		flags, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error reading coder flags: %w", err)
		}

		idSize := int(flags & 0x0f)
		c := &coder{id: make([]byte, idSize), in: 1, out: 1}

		if _, err := io.ReadFull(br, c.id); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading coder id: %w", err)
		}

		if flags&0x10 != 0 {
			if c.in, err = readNumber(br); err != nil {
				return nil, err
			}

			if c.out, err = readNumber(br); err != nil {
				return nil, err
			}
		}

		if flags&0x20 != 0 {
			size, err := readNumber(br)
			if err != nil {
				return nil, err
			}

			c.properties = make([]byte, size)
			if _, err := io.ReadFull(br, c.properties); err != nil {
				return nil, fmt.Errorf("sevenzip: error reading coder properties: %w", err)
			}
		}

		if flags&0x80 != 0 {
			return nil, fmt.Errorf("%w: alternative coder methods unsupported", errUnexpectedID)
		}

		f.coder[i] = c
		totalIn += c.in
		totalOut += c.out
	}

	f.in, f.out = totalIn, totalOut

	numBindPairs := totalOut - 1
	f.bindPair = make([]*bindPair, numBindPairs)

	for i := range f.bindPair {
		in, err := readNumber(br)
		if err != nil {
			return nil, err
		}

		out, err := readNumber(br)
		if err != nil {
			return nil, err
		}

		f.bindPair[i] = &bindPair{in: in, out: out}
	}

	numPackedStreams := totalIn - numBindPairs
	f.packedStreams = numPackedStreams
	f.packed = make([]uint64, numPackedStreams)

	if numPackedStreams == 1 {
		for i := uint64(0); i < totalIn; i++ {
			if f.findInBindPair(i) == nil {
				f.packed[0] = i

				break
			}
		}
	} else {
		for i := range f.packed {
			if f.packed[i], err = readNumber(br); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

func readUnpackInfo(br byteReader) (*unpackInfo, error) {
	if err := expectID(br, idFolder); err != nil {
		return nil, err
	}

	numFolders, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	external, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading external flag: %w", err)
	}

	if external != 0 {
		return nil, fmt.Errorf("%w: external folder data unsupported", errUnexpectedID)
	}

	ui := &unpackInfo{folder: make([]*folder, numFolders)}

	for i := range ui.folder {
		if ui.folder[i], err = readFolder(br); err != nil {
			return nil, err
		}
	}

	if err := expectID(br, idCodersUnpackSize); err != nil {
		return nil, err
	}

	for _, f := range ui.folder {
		f.size = make([]uint64, f.out)

		for i := range f.size {
			if f.size[i], err = readNumber(br); err != nil {
				return nil, err
			}
		}
	}

	numFoldersWithDigest := 0

	for {
		id, err := readID(br)
		if err != nil {
			return nil, err
		}

		switch id {
		case idCRC:
			defined, err := readBoolVector(br, int(numFolders)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			ui.digest = make([]uint32, numFolders)

			for i := range defined {
				if !defined[i] {
					continue
				}

				if ui.digest[i], err = readUint32LE(br); err != nil {
					return nil, err
				}

				numFoldersWithDigest++
			}
		case idEnd:
			return ui, nil
		default:
			return nil, fmt.Errorf("%w: %#x in UnpackInfo", errUnexpectedID, id)
		}
	}
}

//nolint:cyclop,funlen
func readSubStreamsInfo(br byteReader, ui *unpackInfo) (*subStreamsInfo, error) {
	ssi := &subStreamsInfo{streams: make([]uint64, len(ui.folder))}

	for i := range ssi.streams {
		ssi.streams[i] = 1
	}

	id, err := readID(br)
	if err != nil {
		return nil, err
	}

	if id == idNumUnpackStream {
		for i := range ssi.streams {
			if ssi.streams[i], err = readNumber(br); err != nil {
				return nil, err
			}
		}

		if id, err = readID(br); err != nil {
			return nil, err
		}
	}

	var sizes []uint64

	for folderIndex, numStreams := range ssi.streams {
		if numStreams == 0 {
			continue
		}

		sum := uint64(0)

		for i := uint64(0); i < numStreams-1; i++ {
			var size uint64

			if id == idSize {
				if size, err = readNumber(br); err != nil {
					return nil, err
				}
			}

			sizes = append(sizes, size)
			sum += size
		}

		sizes = append(sizes, ui.folder[folderIndex].unpackSize()-sum)
	}

	if id == idSize {
		if id, err = readID(br); err != nil {
			return nil, err
		}
	}

	ssi.size = sizes

	numDigests := 0

	for folderIndex, numStreams := range ssi.streams {
		if numStreams != 1 || len(ui.digest) == 0 || ui.digest[folderIndex] == 0 {
			numDigests += int(numStreams) //nolint:gosec
		}
	}

	digest := make([]uint32, len(sizes))
	digestIndex := 0

	for {
		switch id {
		case idCRC:
			defined, err := readBoolVector(br, numDigests)
			if err != nil {
				return nil, err
			}

			j := 0

			for folderIndex, numStreams := range ssi.streams {
				if numStreams == 1 && len(ui.digest) > 0 && ui.digest[folderIndex] != 0 {
					digest[digestIndex] = ui.digest[folderIndex]
					digestIndex++

					continue
				}

				for s := uint64(0); s < numStreams; s++ {
					if defined[j] {
						if digest[digestIndex], err = readUint32LE(br); err != nil {
							return nil, err
						}
					}

					j++
					digestIndex++
				}
			}

			if id, err = readID(br); err != nil {
				return nil, err
			}
		case idEnd:
			ssi.digest = digest

			return ssi, nil
		default:
			return nil, fmt.Errorf("%w: %#x in SubStreamsInfo", errUnexpectedID, id)
		}
	}
}

//nolint:cyclop
func readStreamsInfo(br byteReader) (*streamsInfo, error) {
	si := new(streamsInfo)

	id, err := readID(br)
	if err != nil {
		return nil, err
	}

	if id == idPackInfo {
		if si.packInfo, err = readPackInfo(br); err != nil {
			return nil, err
		}

		if id, err = readID(br); err != nil {
			return nil, err
		}
	}

	if id == idUnpackInfo {
		if si.unpackInfo, err = readUnpackInfo(br); err != nil {
			return nil, err
		}

		if id, err = readID(br); err != nil {
			return nil, err
		}
	}

	if id == idSubStreamsInfo {
		if si.subStreamsInfo, err = readSubStreamsInfo(br, si.unpackInfo); err != nil {
			return nil, err
		}

		if id, err = readID(br); err != nil {
			return nil, err
		}
	}

	if id != idEnd {
		return nil, fmt.Errorf("%w: %#x in StreamsInfo", errUnexpectedID, id)
	}

	return si, nil
}

func filesFromNames(names []string, emptyStream, emptyFile, anti []bool) []FileHeader {
	file := make([]FileHeader, len(names))

	j := 0

	for i, name := range names {
		file[i].Name = name

		if emptyStream != nil && emptyStream[i] {
			file[i].isEmptyStream = true

			if emptyFile != nil && j < len(emptyFile) && emptyFile[j] {
				file[i].isEmptyFile = true
			}

			if anti != nil && j < len(anti) && anti[j] {
				file[i].isEmptyFile = false
			}

			j++
		}
	}

	return file
}

func readNames(br byteReader, n int) ([]string, error) {
	external, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading names external flag: %w", err)
	}

	if external != 0 {
		return nil, fmt.Errorf("%w: external names unsupported", errUnexpectedID)
	}

	names := make([]string, 0, n)

	var buf []uint16

	for len(names) < n {
		var lo, hi byte

		if lo, err = br.ReadByte(); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading name byte: %w", err)
		}

		if hi, err = br.ReadByte(); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading name byte: %w", err)
		}

		cp := uint16(lo) | uint16(hi)<<8

		if cp == 0 {
			names = append(names, windows.UTF16ToString(buf))
			buf = nil

			continue
		}

		buf = append(buf, cp)
	}

	return names, nil
}

func readFileTime(br byteReader) (time.Time, error) {
	var v uint64

	for i := 0; i < 8; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return time.Time{}, fmt.Errorf("sevenzip: error reading filetime: %w", err)
		}

		v |= uint64(b) << (8 * i)
	}

	// Windows FILETIME: 100ns intervals since 1601-01-01.
	const epochDiff = 116444736000000000

	sec := (int64(v) - epochDiff) / 10000000     //nolint:gomnd
	nsec := ((int64(v) - epochDiff) % 10000000) * 100

	return time.Unix(sec, nsec).UTC(), nil
}

func readTimeVector(br byteReader, n int) ([]time.Time, []bool, error) {
	defined, err := readBoolVector(br, n)
	if err != nil {
		return nil, nil, err
	}

	external, err := br.ReadByte()
	if err != nil {
		return nil, nil, fmt.Errorf("sevenzip: error reading time external flag: %w", err)
	}

	if external != 0 {
		return nil, nil, fmt.Errorf("%w: external times unsupported", errUnexpectedID)
	}

	times := make([]time.Time, n)

	for i := range times {
		if !defined[i] {
			continue
		}

		if times[i], err = readFileTime(br); err != nil {
			return nil, nil, err
		}
	}

	return times, defined, nil
}

//nolint:cyclop,funlen,gocognit
func readFilesInfo(br byteReader) (*filesInfo, error) {
	numFiles, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	var (
		names               []string
		emptyStream         []bool
		emptyFile           []bool
		anti                []bool
		cTime, aTime, mTime []time.Time
		attrDefined         []bool
		attr                []uint32
	)

	for {
		id, err := readID(br)
		if err != nil {
			return nil, err
		}

		if id == idEnd {
			break
		}

		size, err := readNumber(br)
		if err != nil {
			return nil, err
		}

		lr := &io.LimitedReader{R: br, N: int64(size)} //nolint:gosec
		lbr := bufio.NewReader(lr)

		switch id {
		case idEmptyStream:
			if emptyStream, err = readBits(lbr, int(numFiles)); err != nil { //nolint:gosec
				return nil, err
			}
		case idEmptyFile:
			numEmptyStreams := 0

			for _, b := range emptyStream {
				if b {
					numEmptyStreams++
				}
			}

			if emptyFile, err = readBits(lbr, numEmptyStreams); err != nil {
				return nil, err
			}
		case idAnti:
			numEmptyStreams := 0

			for _, b := range emptyStream {
				if b {
					numEmptyStreams++
				}
			}

			if anti, err = readBits(lbr, numEmptyStreams); err != nil {
				return nil, err
			}
		case idName:
			if names, err = readNames(lbr, int(numFiles)); err != nil { //nolint:gosec
				return nil, err
			}
		case idCTime:
			if cTime, _, err = readTimeVector(lbr, int(numFiles)); err != nil { //nolint:gosec
				return nil, err
			}
		case idATime:
			if aTime, _, err = readTimeVector(lbr, int(numFiles)); err != nil { //nolint:gosec
				return nil, err
			}
		case idMTime:
			if mTime, _, err = readTimeVector(lbr, int(numFiles)); err != nil { //nolint:gosec
				return nil, err
			}
		case idWinAttributes:
			if attrDefined, err = readBoolVector(lbr, int(numFiles)); err != nil { //nolint:gosec
				return nil, err
			}

			external, err := lbr.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("sevenzip: error reading attributes external flag: %w", err)
			}

			if external != 0 {
				return nil, fmt.Errorf("%w: external attributes unsupported", errUnexpectedID)
			}

			attr = make([]uint32, numFiles)

			for i := range attr {
				if !attrDefined[i] {
					continue
				}

				if attr[i], err = readUint32LE(lbr); err != nil {
					return nil, err
				}
			}
		}

		if n, _ := io.Copy(io.Discard, lr); n != 0 {
			return nil, errTooMuch
		}
	}

	fi := &filesInfo{file: filesFromNames(names, emptyStream, emptyFile, anti)}

	for i := range fi.file {
		if i < len(cTime) {
			fi.file[i].Created = cTime[i]
		}

		if i < len(aTime) {
			fi.file[i].Accessed = aTime[i]
		}

		if i < len(mTime) {
			fi.file[i].Modified = mTime[i]
		}

		if i < len(attr) {
			fi.file[i].Attributes = attr[i]
		}
	}

	return fi, nil
}

func readHeader(br byteReader) (*header, error) {
	h := new(header)

	id, err := readID(br)
	if err != nil {
		return nil, err
	}

	if id == idArchiveProperties {
		for {
			if id, err = readID(br); err != nil {
				return nil, err
			}

			if id == idEnd {
				break
			}

			size, err := readNumber(br)
			if err != nil {
				return nil, err
			}

			if _, err := io.CopyN(io.Discard, br, int64(size)); err != nil { //nolint:gosec
				return nil, fmt.Errorf("sevenzip: error skipping archive property: %w", err)
			}
		}

		if id, err = readID(br); err != nil {
			return nil, err
		}
	}

	if id == idAdditionalStreamsInfo {
		if _, err = readStreamsInfo(br); err != nil {
			return nil, err
		}

		if id, err = readID(br); err != nil {
			return nil, err
		}
	}

	if id == idMainStreamsInfo {
		if h.streamsInfo, err = readStreamsInfo(br); err != nil {
			return nil, err
		}

		if id, err = readID(br); err != nil {
			return nil, err
		}
	}

	if id == idFilesInfo {
		if h.filesInfo, err = readFilesInfo(br); err != nil {
			return nil, err
		}

		if id, err = readID(br); err != nil {
			return nil, err
		}
	}

	if id != idEnd {
		return nil, fmt.Errorf("%w: %#x in Header", errUnexpectedID, id)
	}

	return h, nil
}

func readEncodedHeader(br byteReader) (*header, error) {
	if err := expectID(br, idHeader); err != nil {
		return nil, err
	}

	return readHeader(br)
}
