package sevenzip

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/bodgit/windows"
)

func writeUint64(w *bufio.Writer, v uint64) error {
	var (
		first byte
		mask  byte = 0x80
		buf   [8]byte
		n     int
	)

	for n = 0; n < 8; n++ {
		if v < uint64(1)<<(8*uint(n+1)-uint(n+1)) { //nolint:gosec
			break
		}
	}

	if n == 8 {
		if err := w.WriteByte(0xff); err != nil {
			return fmt.Errorf("sevenzip: error writing uint64 marker: %w", err)
		}

		return binary.Write(w, binary.LittleEndian, v) //nolint:wrapcheck
	}

	for i := 0; i < n; i++ {
		buf[i] = byte(v >> (8 * i))
		first |= mask
		mask >>= 1
	}

	first |= byte(v >> (8 * n))

	if err := w.WriteByte(first); err != nil {
		return fmt.Errorf("sevenzip: error writing uint64 header: %w", err)
	}

	if _, err := w.Write(buf[:n]); err != nil {
		return fmt.Errorf("sevenzip: error writing uint64 body: %w", err)
	}

	return nil
}

func writeID(w *bufio.Writer, id byte) error {
	if err := w.WriteByte(id); err != nil {
		return fmt.Errorf("sevenzip: error writing id: %w", err)
	}

	return nil
}

func writeBoolVectorAllTrue(w *bufio.Writer) error {
	if err := w.WriteByte(1); err != nil {
		return fmt.Errorf("sevenzip: error writing bool vector: %w", err)
	}

	return nil
}

func writeUint32LE(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)

	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("sevenzip: error writing uint32: %w", err)
	}

	return nil
}

func writeDigests(w *bufio.Writer, digest []uint32) error {
	if err := writeBoolVectorAllTrue(w); err != nil {
		return err
	}

	for _, d := range digest {
		if err := writeUint32LE(w, d); err != nil {
			return err
		}
	}

	return nil
}

func writePackInfo(w *bufio.Writer, sizes []uint64) error {
	if err := writeID(w, idPackInfo); err != nil {
		return err
	}

	if err := writeUint64(w, 0); err != nil {
		return err
	}

	if err := writeUint64(w, uint64(len(sizes))); err != nil {
		return err
	}

	if err := writeID(w, idSize); err != nil {
		return err
	}

	for _, s := range sizes {
		if err := writeUint64(w, s); err != nil {
			return err
		}
	}

	return writeID(w, idEnd)
}

// writeCoder writes a single coder entry: method id, optional properties,
// always exactly one input and one output (every coder the Writer produces
// is 1-in/1-out, chained linearly through bind pairs by writeFolder).
func writeCoder(w *bufio.Writer, spec coderSpec) error {
	flags := byte(len(spec.methodID))
	if len(spec.properties) > 0 {
		flags |= 0x20
	}

	if err := w.WriteByte(flags); err != nil {
		return fmt.Errorf("sevenzip: error writing coder flags: %w", err)
	}

	if _, err := w.Write(spec.methodID); err != nil {
		return fmt.Errorf("sevenzip: error writing coder id: %w", err)
	}

	if len(spec.properties) > 0 {
		if err := writeUint64(w, uint64(len(spec.properties))); err != nil {
			return err
		}

		if _, err := w.Write(spec.properties); err != nil {
			return fmt.Errorf("sevenzip: error writing coder properties: %w", err)
		}
	}

	return nil
}

// writeFolder writes a folder's coder chain. f.stages holds the chain in
// encode order (filters first, terminal codec last); the 7z format stores
// coders in decode order, so the chain is reversed here. Every coder is
// 1-in/1-out, so bind pair i simply threads coder i's output into coder
// i+1's input, the packed stream feeds coder 0's input, and the folder's
// sole unbound output is the last coder's output.
func writeFolder(w *bufio.Writer, f *pendingFolder) error {
	n := len(f.stages)

	if err := writeUint64(w, uint64(n)); err != nil {
		return err
	}

	for i := n - 1; i >= 0; i-- {
		if err := writeCoder(w, f.stages[i]); err != nil {
			return err
		}
	}

	for i := 0; i < n-1; i++ {
		if err := writeUint64(w, uint64(i+1)); err != nil { // in index
			return err
		}

		if err := writeUint64(w, uint64(i)); err != nil { // out index
			return err
		}
	}

	return nil
}

func writeUnpackInfo(w *bufio.Writer, folders []*pendingFolder) error {
	if err := writeID(w, idUnpackInfo); err != nil {
		return err
	}

	if err := writeID(w, idFolder); err != nil {
		return err
	}

	if err := writeUint64(w, uint64(len(folders))); err != nil {
		return err
	}

	if err := w.WriteByte(0); err != nil { // not external
		return fmt.Errorf("sevenzip: error writing external flag: %w", err)
	}

	for _, f := range folders {
		if err := writeFolder(w, f); err != nil {
			return err
		}
	}

	if err := writeID(w, idCodersUnpackSize); err != nil {
		return err
	}

	for _, f := range folders {
		for range f.stages {
			if err := writeUint64(w, uint64(len(f.plain))); err != nil {
				return err
			}
		}
	}

	if err := writeID(w, idCRC); err != nil {
		return err
	}

	digests := make([]uint32, len(folders))
	for i, f := range folders {
		digests[i] = f.crc
	}

	if err := writeDigests(w, digests); err != nil {
		return err
	}

	return writeID(w, idEnd)
}

// writeSubStreamsInfo always records an explicit stream count per folder,
// even when every folder holds exactly one file. [streamsInfo.FileFolderAndSize]
// only walks per-folder stream counts when SubStreamsInfo is present;
// omitting it collapses every file's folder index to 0.
func writeSubStreamsInfo(w *bufio.Writer, folders []*pendingFolder) error {
	if err := writeID(w, idSubStreamsInfo); err != nil {
		return err
	}

	if err := writeID(w, idNumUnpackStream); err != nil {
		return err
	}

	for _, f := range folders {
		if err := writeUint64(w, uint64(len(f.files))); err != nil {
			return err
		}
	}

	if err := writeID(w, idSize); err != nil {
		return err
	}

	for _, f := range folders {
		for i := 0; i < len(f.files)-1; i++ {
			if err := writeUint64(w, uint64(len(f.files[i].data))); err != nil {
				return err
			}
		}
	}

	if err := writeID(w, idCRC); err != nil {
		return err
	}

	var digests []uint32

	for _, f := range folders {
		if len(f.files) == 1 {
			continue
		}

		for _, pf := range f.files {
			digests = append(digests, pf.crc)
		}
	}

	if err := writeDigests(w, digests); err != nil {
		return err
	}

	return writeID(w, idEnd)
}

func writeStreamsInfo(w *bufio.Writer, folders []*pendingFolder, packSizes []uint64) error {
	if err := writePackInfo(w, packSizes); err != nil {
		return err
	}

	if err := writeUnpackInfo(w, folders); err != nil {
		return err
	}

	if err := writeSubStreamsInfo(w, folders); err != nil {
		return err
	}

	return writeID(w, idEnd)
}

func encodeFileTime(t time.Time) uint64 {
	const epochDiff = 116444736000000000

	return uint64(t.UnixNano()/100) + epochDiff //nolint:gosec
}

func writeNames(w *bufio.Writer, names []string) error {
	if err := writeID(w, idName); err != nil {
		return err
	}

	var size int

	encoded := make([][]uint16, len(names))

	for i, n := range names {
		encoded[i] = windows.UTF16FromString(n)
		size += 2*len(encoded[i]) + 2
	}

	if err := writeUint64(w, uint64(size+1)); err != nil {
		return err
	}

	if err := w.WriteByte(0); err != nil { // not external
		return fmt.Errorf("sevenzip: error writing names external flag: %w", err)
	}

	for _, e := range encoded {
		for _, cp := range e {
			if err := binary.Write(w, binary.LittleEndian, cp); err != nil {
				return fmt.Errorf("sevenzip: error writing name codepoint: %w", err)
			}
		}

		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return fmt.Errorf("sevenzip: error writing name terminator: %w", err)
		}
	}

	return nil
}

func writeTimeVector(w *bufio.Writer, id byte, times []time.Time) error {
	if err := writeID(w, id); err != nil {
		return err
	}

	size := 2 + 8*len(times)

	if err := writeUint64(w, uint64(size)); err != nil {
		return err
	}

	if err := writeBoolVectorAllTrue(w); err != nil {
		return err
	}

	if err := w.WriteByte(0); err != nil { // not external
		return fmt.Errorf("sevenzip: error writing time external flag: %w", err)
	}

	for _, t := range times {
		if err := binary.Write(w, binary.LittleEndian, encodeFileTime(t)); err != nil {
			return fmt.Errorf("sevenzip: error writing filetime: %w", err)
		}
	}

	return nil
}

func writeAttributes(w *bufio.Writer, attr []uint32) error {
	if err := writeID(w, idWinAttributes); err != nil {
		return err
	}

	size := 2 + 4*len(attr)

	if err := writeUint64(w, uint64(size)); err != nil {
		return err
	}

	if err := writeBoolVectorAllTrue(w); err != nil {
		return err
	}

	if err := w.WriteByte(0); err != nil { // not external
		return fmt.Errorf("sevenzip: error writing attributes external flag: %w", err)
	}

	for _, a := range attr {
		if err := writeUint32LE(w, a); err != nil {
			return err
		}
	}

	return nil
}

func writeEmptyStreamBits(w *bufio.Writer, bits []bool) error {
	if err := writeID(w, idEmptyStream); err != nil {
		return err
	}

	size := (len(bits) + 7) / 8

	if err := writeUint64(w, uint64(size)); err != nil {
		return err
	}

	return writeBits(w, bits)
}

func writeEmptyFileBits(w *bufio.Writer, bits []bool) error {
	if err := writeID(w, idEmptyFile); err != nil {
		return err
	}

	size := (len(bits) + 7) / 8

	if err := writeUint64(w, uint64(size)); err != nil {
		return err
	}

	return writeBits(w, bits)
}

func writeBits(w *bufio.Writer, bits []bool) error {
	var (
		b    byte
		mask byte = 0x80
	)

	for _, v := range bits {
		if v {
			b |= mask
		}

		mask >>= 1

		if mask == 0 {
			if err := w.WriteByte(b); err != nil {
				return fmt.Errorf("sevenzip: error writing bits: %w", err)
			}

			b, mask = 0, 0x80
		}
	}

	if mask != 0x80 {
		if err := w.WriteByte(b); err != nil {
			return fmt.Errorf("sevenzip: error writing bits: %w", err)
		}
	}

	return nil
}

//nolint:funlen
func writeFilesInfo(w *bufio.Writer, pending []*pendingFile) error {
	if err := writeID(w, idFilesInfo); err != nil {
		return err
	}

	if err := writeUint64(w, uint64(len(pending))); err != nil {
		return err
	}

	emptyStream := make([]bool, len(pending))
	anyEmpty := false

	var emptyFile []bool

	for i, pf := range pending {
		emptyStream[i] = pf.header.isEmptyStream
		anyEmpty = anyEmpty || pf.header.isEmptyStream

		if pf.header.isEmptyStream {
			emptyFile = append(emptyFile, pf.header.isEmptyFile)
		}
	}

	if anyEmpty {
		if err := writeEmptyStreamBits(w, emptyStream); err != nil {
			return err
		}

		if err := writeEmptyFileBits(w, emptyFile); err != nil {
			return err
		}
	}

	names := make([]string, len(pending))

	var (
		cTime, aTime, mTime []time.Time
		attrs               []uint32
	)

	for i, pf := range pending {
		f := pf.header
		names[i] = f.Name
		cTime = append(cTime, f.Created)
		aTime = append(aTime, f.Accessed)
		mTime = append(mTime, f.Modified)
		attrs = append(attrs, f.Attributes)
	}

	if err := writeNames(w, names); err != nil {
		return err
	}

	if err := writeTimeVector(w, idCTime, cTime); err != nil {
		return err
	}

	if err := writeTimeVector(w, idATime, aTime); err != nil {
		return err
	}

	if err := writeTimeVector(w, idMTime, mTime); err != nil {
		return err
	}

	if err := writeAttributes(w, attrs); err != nil {
		return err
	}

	return writeID(w, idEnd)
}
