package sevenzip

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/bodgit/archive/internal/bra"
	"github.com/bodgit/archive/internal/delta"
	"github.com/bodgit/archive/internal/ia64"
	"github.com/bodgit/archive/internal/lzma2"
	"github.com/bodgit/archive/sevenzip/internal/brotli"
	"github.com/bodgit/archive/sevenzip/internal/deflate"
	"github.com/bodgit/archive/sevenzip/internal/lz4"
	lzhuffcoder "github.com/bodgit/archive/sevenzip/internal/lzhuff"
	"github.com/bodgit/archive/sevenzip/internal/zstd"
)

// Algorithm selects the terminal compression coder a Writer folder uses.
type Algorithm int

const (
	Copy Algorithm = iota
	LZMA2
	Deflate
	Brotli
	Zstd
	LZ4
	LzHuff
)

// FilterID selects a branch-conversion or Delta filter to run ahead of the
// terminal codec.
type FilterID int

const (
	FilterNone FilterID = iota
	FilterX86
	FilterARM
	FilterARMThumb
	FilterARM64
	FilterPPC
	FilterSPARC
	FilterIA64
	FilterDelta
)

// ErrBCJ2Unsupported reports that BCJ2 encoding is not supported. BCJ2
// splits its input into four correlated streams produced by a shared range
// coder; encoding it requires a full compressor pass that isn't implemented
// here. FilterID has no BCJ2 entry, so a Writer cannot be configured with
// BCJ2 and never returns this error.
var ErrBCJ2Unsupported = errors.New("sevenzip: BCJ2 encoding is not supported")

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Solid packs every added file into a single shared folder instead of
	// one folder per file.
	Solid bool
	// Algorithm is the terminal compression coder.
	Algorithm Algorithm
	// DeflateLevel, when Algorithm is Deflate, is passed to flate.NewWriter.
	DeflateLevel int
	// Filters runs, in order, ahead of Algorithm.
	Filters []FilterID
	// DeltaDistance is the Delta filter's distance property (1-256).
	// Only meaningful when FilterDelta is present.
	DeltaDistance int
}

var (
	errDeltaDistance = errors.New("sevenzip: delta distance must be 1-256")
	errUnknownFilter = errors.New("sevenzip: unknown filter")
	errUnknownAlgo   = errors.New("sevenzip: unknown algorithm")
	errWriterClosed  = errors.New("sevenzip: writer is closed")
)

type pendingFile struct {
	header FileHeader
	data   []byte
	crc    uint32
}

type coderSpec struct {
	methodID   []byte
	properties []byte
}

type pendingFolder struct {
	stages []coderSpec // encode order: filters..., codec last
	plain  []byte
	packed []byte
	crc    uint32
	files  []*pendingFile
}

// Writer produces a 7z archive. Because folders are packed as a whole, file
// content is buffered until Close, at which point folders are grouped
// according to WriterOptions.Solid, compressed, and the archive header and
// pack streams are emitted.
type Writer struct {
	w    io.Writer
	opts WriterOptions

	files  []*pendingFile
	closed bool
}

// NewWriter returns a Writer with default options (per-file folders, Copy
// algorithm, no filters).
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// NewWriterOptions returns a Writer configured by opts.
func NewWriterOptions(w io.Writer, opts WriterOptions) (*Writer, error) {
	for _, f := range opts.Filters {
		if f == FilterDelta && (opts.DeltaDistance < 1 || opts.DeltaDistance > 256) {
			return nil, errDeltaDistance
		}
	}

	return &Writer{w: w, opts: opts}, nil
}

func (w *Writer) addEntry(name string, attr uint32, modified time.Time, data []byte) error {
	if w.closed {
		return errWriterClosed
	}

	pf := &pendingFile{
		header: FileHeader{
			Name:             name,
			Modified:         modified,
			Attributes:       attr,
			UncompressedSize: uint64(len(data)),
		},
	}

	if len(data) > 0 {
		pf.data = data
		pf.crc = crc32.ChecksumIEEE(data)
		pf.header.CRC32 = pf.crc
	} else {
		pf.header.isEmptyStream = true

		if attr&0xf0000000 == 0 || attr>>16&sIFMT != sIFDIR {
			pf.header.isEmptyFile = true
		}
	}

	w.files = append(w.files, pf)

	return nil
}

// AddFile adds a regular file with the given content.
func (w *Writer) AddFile(name string, modified time.Time, data []byte) error {
	return w.addEntry(name, 0x8000<<16|0o644, modified, data)
}

// AddDirectory adds a directory entry.
func (w *Writer) AddDirectory(name string) error {
	return w.addEntry(name, 0x4000<<16|0o755|0x10, time.Time{}, nil)
}

// AddSymlink adds a symbolic link entry whose content is the link target,
// per 7z convention.
func (w *Writer) AddSymlink(name, target string) error {
	return w.addEntry(name, 0xa000<<16|0o777, time.Time{}, []byte(target))
}

func filterCoder(f FilterID, opts WriterOptions) (coderSpec, error) {
	switch f {
	case FilterX86:
		return coderSpec{methodID: idBCJX86New}, nil
	case FilterARM:
		return coderSpec{methodID: idBCJARMNew}, nil
	case FilterARMThumb:
		return coderSpec{methodID: idBCJARMTNew}, nil
	case FilterARM64:
		return coderSpec{methodID: idARM64}, nil
	case FilterPPC:
		return coderSpec{methodID: idBCJPPCNew}, nil
	case FilterSPARC:
		return coderSpec{methodID: idBCJSPARCNw}, nil
	case FilterIA64:
		return coderSpec{methodID: idBCJIA64New}, nil
	case FilterDelta:
		return coderSpec{methodID: idDelta, properties: []byte{byte(opts.DeltaDistance - 1)}}, nil
	case FilterNone:
		return coderSpec{}, errUnknownFilter
	default:
		return coderSpec{}, errUnknownFilter
	}
}

func applyFilterEncode(f FilterID, opts WriterOptions, data []byte) ([]byte, error) {
	switch f {
	case FilterX86:
		return bra.X86().Encode(data, 0)
	case FilterARM:
		return bra.ARM().Encode(data, 0)
	case FilterARMThumb:
		return bra.ARMThumb().Encode(data, 0)
	case FilterARM64:
		return bra.ARM64().Encode(data, 0)
	case FilterPPC:
		return bra.PPC().Encode(data, 0)
	case FilterSPARC:
		return bra.SPARC().Encode(data, 0)
	case FilterIA64:
		return ia64.Filter{}.Encode(data, 0)
	case FilterDelta:
		return delta.Encode(data, opts.DeltaDistance)
	case FilterNone:
		return data, errUnknownFilter
	default:
		return data, errUnknownFilter
	}
}

//nolint:cyclop
func compressPlain(algo Algorithm, opts WriterOptions, data []byte) (packed []byte, spec coderSpec, err error) {
	switch algo {
	case Copy:
		return data, coderSpec{methodID: idCopy}, nil
	case LZMA2:
		prop := lzma2.PropertyByte(max(len(data), 1<<20)) //nolint:gomnd

		var buf writerBuffer

		lw, err := lzma2.NewWriter(&buf, prop)
		if err != nil {
			return nil, coderSpec{}, err
		}

		if _, err := lw.Write(data); err != nil {
			return nil, coderSpec{}, fmt.Errorf("sevenzip: error compressing: %w", err)
		}

		if err := lw.Close(); err != nil {
			return nil, coderSpec{}, fmt.Errorf("sevenzip: error closing compressor: %w", err)
		}

		return buf.Bytes(), coderSpec{methodID: idLZMA2, properties: []byte{prop}}, nil
	case Deflate:
		packed, err := deflate.Compress(data, opts.DeflateLevel)
		if err != nil {
			return nil, coderSpec{}, err
		}

		return packed, coderSpec{methodID: idDeflate}, nil
	case Brotli:
		packed, err := brotli.Compress(data, 9) //nolint:gomnd
		if err != nil {
			return nil, coderSpec{}, err
		}

		return packed, coderSpec{methodID: idBrotli}, nil
	case Zstd:
		packed, err := zstd.Compress(data)
		if err != nil {
			return nil, coderSpec{}, err
		}

		return packed, coderSpec{methodID: idZstd}, nil
	case LZ4:
		packed, err := lz4.Compress(data)
		if err != nil {
			return nil, coderSpec{}, err
		}

		return packed, coderSpec{methodID: idLZ4}, nil
	case LzHuff:
		packed, err := lzhuffcoder.Compress(data)
		if err != nil {
			return nil, coderSpec{}, err
		}

		return packed, coderSpec{methodID: idLzHuff}, nil
	default:
		return nil, coderSpec{}, errUnknownAlgo
	}
}

type writerBuffer struct {
	buf []byte
}

func (b *writerBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)

	return len(p), nil
}

func (b *writerBuffer) Bytes() []byte { return b.buf }

func (w *Writer) buildFolder(files []*pendingFile) (*pendingFolder, error) {
	plain := make([]byte, 0)
	for _, f := range files {
		plain = append(plain, f.data...)
	}

	crc := crc32.ChecksumIEEE(plain)

	filtered := plain

	var filterStages []coderSpec

	for _, f := range w.opts.Filters {
		spec, err := filterCoder(f, w.opts)
		if err != nil {
			return nil, err
		}

		filtered, err = applyFilterEncode(f, w.opts, filtered)
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error applying filter: %w", err)
		}

		filterStages = append(filterStages, spec)
	}

	packed, codecSpec, err := compressPlain(w.opts.Algorithm, w.opts, filtered)
	if err != nil {
		return nil, err
	}

	stages := append(filterStages, codecSpec) //nolint:gocritic

	return &pendingFolder{
		stages: stages,
		plain:  plain,
		packed: packed,
		crc:    crc,
		files:  files,
	}, nil
}

// Close flushes all buffered entries, compressing and writing the pack
// streams and header.
//
//nolint:funlen
func (w *Writer) Close() error {
	if w.closed {
		return errWriterClosed
	}

	w.closed = true

	var groups [][]*pendingFile

	nonEmpty := make([]*pendingFile, 0, len(w.files))

	for _, f := range w.files {
		if !f.header.isEmptyStream {
			nonEmpty = append(nonEmpty, f)
		}
	}

	if len(nonEmpty) > 0 {
		if w.opts.Solid {
			groups = append(groups, nonEmpty)
		} else {
			for _, f := range nonEmpty {
				groups = append(groups, []*pendingFile{f})
			}
		}
	}

	folders := make([]*pendingFolder, len(groups))

	for i, g := range groups {
		pf, err := w.buildFolder(g)
		if err != nil {
			return err
		}

		folders[i] = pf
	}

	bw := bufio.NewWriter(w.w)

	if err := w.writeSignatureAndBody(bw, folders); err != nil {
		return err
	}

	return bw.Flush()
}

func (w *Writer) writeSignatureAndBody(bw *bufio.Writer, folders []*pendingFolder) error {
	var headerBuf writerBuffer

	hbw := bufio.NewWriter(&headerBuf)

	if err := writeID(hbw, idHeader); err != nil {
		return err
	}

	if err := writeID(hbw, idMainStreamsInfo); err != nil {
		return err
	}

	packSizes := make([]uint64, len(folders))
	for i, f := range folders {
		packSizes[i] = uint64(len(f.packed))
	}

	if err := writeStreamsInfo(hbw, folders, packSizes); err != nil {
		return err
	}

	if err := writeFilesInfo(hbw, w.files); err != nil {
		return err
	}

	if err := writeID(hbw, idEnd); err != nil {
		return err
	}

	if err := hbw.Flush(); err != nil {
		return fmt.Errorf("sevenzip: error flushing header: %w", err)
	}

	return writeArchive(bw, folders, headerBuf.Bytes())
}

var signatureMagic = [6]byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}

// writeArchive assembles the final archive: a 12-byte signature header, a
// 20-byte start header, the pack streams in folder order, and finally the
// header blob (already including its leading id byte).
func writeArchive(bw *bufio.Writer, folders []*pendingFolder, headerBytes []byte) error {
	var packed int64

	for _, f := range folders {
		packed += int64(len(f.packed))
	}

	var start bytes.Buffer

	if err := binary.Write(&start, binary.LittleEndian, uint64(packed)); err != nil { //nolint:gosec
		return fmt.Errorf("sevenzip: error writing start header offset: %w", err)
	}

	if err := binary.Write(&start, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return fmt.Errorf("sevenzip: error writing start header size: %w", err)
	}

	if err := binary.Write(&start, binary.LittleEndian, crc32.ChecksumIEEE(headerBytes)); err != nil {
		return fmt.Errorf("sevenzip: error writing start header crc: %w", err)
	}

	if _, err := bw.Write(signatureMagic[:]); err != nil {
		return fmt.Errorf("sevenzip: error writing signature: %w", err)
	}

	if _, err := bw.Write([]byte{0x00, 0x04}); err != nil {
		return fmt.Errorf("sevenzip: error writing version: %w", err)
	}

	if err := binary.Write(bw, binary.LittleEndian, crc32.ChecksumIEEE(start.Bytes())); err != nil {
		return fmt.Errorf("sevenzip: error writing signature header crc: %w", err)
	}

	if _, err := bw.Write(start.Bytes()); err != nil {
		return fmt.Errorf("sevenzip: error writing start header: %w", err)
	}

	for _, f := range folders {
		if _, err := bw.Write(f.packed); err != nil {
			return fmt.Errorf("sevenzip: error writing pack stream: %w", err)
		}
	}

	if _, err := bw.Write(headerBytes); err != nil {
		return fmt.Errorf("sevenzip: error writing header: %w", err)
	}

	return nil
}
