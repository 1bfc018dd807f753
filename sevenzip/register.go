package sevenzip

import (
	"io"
	"sync"

	"github.com/bodgit/archive/internal/bra"
	"github.com/bodgit/archive/internal/delta"
	"github.com/bodgit/archive/internal/ia64"
	"github.com/bodgit/archive/internal/lzma2"
	"github.com/bodgit/archive/sevenzip/internal/aes7z"
	"github.com/bodgit/archive/sevenzip/internal/bcj2"
	"github.com/bodgit/archive/sevenzip/internal/brotli"
	"github.com/bodgit/archive/sevenzip/internal/bzip2"
	"github.com/bodgit/archive/sevenzip/internal/deflate"
	"github.com/bodgit/archive/sevenzip/internal/lz4"
	lzhuffcoder "github.com/bodgit/archive/sevenzip/internal/lzhuff"
	"github.com/bodgit/archive/sevenzip/internal/lzma"
	"github.com/bodgit/archive/sevenzip/internal/zstd"
)

// Decompressor builds an io.ReadCloser wrapping one or more upstream
// readers, given the coder's method properties and declared output size.
type Decompressor func([]byte, uint64, []io.ReadCloser) (io.ReadCloser, error)

//nolint:gochecknoglobals
var decompressors sync.Map

// 7z method IDs, per the specification's copy/LZMA/LZMA2/BCJ family/AES
// table, plus the private vendor ID assigned to the bespoke LZ77+Huffman
// coder.
//nolint:gochecknoglobals
var (
	idCopy       = []byte{0x00}
	idDelta      = []byte{0x03}
	idBCJX86New  = []byte{0x04}
	idBCJPPCNew  = []byte{0x05}
	idBCJIA64New = []byte{0x06}
	idBCJARMNew  = []byte{0x07}
	idBCJARMTNew = []byte{0x08}
	idBCJSPARCNw = []byte{0x09}
	idARM64      = []byte{0x0a}
	idLZMA2      = []byte{0x21}
	idLZMA       = []byte{0x03, 0x01, 0x01}
	idBCJX86Old  = []byte{0x03, 0x03, 0x01, 0x03}
	idBCJPPCOld  = []byte{0x03, 0x03, 0x02, 0x05}
	idBCJIA64Old = []byte{0x03, 0x03, 0x04, 0x01}
	idBCJARMOld  = []byte{0x03, 0x03, 0x05, 0x01}
	idBCJARMTOld = []byte{0x03, 0x03, 0x07, 0x01}
	idBCJSPARCOl = []byte{0x03, 0x03, 0x08, 0x05}
	idBCJ2       = []byte{0x03, 0x03, 0x01, 0x1b}
	idBZip2      = []byte{0x04, 0x02, 0x02}
	idDeflate    = []byte{0x04, 0x01, 0x08}
	idAES256SHA  = []byte{0x06, 0xf1, 0x07, 0x01}
	idZstd       = []byte{0x04, 0xf7, 0x11, 0x01}
	idBrotli     = []byte{0x04, 0xf7, 0x11, 0x02}
	idLZ4        = []byte{0x04, 0xf7, 0x11, 0x04}
	idLzHuff     = []byte{0x3f, 0x00, 0x01}
)

func init() { //nolint:gochecknoinits
	RegisterDecompressor(idCopy, Decompressor(func(_ []byte, _ uint64, r []io.ReadCloser) (io.ReadCloser, error) {
		if len(r) != 1 {
			return nil, errAlgorithm
		}

		return r[0], nil
	}))

	RegisterDecompressor(idLZMA, Decompressor(lzma.NewReader))
	RegisterDecompressor(idLZMA2, Decompressor(lzma2.NewReader))
	RegisterDecompressor(idBZip2, Decompressor(bzip2.NewReader))
	RegisterDecompressor(idDeflate, Decompressor(deflate.NewReader))
	RegisterDecompressor(idZstd, Decompressor(zstd.NewReader))
	RegisterDecompressor(idBrotli, Decompressor(brotli.NewReader))
	RegisterDecompressor(idLZ4, Decompressor(lz4.NewReader))
	RegisterDecompressor(idAES256SHA, Decompressor(aes7z.NewReader))
	RegisterDecompressor(idLzHuff, Decompressor(lzhuffcoder.NewReader))

	RegisterDecompressor(idDelta, Decompressor(delta.NewReader))
	RegisterDecompressor(idBCJX86New, Decompressor(bra.NewBCJReader))
	RegisterDecompressor(idBCJX86Old, Decompressor(bra.NewBCJReader))
	RegisterDecompressor(idBCJARMNew, Decompressor(bra.NewARMReader))
	RegisterDecompressor(idBCJARMOld, Decompressor(bra.NewARMReader))
	RegisterDecompressor(idBCJARMTNew, Decompressor(bra.NewARMThumbReader))
	RegisterDecompressor(idBCJARMTOld, Decompressor(bra.NewARMThumbReader))
	RegisterDecompressor(idARM64, Decompressor(bra.NewARM64Reader))
	RegisterDecompressor(idBCJPPCNew, Decompressor(bra.NewPPCReader))
	RegisterDecompressor(idBCJPPCOld, Decompressor(bra.NewPPCReader))
	RegisterDecompressor(idBCJSPARCNw, Decompressor(bra.NewSPARCReader))
	RegisterDecompressor(idBCJSPARCOl, Decompressor(bra.NewSPARCReader))
	RegisterDecompressor(idBCJIA64New, Decompressor(ia64.NewReader))
	RegisterDecompressor(idBCJIA64Old, Decompressor(ia64.NewReader))
	RegisterDecompressor(idBCJ2, Decompressor(bcj2.NewReader))
}

// RegisterDecompressor registers a decompressor for the given method ID.
func RegisterDecompressor(method []byte, dcomp Decompressor) {
	if _, dup := decompressors.LoadOrStore(string(method), dcomp); dup {
		panic("sevenzip: decompressor already registered")
	}
}

func decompressor(method []byte) Decompressor {
	di, ok := decompressors.Load(string(method))
	if !ok {
		return nil
	}

	d, ok := di.(Decompressor)
	if !ok {
		return nil
	}

	return d
}
