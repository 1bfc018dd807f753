package par2

import (
	"bytes"
	"crypto/md5" //nolint:gosec
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bodgit/archive/internal/rsmatrix"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

type fileRecord struct {
	id         [16]byte
	name       string
	length     uint64
	md5        [16]byte
	blockMD5   [][16]byte
	blockCRC32 []uint32
	firstBlock int // index of this file's first block in the global block ordering
	numBlocks  int
}

// recoverySet is the decoded state of one PAR2 recovery set: its Main
// packet, per-file descriptions and slice checksums, and whatever
// recovery slices were found across the main file and its volumes.
type recoverySet struct {
	id        [16]byte
	blockSize uint64
	order     [][16]byte
	files     map[[16]byte]*fileRecord
	recovery  map[uint32][]byte // exponent -> block bytes
	numBlocks int
}

// Engine holds a loaded PAR2 recovery set, ready for verification or
// repair against the files it describes.
type Engine struct {
	set *recoverySet
	dir string
}

// Load parses the main .par2 file at path plus any basename.volAA+BB.par2
// volumes found alongside it, assembling the recovery set.
func Load(fs afero.Fs, path string) (*Engine, error) {
	dir := filepath.Dir(path)
	base := volumeBase(filepath.Base(path))

	paths := []string{path}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("par2: error reading directory: %w", err)
	}

	for _, e := range entries {
		if e.Name() == filepath.Base(path) {
			continue
		}

		if isVolumeOf(e.Name(), base) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}

	set := &recoverySet{
		files:    make(map[[16]byte]*fileRecord),
		recovery: make(map[uint32][]byte),
	}

	var haveMain bool

	for _, p := range paths {
		f, err := fs.Open(p)
		if err != nil {
			return nil, fmt.Errorf("par2: error opening %s: %w", p, err)
		}

		err = loadPackets(f, set, &haveMain)
		f.Close()

		if err != nil {
			return nil, err
		}
	}

	if !haveMain {
		return nil, ErrNoRecoverySet
	}

	offset := 0

	for _, id := range set.order {
		fr := set.files[id]
		fr.firstBlock = offset
		fr.numBlocks = int((fr.length + set.blockSize - 1) / set.blockSize) //nolint:gosec

		if fr.length == 0 {
			fr.numBlocks = 0
		}

		offset += fr.numBlocks
	}

	set.numBlocks = offset

	return &Engine{set: set, dir: dir}, nil
}

func loadPackets(r io.Reader, set *recoverySet, haveMain *bool) error {
	for {
		pkt, err := readPacket(r)
		if err != nil {
			if err == io.EOF { //nolint:errorlint
				return nil
			}

			return err
		}

		switch pkt.header.Type {
		case packetTypeMain:
			m, err := unmarshalMainPacketBody(pkt.body)
			if err != nil {
				return err
			}

			set.id = pkt.header.RecoverySet
			set.blockSize = m.BlockSize
			set.order = m.FileIDs
			*haveMain = true

		case packetTypeFileDesc:
			fd, err := unmarshalFileDescPacketBody(pkt.body)
			if err != nil {
				return err
			}

			fr := set.files[fd.FileID]
			if fr == nil {
				fr = &fileRecord{id: fd.FileID}
				set.files[fd.FileID] = fr
			}

			fr.name = fd.Name
			fr.length = fd.Length
			fr.md5 = fd.MD5

		case packetTypeIFSC:
			s, err := unmarshalIFSCPacketBody(pkt.body)
			if err != nil {
				return err
			}

			fr := set.files[s.FileID]
			if fr == nil {
				fr = &fileRecord{id: s.FileID}
				set.files[s.FileID] = fr
			}

			fr.blockMD5 = s.MD5
			fr.blockCRC32 = s.CRC32

		case packetTypeRecoverySlic:
			rs, err := unmarshalRecoverySlicePacketBody(pkt.body)
			if err != nil {
				return err
			}

			set.recovery[rs.Exponent] = rs.Data
		}
	}
}

var volumeRe = regexp.MustCompile(`\.vol\d+\+\d+\.par2$`)

// volumeBase strips either a .par2 extension or a .volAA+BB.par2 volume
// suffix, so the main file and its volumes all reduce to the same base.
func volumeBase(name string) string {
	return strings.TrimSuffix(volumeRe.ReplaceAllString(name, ""), ".par2")
}

func isVolumeOf(name, base string) bool {
	if !strings.HasSuffix(name, ".par2") {
		return false
	}

	return volumeBase(name) == base
}

// volumeName returns the basename.volAA+BB.par2 name for a volume starting
// at recovery exponent start and containing count recovery blocks.
func volumeName(base string, start, count int) string {
	return fmt.Sprintf("%s.vol%d+%d.par2", base, start, count)
}

// Verification reports, per file in the recovery set, whether the current
// on-disk content matches the stored checksums.
type Verification struct {
	OK            bool
	MissingBlocks []int
	MissingFiles  []string
}

// Verify checks every file named in the recovery set's Main packet against
// its stored per-block MD5 and CRC-32 checksums, reading file content from
// the directory the recovery set was loaded from. Each file is checked by
// its own goroutine, per the archive engine's no-shared-state concurrency
// model.
func (e *Engine) Verify(fs afero.Fs) (*Verification, error) {
	v := &Verification{OK: true}

	var g errgroup.Group

	results := make([]bool, len(e.set.order))
	missing := make([][]int, len(e.set.order))

	for i, id := range e.set.order {
		i, id := i, id

		g.Go(func() error {
			fr := e.set.files[id]

			ok, miss, err := verifyFile(fs, e.dir, fr, int(e.set.blockSize)) //nolint:gosec
			if err != nil {
				return err
			}

			results[i] = ok
			missing[i] = miss

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, id := range e.set.order {
		fr := e.set.files[id]

		if !results[i] {
			v.OK = false
			v.MissingFiles = append(v.MissingFiles, fr.name)

			for _, b := range missing[i] {
				v.MissingBlocks = append(v.MissingBlocks, fr.firstBlock+b)
			}
		}
	}

	sort.Ints(v.MissingBlocks)

	return v, nil
}

func verifyFile(fs afero.Fs, dir string, fr *fileRecord, blockSize int) (bool, []int, error) {
	path := filepath.Join(dir, fr.name)

	f, err := fs.Open(path)
	if err != nil {
		missing := make([]int, fr.numBlocks)
		for i := range missing {
			missing[i] = i
		}

		return false, missing, nil //nolint:nilerr
	}

	defer f.Close()

	ok := true

	var missing []int

	buf := make([]byte, blockSize)

	for i := 0; i < fr.numBlocks; i++ {
		n, rerr := io.ReadFull(f, buf)
		if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF { //nolint:errorlint
			return false, nil, fmt.Errorf("par2: error reading %s: %w", fr.name, rerr)
		}

		chunk := buf[:n]
		if n < blockSize {
			padded := make([]byte, blockSize)
			copy(padded, chunk)
			chunk = padded
		}

		var match bool
		if i < len(fr.blockMD5) {
			sum := md5.Sum(chunk) //nolint:gosec
			crc := crc32.ChecksumIEEE(chunk)
			match = sum == fr.blockMD5[i] && crc == fr.blockCRC32[i]
		}

		if !match {
			ok = false
			missing = append(missing, i)
		}
	}

	return ok, missing, nil
}

// RepairResult reports the outcome of a repair attempt.
type RepairResult struct {
	Success         bool
	RecoveredBlocks int
	Unrecoverable   []int
}

// Repair verifies every file in the recovery set and, if any blocks are
// missing or corrupt, reconstructs them from the available recovery
// slices using internal/rsmatrix, writing repaired files into outputDir.
func (e *Engine) Repair(fs afero.Fs, outputDir string) (*RepairResult, error) {
	v, err := e.Verify(fs)
	if err != nil {
		return nil, err
	}

	if v.OK {
		return &RepairResult{Success: true}, nil
	}

	missing := v.MissingBlocks
	present := make([]int, 0, e.set.numBlocks-len(missing))

	missingSet := make(map[int]bool, len(missing))
	for _, m := range missing {
		missingSet[m] = true
	}

	for i := 0; i < e.set.numBlocks; i++ {
		if !missingSet[i] {
			present = append(present, i)
		}
	}

	bases := rsmatrix.SelectBases(e.set.numBlocks)

	exponents := make([]int, 0, len(e.set.recovery))
	for exp := range e.set.recovery {
		exponents = append(exponents, int(exp))
	}

	sort.Ints(exponents)

	if len(exponents) < len(missing) {
		return &RepairResult{Unrecoverable: missing}, nil
	}

	rec, err := rsmatrix.NewChunkedRecoverer(bases, present, missing, exponents, int(e.set.blockSize)) //nolint:gosec
	if err != nil {
		if err == rsmatrix.ErrSingular { //nolint:errorlint
			return &RepairResult{Unrecoverable: missing}, nil
		}

		return nil, err
	}

	reconstructed, err := e.reconstruct(fs, rec, present, missing, exponents)
	if err != nil {
		return nil, err
	}

	if err := e.writeRepaired(fs, outputDir, reconstructed); err != nil {
		return nil, err
	}

	return &RepairResult{Success: true, RecoveredBlocks: len(missing)}, nil
}

func (e *Engine) reconstruct(
	fs afero.Fs, rec *rsmatrix.ChunkedRecoverer, present, missing, exponents []int,
) (map[int][]byte, error) {
	blockSize := int(e.set.blockSize) //nolint:gosec
	chunkSize := rec.ChunkSize()

	result := make(map[int][]byte, len(missing))
	for _, idx := range missing {
		result[idx] = make([]byte, blockSize)
	}

	for off := 0; off < blockSize; off += chunkSize {
		n := chunkSize
		if off+n > blockSize {
			n = blockSize - off
		}

		dataChunks := make(map[int][]byte, len(present))

		for _, idx := range present {
			b, err := e.readBlock(fs, idx, off, n)
			if err != nil {
				return nil, err
			}

			dataChunks[idx] = b
		}

		recoveryChunks := make([][]byte, len(exponents))

		for i, exp := range exponents[:len(missing)] {
			data := e.set.recovery[uint32(exp)] //nolint:gosec
			recoveryChunks[i] = data[off : off+n]
		}

		chunk := rec.RecoverChunk(dataChunks, recoveryChunks, n)
		for idx, c := range chunk {
			copy(result[idx][off:off+n], c)
		}
	}

	return result, nil
}

func (e *Engine) readBlock(fs afero.Fs, globalIndex, off, n int) ([]byte, error) {
	for _, id := range e.set.order {
		fr := e.set.files[id]
		if globalIndex < fr.firstBlock || globalIndex >= fr.firstBlock+fr.numBlocks {
			continue
		}

		f, err := fs.Open(filepath.Join(e.dir, fr.name))
		if err != nil {
			return nil, fmt.Errorf("par2: error opening %s for recovery: %w", fr.name, err)
		}

		defer f.Close()

		blockOff := (globalIndex - fr.firstBlock) * int(e.set.blockSize) //nolint:gosec

		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, int64(blockOff+off)); err != nil && err != io.EOF { //nolint:errorlint
			return nil, fmt.Errorf("par2: error reading block from %s: %w", fr.name, err)
		}

		return buf, nil
	}

	return nil, ErrUnknownFile
}

func (e *Engine) writeRepaired(fs afero.Fs, outputDir string, reconstructed map[int][]byte) error {
	for _, id := range e.set.order {
		fr := e.set.files[id]

		needsRepair := false

		for i := 0; i < fr.numBlocks; i++ {
			if _, ok := reconstructed[fr.firstBlock+i]; ok {
				needsRepair = true

				break
			}
		}

		if !needsRepair {
			continue
		}

		var out bytes.Buffer

		orig, err := fs.Open(filepath.Join(e.dir, fr.name))
		hasOrig := err == nil

		if hasOrig {
			defer orig.Close()
		}

		blockSize := int(e.set.blockSize) //nolint:gosec

		for i := 0; i < fr.numBlocks; i++ {
			if block, ok := reconstructed[fr.firstBlock+i]; ok {
				out.Write(block)

				if hasOrig {
					_, _ = orig.Seek(int64(blockSize), io.SeekCurrent)
				}

				continue
			}

			buf := make([]byte, blockSize)

			if hasOrig {
				n, _ := io.ReadFull(orig, buf)
				out.Write(buf[:n])
			}
		}

		data := out.Bytes()
		if uint64(len(data)) > fr.length {
			data = data[:fr.length]
		}

		if err := fs.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("par2: error creating output directory: %w", err)
		}

		if err := afero.WriteFile(fs, filepath.Join(outputDir, fr.name), data, 0o644); err != nil {
			return fmt.Errorf("par2: error writing repaired file %s: %w", fr.name, err)
		}
	}

	return nil
}
