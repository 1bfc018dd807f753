package par2

import (
	"bytes"
	"crypto/md5" //nolint:gosec
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/bodgit/archive/internal/gf16"
	"github.com/bodgit/archive/internal/rsmatrix"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesToWords(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(b[i*2:])
	}

	return words
}

func wordsToBytes(words []uint16) []byte {
	b := make([]byte, len(words)*2)
	for i, w := range words {
		binary.LittleEndian.PutUint16(b[i*2:], w)
	}

	return b
}

// buildRecoverySet writes a minimal two-file, one-block-each recovery set
// with a single recovery slice at exponent 0 to fs, returning the block
// content of each file so the caller can corrupt one.
func buildRecoverySet(t *testing.T, fs afero.Fs, dir string) (blockA, blockB []byte) {
	t.Helper()

	blockA = []byte{0x11, 0x22, 0x33, 0x44}
	blockB = []byte{0x55, 0x66, 0x77, 0x88}

	idA := [16]byte{0xa}
	idB := [16]byte{0xb}
	recoverySet := [16]byte{0xf}

	bases := rsmatrix.SelectBases(2)

	wa, wb := bytesToWords(blockA), bytesToWords(blockB)
	recovery := make([]uint16, len(wa))

	for w := range recovery {
		recovery[w] = gf16.Add(
			gf16.Mul(gf16.Pow(bases[0], 0), wa[w]),
			gf16.Mul(gf16.Pow(bases[1], 0), wb[w]),
		)
	}

	require.NoError(t, afero.WriteFile(fs, dir+"/a.txt", blockA, 0o644))
	require.NoError(t, afero.WriteFile(fs, dir+"/b.txt", blockB, 0o644))

	var buf bytes.Buffer

	main := &mainPacketBody{BlockSize: 4, FileIDs: [][16]byte{idA, idB}}
	require.NoError(t, writePacket(&buf, recoverySet, packetTypeMain, main.marshal()))

	for _, fd := range []*fileDescPacketBody{
		{FileID: idA, MD5: md5.Sum(blockA), Length: 4, Name: "a.txt"}, //nolint:gosec
		{FileID: idB, MD5: md5.Sum(blockB), Length: 4, Name: "b.txt"}, //nolint:gosec
	} {
		require.NoError(t, writePacket(&buf, recoverySet, packetTypeFileDesc, fd.marshal()))
	}

	ifscA := &ifscPacketBody{FileID: idA, MD5: [][16]byte{md5.Sum(blockA)}, CRC32: []uint32{crc32.ChecksumIEEE(blockA)}} //nolint:gosec,lll
	ifscB := &ifscPacketBody{FileID: idB, MD5: [][16]byte{md5.Sum(blockB)}, CRC32: []uint32{crc32.ChecksumIEEE(blockB)}} //nolint:gosec,lll

	require.NoError(t, writePacket(&buf, recoverySet, packetTypeIFSC, ifscA.marshal()))
	require.NoError(t, writePacket(&buf, recoverySet, packetTypeIFSC, ifscB.marshal()))

	rs := &recoverySlicePacketBody{Exponent: 0, Data: wordsToBytes(recovery)}
	require.NoError(t, writePacket(&buf, recoverySet, packetTypeRecoverySlic, rs.marshal()))

	require.NoError(t, afero.WriteFile(fs, dir+"/test.par2", buf.Bytes(), 0o644))

	return blockA, blockB
}

func TestEngineVerifyAllOK(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	buildRecoverySet(t, fs, "/data")

	e, err := Load(fs, "/data/test.par2")
	require.NoError(t, err)

	v, err := e.Verify(fs)
	require.NoError(t, err)

	assert.True(t, v.OK)
	assert.Empty(t, v.MissingBlocks)
}

func TestEngineVerifyDetectsCorruption(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	buildRecoverySet(t, fs, "/data")

	require.NoError(t, afero.WriteFile(fs, "/data/b.txt", []byte{0, 0, 0, 0}, 0o644))

	e, err := Load(fs, "/data/test.par2")
	require.NoError(t, err)

	v, err := e.Verify(fs)
	require.NoError(t, err)

	assert.False(t, v.OK)
	assert.Equal(t, []int{1}, v.MissingBlocks)
	assert.Equal(t, []string{"b.txt"}, v.MissingFiles)
}

func TestEngineRepairReconstructsMissingFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	_, blockB := buildRecoverySet(t, fs, "/data")

	require.NoError(t, afero.WriteFile(fs, "/data/b.txt", []byte{0, 0, 0, 0}, 0o644))

	e, err := Load(fs, "/data/test.par2")
	require.NoError(t, err)

	result, err := e.Repair(fs, "/out")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.RecoveredBlocks)

	repaired, err := afero.ReadFile(fs, "/out/b.txt")
	require.NoError(t, err)
	assert.Equal(t, blockB, repaired)
}

func TestEngineLoadNoMainPacket(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/test.par2", nil, 0o644))

	_, err := Load(fs, "/data/test.par2")
	require.ErrorIs(t, err, ErrNoRecoverySet)
}
