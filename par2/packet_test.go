package par2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	t.Parallel()

	recoverySet := [16]byte{1, 2, 3}
	body := []byte("hello packet body")

	var buf bytes.Buffer

	require.NoError(t, writePacket(&buf, recoverySet, packetTypeMain, body))

	pkt, err := readPacket(&buf)
	require.NoError(t, err)

	assert.Equal(t, recoverySet, pkt.header.RecoverySet)
	assert.Equal(t, packetTypeMain, pkt.header.Type)
	assert.Equal(t, body, pkt.body)
}

func TestReadPacketBadMagic(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, writePacket(&buf, [16]byte{}, packetTypeMain, []byte("x")))

	corrupt := buf.Bytes()
	corrupt[0] = 'X'

	_, err := readPacket(bytes.NewReader(corrupt))
	require.ErrorIs(t, err, errBadMagic)
}

func TestReadPacketHashMismatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, writePacket(&buf, [16]byte{}, packetTypeMain, []byte("original")))

	corrupt := buf.Bytes()
	corrupt[len(corrupt)-1] ^= 0xff

	_, err := readPacket(bytes.NewReader(corrupt))
	require.ErrorIs(t, err, errPacketHash)
}

func TestMainPacketBodyRoundTrip(t *testing.T) {
	t.Parallel()

	m := &mainPacketBody{
		BlockSize: 4096,
		FileIDs:   [][16]byte{{1}, {2}},
	}

	got, err := unmarshalMainPacketBody(m.marshal())
	require.NoError(t, err)

	assert.Equal(t, m.BlockSize, got.BlockSize)
	assert.Equal(t, m.FileIDs, got.FileIDs)
	assert.Empty(t, got.NonRecFile)
}

func TestFileDescPacketBodyRoundTrip(t *testing.T) {
	t.Parallel()

	f := &fileDescPacketBody{
		FileID: [16]byte{9},
		MD5:    [16]byte{8},
		Length: 12345,
		Name:   "example.txt",
	}

	got, err := unmarshalFileDescPacketBody(f.marshal())
	require.NoError(t, err)

	assert.Equal(t, f.FileID, got.FileID)
	assert.Equal(t, f.MD5, got.MD5)
	assert.Equal(t, f.Length, got.Length)
	assert.Equal(t, f.Name, got.Name)
}

func TestIFSCPacketBodyRoundTrip(t *testing.T) {
	t.Parallel()

	s := &ifscPacketBody{
		FileID: [16]byte{3},
		MD5:    [][16]byte{{1}, {2}},
		CRC32:  []uint32{0xdead, 0xbeef},
	}

	got, err := unmarshalIFSCPacketBody(s.marshal())
	require.NoError(t, err)

	assert.Equal(t, s.FileID, got.FileID)
	assert.Equal(t, s.MD5, got.MD5)
	assert.Equal(t, s.CRC32, got.CRC32)
}

func TestRecoverySlicePacketBodyRoundTrip(t *testing.T) {
	t.Parallel()

	r := &recoverySlicePacketBody{
		Exponent: 7,
		Data:     []byte{1, 2, 3, 4},
	}

	got, err := unmarshalRecoverySlicePacketBody(r.marshal())
	require.NoError(t, err)

	assert.Equal(t, r.Exponent, got.Exponent)
	assert.Equal(t, r.Data, got.Data)
}

func TestVolumeNaming(t *testing.T) {
	t.Parallel()

	name := volumeName("archive", 2, 5)
	assert.Equal(t, "archive.vol2+5.par2", name)
	assert.Equal(t, "archive", volumeBase(name))
	assert.Equal(t, "archive", volumeBase("archive.par2"))
	assert.True(t, isVolumeOf(name, "archive"))
	assert.True(t, isVolumeOf("archive.par2", "archive"))
}
