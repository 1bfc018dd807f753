// Package par2 implements the PAR2 recovery file format: packet framing,
// Reed-Solomon verification and repair over internal/rsmatrix, and the
// basename.volAA+BB.par2 volume naming scheme.
package par2

import (
	"bytes"
	"crypto/md5" //nolint:gosec
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var packetMagic = [8]byte{'P', 'A', 'R', '2', 0x00, 'P', 'K', 'T'}

// Packet type identifiers, 16 bytes each, ASCII padded with NUL.
var (
	packetTypeMain         = packetType("PAR 2.0\x00Main\x00\x00\x00\x00")
	packetTypeFileDesc     = packetType("PAR 2.0\x00FileDesc")
	packetTypeIFSC         = packetType("PAR 2.0\x00IFSC\x00\x00\x00\x00")
	packetTypeRecoverySlic = packetType("PAR 2.0\x00RecvSlic")
)

func packetType(s string) [16]byte {
	var t [16]byte

	copy(t[:], s)

	return t
}

var (
	errShortPacket   = errors.New("par2: packet shorter than header")
	errBadMagic      = errors.New("par2: bad packet magic")
	errPacketHash    = errors.New("par2: packet body hash mismatch")
	errTruncatedBody = errors.New("par2: truncated packet body")
)

// packetHeader is the 64-byte fixed prefix of every PAR2 packet.
type packetHeader struct {
	Magic       [8]byte
	Length      uint64
	Hash        [16]byte
	RecoverySet [16]byte
	Type        [16]byte
}

type rawPacket struct {
	header packetHeader
	body   []byte
}

func readPacket(r io.Reader) (*rawPacket, error) {
	var h packetHeader

	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("%w: %w", errShortPacket, err)
	}

	if h.Magic != packetMagic {
		return nil, errBadMagic
	}

	bodyLen := h.Length - uint64(binary.Size(h)) //nolint:gosec

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %w", errTruncatedBody, err)
	}

	sum := md5.Sum(append(append([]byte{}, h.RecoverySet[:]...), append(h.Type[:], body...)...)) //nolint:gosec
	if sum != h.Hash {
		return nil, errPacketHash
	}

	return &rawPacket{header: h, body: body}, nil
}

func writePacket(w io.Writer, recoverySet [16]byte, typ [16]byte, body []byte) error {
	length := uint64(binary.Size(packetHeader{})) + uint64(len(body)) //nolint:gosec

	hashInput := append(append([]byte{}, recoverySet[:]...), append(typ[:], body...)...)
	hash := md5.Sum(hashInput) //nolint:gosec

	h := packetHeader{
		Magic:       packetMagic,
		Length:      length,
		Hash:        hash,
		RecoverySet: recoverySet,
		Type:        typ,
	}

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("par2: error writing packet header: %w", err)
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("par2: error writing packet body: %w", err)
	}

	return nil
}

// mainPacketBody is the body of a Main packet: block size, and the
// recovery set's file id list (16 bytes each).
type mainPacketBody struct {
	BlockSize  uint64
	FileIDs    [][16]byte
	NonRecFile [][16]byte
}

func (m *mainPacketBody) marshal() []byte {
	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.LittleEndian, m.BlockSize)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(m.FileIDs)))    //nolint:gosec
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(m.NonRecFile))) //nolint:gosec

	for _, id := range m.FileIDs {
		buf.Write(id[:])
	}

	for _, id := range m.NonRecFile {
		buf.Write(id[:])
	}

	return buf.Bytes()
}

func unmarshalMainPacketBody(body []byte) (*mainPacketBody, error) {
	r := bytes.NewReader(body)

	m := new(mainPacketBody)

	if err := binary.Read(r, binary.LittleEndian, &m.BlockSize); err != nil {
		return nil, fmt.Errorf("par2: error reading main packet block size: %w", err)
	}

	var numFiles, numNonRec uint32

	if err := binary.Read(r, binary.LittleEndian, &numFiles); err != nil {
		return nil, fmt.Errorf("par2: error reading main packet file count: %w", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &numNonRec); err != nil {
		return nil, fmt.Errorf("par2: error reading main packet non-recovery count: %w", err)
	}

	m.FileIDs = make([][16]byte, numFiles)
	for i := range m.FileIDs {
		if _, err := io.ReadFull(r, m.FileIDs[i][:]); err != nil {
			return nil, fmt.Errorf("par2: error reading main packet file id: %w", err)
		}
	}

	m.NonRecFile = make([][16]byte, numNonRec)
	for i := range m.NonRecFile {
		if _, err := io.ReadFull(r, m.NonRecFile[i][:]); err != nil {
			return nil, fmt.Errorf("par2: error reading main packet non-recovery id: %w", err)
		}
	}

	return m, nil
}

// fileDescPacketBody describes one file in the recovery set.
type fileDescPacketBody struct {
	FileID   [16]byte
	MD5      [16]byte
	MD5First [16]byte // MD5 of the first 16KiB
	Length   uint64
	Name     string
}

func (f *fileDescPacketBody) marshal() []byte {
	var buf bytes.Buffer

	buf.Write(f.FileID[:])
	buf.Write(f.MD5[:])
	buf.Write(f.MD5First[:])
	_ = binary.Write(&buf, binary.LittleEndian, f.Length)

	name := []byte(f.Name)
	if pad := (4 - len(name)%4) % 4; pad != 0 {
		name = append(name, make([]byte, pad)...)
	}

	buf.Write(name)

	return buf.Bytes()
}

func unmarshalFileDescPacketBody(body []byte) (*fileDescPacketBody, error) {
	const fixed = 16 + 16 + 16 + 8

	if len(body) < fixed {
		return nil, errTruncatedBody
	}

	f := new(fileDescPacketBody)

	copy(f.FileID[:], body[0:16])
	copy(f.MD5[:], body[16:32])
	copy(f.MD5First[:], body[32:48])
	f.Length = binary.LittleEndian.Uint64(body[48:56])
	f.Name = string(bytes.TrimRight(body[fixed:], "\x00"))

	return f, nil
}

// ifscPacketBody holds per-block MD5 and CRC-32 checksums for one file's
// slices, in block order.
type ifscPacketBody struct {
	FileID [16]byte
	MD5    [][16]byte
	CRC32  []uint32
}

func (s *ifscPacketBody) marshal() []byte {
	var buf bytes.Buffer

	buf.Write(s.FileID[:])

	for i := range s.MD5 {
		buf.Write(s.MD5[i][:])
		_ = binary.Write(&buf, binary.LittleEndian, s.CRC32[i])
	}

	return buf.Bytes()
}

func unmarshalIFSCPacketBody(body []byte) (*ifscPacketBody, error) {
	if len(body) < 16 {
		return nil, errTruncatedBody
	}

	s := new(ifscPacketBody)
	copy(s.FileID[:], body[0:16])

	rest := body[16:]
	if len(rest)%20 != 0 {
		return nil, errTruncatedBody
	}

	n := len(rest) / 20
	s.MD5 = make([][16]byte, n)
	s.CRC32 = make([]uint32, n)

	for i := 0; i < n; i++ {
		off := i * 20
		copy(s.MD5[i][:], rest[off:off+16])
		s.CRC32[i] = binary.LittleEndian.Uint32(rest[off+16 : off+20])
	}

	return s, nil
}

// recoverySlicePacketBody is one recovery block: its exponent and payload.
type recoverySlicePacketBody struct {
	Exponent uint32
	Data     []byte
}

func (r *recoverySlicePacketBody) marshal() []byte {
	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.LittleEndian, r.Exponent)
	buf.Write(r.Data)

	return buf.Bytes()
}

func unmarshalRecoverySlicePacketBody(body []byte) (*recoverySlicePacketBody, error) {
	if len(body) < 4 {
		return nil, errTruncatedBody
	}

	return &recoverySlicePacketBody{
		Exponent: binary.LittleEndian.Uint32(body[0:4]),
		Data:     body[4:],
	}, nil
}
