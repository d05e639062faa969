package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Packet types. ExecCommand and AuthResponse share a value; direction tells them apart.
const (
	TypeResponseValue int32 = 0
	TypeAuthResponse  int32 = 2
	TypeExecCommand   int32 = 2
	TypeAuth          int32 = 3
)

const (
	// headerLength is id + type; the length field itself is not counted
	headerLength = 8
	// minPacketLength is an empty body: id + type + two terminator bytes
	minPacketLength = headerLength + 2
	// MaxPacketLength caps a single frame. Source servers stay under 4096 but
	// some game builds send a whole player list in one frame.
	MaxPacketLength = 1 << 20
)

// AuthFailedID is the request id a server echoes when the password is wrong
const AuthFailedID int32 = -1

// Packet is one RCON frame
type Packet struct {
	ID   int32
	Type int32
	Body []byte
}

// MarshalBinary encodes the packet as
// length | id | type | body | 0x00 0x00, all integers little-endian.
func (p Packet) MarshalBinary() ([]byte, error) {
	length := headerLength + len(p.Body) + 2
	if length > MaxPacketLength {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds frame limit", ErrProtocol, len(p.Body))
	}

	buf := make([]byte, 4+length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Type))
	copy(buf[12:], p.Body)
	// trailing two bytes are already zero
	return buf, nil
}

// WritePacket encodes p and writes it in a single call
func WritePacket(w io.Writer, p Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadPacket reads exactly one frame from r. Framing violations are reported
// as ErrProtocol; I/O errors (including deadline expiry) are returned as-is.
func ReadPacket(r io.Reader) (Packet, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Packet{}, err
	}

	length := int32(binary.LittleEndian.Uint32(lenBuf[:]))
	if length < minPacketLength || length > MaxPacketLength {
		return Packet{}, fmt.Errorf("%w: invalid packet length %d", ErrProtocol, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Packet{}, fmt.Errorf("%w: truncated packet: %w", ErrProtocol, io.ErrUnexpectedEOF)
		}
		return Packet{}, err
	}

	if !bytes.Equal(payload[length-2:], []byte{0, 0}) {
		return Packet{}, fmt.Errorf("%w: packet missing terminator", ErrProtocol)
	}

	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(payload[0:4])),
		Type: int32(binary.LittleEndian.Uint32(payload[4:8])),
		Body: payload[headerLength : length-2],
	}, nil
}
