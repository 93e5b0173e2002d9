package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Header is the 23-byte frame header shared by every request and response:
// a 16-byte client id, a 1-byte protocol version, a little-endian 2-byte
// opcode, and a little-endian 4-byte payload size.
type Header struct {
	ClientID    [ClientIDSize]byte
	Version     byte
	Code        uint16
	PayloadSize uint32
}

// ParseHeader reads a Header from the first HeaderSize bytes of buf.
func ParseHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformedFrame, HeaderSize, len(buf))
	}
	copy(h.ClientID[:], buf[0:16])
	h.Version = buf[16]
	h.Code = binary.LittleEndian.Uint16(buf[17:19])
	h.PayloadSize = binary.LittleEndian.Uint32(buf[19:23])
	return h, nil
}

// Put serializes the header into the first HeaderSize bytes of buf.
// buf must be at least HeaderSize bytes long.
func (h Header) Put(buf []byte) {
	copy(buf[0:16], h.ClientID[:])
	buf[16] = h.Version
	binary.LittleEndian.PutUint16(buf[17:19], h.Code)
	binary.LittleEndian.PutUint32(buf[19:23], h.PayloadSize)
}

// Bytes serializes the header to a freshly allocated HeaderSize-byte slice.
func (h Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	h.Put(buf)
	return buf
}

// decodeName truncates a fixed-width name buffer at its first NUL byte and
// validates the result as UTF-8. It fails if no NUL is present anywhere in
// the buffer, per the wire format's requirement that name fields always
// carry at least a trailing terminator.
func decodeName(buf []byte) (string, error) {
	idx := -1
	for i, b := range buf {
		if b == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", fmt.Errorf("%w: name field has no NUL terminator", ErrMalformedFrame)
	}
	name := string(buf[:idx])
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: name is not valid UTF-8", ErrMalformedFrame)
	}
	return name, nil
}

// encodeName writes name, NUL-padded, into a NameSize-byte buffer.
func encodeName(name string) ([NameSize]byte, error) {
	var buf [NameSize]byte
	if len(name) > NameSize-1 {
		return buf, ErrNameTooLong
	}
	copy(buf[:], name)
	return buf, nil
}
