package protocol

import "encoding/binary"

// newResponseHeader builds a response Header stamped with ServerVersion.
func newResponseHeader(clientID [ClientIDSize]byte, code ResponseCode, payloadSize uint32) Header {
	return Header{
		ClientID:    clientID,
		Version:     ServerVersion,
		Code:        uint16(code),
		PayloadSize: payloadSize,
	}
}

// EncodeRegistrationOK builds the 2100 response: the newly minted client id.
func EncodeRegistrationOK(clientID [ClientIDSize]byte) []byte {
	h := newResponseHeader(clientID, RespRegistrationOK, ClientIDSize)
	buf := make([]byte, HeaderSize+ClientIDSize)
	h.Put(buf)
	copy(buf[HeaderSize:], clientID[:])
	return buf
}

// EncodeRegistrationFail builds the 2101 response. The spec's original
// carries no payload; the client id field of the header is still the
// all-zero id the client sent, since registration never succeeded.
func EncodeRegistrationFail(clientID [ClientIDSize]byte) []byte {
	h := newResponseHeader(clientID, RespRegistrationFail, 0)
	return h.Bytes()
}

// EncodePublicKeyAck builds the 2102 response: client id plus the
// RSA-OAEP-wrapped session key, whose length depends on the RSA modulus
// used to wrap it.
func EncodePublicKeyAck(clientID [ClientIDSize]byte, wrappedKey []byte) []byte {
	h := newResponseHeader(clientID, RespPublicKeyAck, uint32(ClientIDSize+len(wrappedKey)))
	buf := make([]byte, HeaderSize+ClientIDSize+len(wrappedKey))
	h.Put(buf)
	copy(buf[HeaderSize:], clientID[:])
	copy(buf[HeaderSize+ClientIDSize:], wrappedKey)
	return buf
}

// EncodeFileAck builds the 2103 response: client id, plaintext content
// size actually written, the file name, and its cksum.
func EncodeFileAck(clientID [ClientIDSize]byte, contentSize uint32, fileName string, sum uint32) ([]byte, error) {
	nameBuf, err := encodeName(fileName)
	if err != nil {
		return nil, err
	}
	const payloadSize = ClientIDSize + 4 + NameSize + 4
	h := newResponseHeader(clientID, RespFileAck, payloadSize)
	buf := make([]byte, HeaderSize+payloadSize)
	h.Put(buf)
	off := HeaderSize
	copy(buf[off:], clientID[:])
	off += ClientIDSize
	binary.LittleEndian.PutUint32(buf[off:], contentSize)
	off += 4
	copy(buf[off:], nameBuf[:])
	off += NameSize
	binary.LittleEndian.PutUint32(buf[off:], sum)
	return buf, nil
}

// EncodeReceived builds the 2104 response, used to acknowledge both a
// valid-CRC confirmation (1104) and an abort (1106).
func EncodeReceived(clientID [ClientIDSize]byte) []byte {
	h := newResponseHeader(clientID, RespReceived, ClientIDSize)
	buf := make([]byte, HeaderSize+ClientIDSize)
	h.Put(buf)
	copy(buf[HeaderSize:], clientID[:])
	return buf
}

// EncodeLoginOK builds the 2105 response: client id plus the newly wrapped
// session key, same shape as 2102.
func EncodeLoginOK(clientID [ClientIDSize]byte, wrappedKey []byte) []byte {
	h := newResponseHeader(clientID, RespLoginOK, uint32(ClientIDSize+len(wrappedKey)))
	buf := make([]byte, HeaderSize+ClientIDSize+len(wrappedKey))
	h.Put(buf)
	copy(buf[HeaderSize:], clientID[:])
	copy(buf[HeaderSize+ClientIDSize:], wrappedKey)
	return buf
}

// EncodeLoginFail builds the 2106 response: the client id is echoed back
// even though login failed, per §8's scenario 2.
func EncodeLoginFail(clientID [ClientIDSize]byte) []byte {
	h := newResponseHeader(clientID, RespLoginFail, ClientIDSize)
	buf := make([]byte, HeaderSize+ClientIDSize)
	h.Put(buf)
	copy(buf[HeaderSize:], clientID[:])
	return buf
}

// EncodeServerError builds the 2107 fallback response sent by the
// dispatcher, best-effort, whenever a handler fails before writing any
// other response.
func EncodeServerError(clientID [ClientIDSize]byte) []byte {
	h := newResponseHeader(clientID, RespServerError, 0)
	return h.Bytes()
}

// PadToPacketSize returns buf zero-padded up to PacketSize bytes. Frames
// longer than PacketSize (e.g. a large PublicKeyAck wrapped key, though in
// practice RSA-OAEP-wrapped AES-128 keys are far smaller) are returned
// unpadded — the dispatcher then writes the whole frame as is, with no
// padding to a multiple of PacketSize.
func PadToPacketSize(buf []byte) []byte {
	if len(buf) >= PacketSize {
		return buf
	}
	padded := make([]byte, PacketSize)
	copy(padded, buf)
	return padded
}
