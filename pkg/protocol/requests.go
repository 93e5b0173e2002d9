package protocol

import (
	"encoding/binary"
	"fmt"
)

// Request is the tagged-variant union of every request payload the codec
// understands. Exactly one of the typed fields is meaningful for a given
// Header.Code; the dispatcher in pkg/server switches on Header.Code, not on
// which field is populated.
type Request struct {
	Header Header

	Registration *RegistrationRequest
	PublicKey    *PublicKeyRequest
	Login        *LoginRequest
	SendFile     *SendFileRequest
	CRCValid     *CRCRequest
	CRCRetry     *CRCRequest
	CRCAbort     *CRCRequest
}

// RegistrationRequest (1100) carries the client-chosen display name.
type RegistrationRequest struct {
	Name string
}

// PublicKeyRequest (1101) carries the client's name (for identity
// confirmation against the Registration record) and its DER-encoded RSA
// public key.
type PublicKeyRequest struct {
	Name      string
	PublicKey [PublicKeySize]byte
}

// LoginRequest (1102) re-authenticates a previously registered client by name.
type LoginRequest struct {
	Name string
}

// SendFileRequest (1103) declares the ciphertext length and destination
// file name. Ciphertext holds one slice per network read that delivered
// upload bytes: element 0 is whatever ciphertext had already arrived in
// the same packet as the header, and the dispatcher appends one more
// element per subsequent read call while completing the upload (§4.4/
// §4.5). Each element is its own independent AES-CBC chunk (§4.3) — they
// must never be concatenated before decryption.
type SendFileRequest struct {
	ContentSize uint32
	FileName    string
	Ciphertext  [][]byte
}

// CRCRequest is the shared payload shape of 1104/1105/1106: just a file name.
type CRCRequest struct {
	FileName string
}

// ParseRequest parses a complete frame (header already parsed, payload
// holding the bytes after it) into a tagged Request. payload must contain
// the payload bytes described by header.PayloadSize, except for
// ReqSendFile where payload may
// contain only the payload bytes that arrived in the first packet — callers
// complete the ciphertext themselves and set Request.SendFile.Ciphertext.
func ParseRequest(header Header, payload []byte) (Request, error) {
	req := Request{Header: header}

	switch RequestCode(header.Code) {
	case ReqRegistration:
		if len(payload) < NameSize {
			return req, fmt.Errorf("%w: registration payload too short", ErrMalformedFrame)
		}
		name, err := decodeName(payload[:NameSize])
		if err != nil {
			return req, err
		}
		req.Registration = &RegistrationRequest{Name: name}

	case ReqPublicKey:
		if len(payload) < NameSize+PublicKeySize {
			return req, fmt.Errorf("%w: public key payload too short", ErrMalformedFrame)
		}
		name, err := decodeName(payload[:NameSize])
		if err != nil {
			return req, err
		}
		pk := PublicKeyRequest{Name: name}
		copy(pk.PublicKey[:], payload[NameSize:NameSize+PublicKeySize])
		req.PublicKey = &pk

	case ReqLogin:
		if len(payload) < NameSize {
			return req, fmt.Errorf("%w: login payload too short", ErrMalformedFrame)
		}
		name, err := decodeName(payload[:NameSize])
		if err != nil {
			return req, err
		}
		req.Login = &LoginRequest{Name: name}

	case ReqSendFile:
		const fixedLen = 4 + NameSize
		if len(payload) < fixedLen {
			return req, fmt.Errorf("%w: send-file payload too short", ErrMalformedFrame)
		}
		contentSize := binary.LittleEndian.Uint32(payload[0:4])
		name, err := decodeName(payload[4 : 4+NameSize])
		if err != nil {
			return req, err
		}
		req.SendFile = &SendFileRequest{
			ContentSize: contentSize,
			FileName:    name,
		}
		if rest := payload[fixedLen:]; len(rest) > 0 {
			req.SendFile.Ciphertext = [][]byte{append([]byte(nil), rest...)}
		}

	case ReqCRCValid, ReqCRCRetry, ReqCRCAbort:
		if len(payload) < NameSize {
			return req, fmt.Errorf("%w: CRC payload too short", ErrMalformedFrame)
		}
		name, err := decodeName(payload[:NameSize])
		if err != nil {
			return req, err
		}
		c := &CRCRequest{FileName: name}
		switch RequestCode(header.Code) {
		case ReqCRCValid:
			req.CRCValid = c
		case ReqCRCRetry:
			req.CRCRetry = c
		case ReqCRCAbort:
			req.CRCAbort = c
		}

	default:
		return req, fmt.Errorf("%w: unknown opcode %d", ErrMalformedFrame, header.Code)
	}

	return req, nil
}

// SendFileFixedPayloadSize is the number of payload bytes that precede the
// ciphertext in a 1103 frame: the 4-byte content size plus the fixed-width
// name field. The session dispatcher uses this to know how many more bytes
// of the first packet are already-arrived ciphertext.
const SendFileFixedPayloadSize = 4 + NameSize
