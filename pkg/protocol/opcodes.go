// Package protocol implements the wire codec for the vaultd client protocol:
// fixed 23-byte request headers, fixed-width name fields, and the seven
// request / eight response opcodes the handshake state machine exchanges.
package protocol

// RequestCode identifies the kind of a request frame.
type RequestCode uint16

// ResponseCode identifies the kind of a response frame.
type ResponseCode uint16

const (
	ReqRegistration RequestCode = 1100
	ReqPublicKey    RequestCode = 1101
	ReqLogin        RequestCode = 1102
	ReqSendFile     RequestCode = 1103
	ReqCRCValid     RequestCode = 1104
	ReqCRCRetry     RequestCode = 1105
	ReqCRCAbort     RequestCode = 1106
)

const (
	RespRegistrationOK   ResponseCode = 2100
	RespRegistrationFail ResponseCode = 2101
	RespPublicKeyAck     ResponseCode = 2102
	RespFileAck          ResponseCode = 2103
	RespReceived         ResponseCode = 2104
	RespLoginOK          ResponseCode = 2105
	RespLoginFail        ResponseCode = 2106
	RespServerError      ResponseCode = 2107
)

// Field widths fixed by the wire format.
const (
	ClientIDSize    = 16
	NameSize        = 255
	PublicKeySize   = 160
	SymmetricKeySize = 16
	HeaderSize      = ClientIDSize + 1 + 2 + 4

	// ServerVersion is the version byte the server stamps on every response.
	ServerVersion byte = 3

	// PacketSize is the zero-padded size of every network send the server
	// performs, and the read chunk size used while draining an upload.
	PacketSize = 1024
)
