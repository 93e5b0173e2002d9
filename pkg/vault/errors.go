package vault

import "errors"

// Sentinel errors for the handshake state machine, matching the taxonomy
// named in spec §7. Handler failures not covered by a specific response
// opcode (RegistrationFail, LoginFail) are reported as one of these and
// mapped to ServerError (2107) by the session dispatcher.
var (
	// ErrInvalidFileName is returned when a file name contains a path
	// separator or a ".." segment (§9's path-traversal resolution).
	ErrInvalidFileName = errors.New("vault: invalid file name")

	// ErrUnknownClient is returned by the PublicKey and SendFile handlers
	// when the client named in the request is not registered, or (SendFile)
	// the client has no session key yet.
	ErrUnknownClient = errors.New("vault: unknown or unkeyed client")

	// ErrFileExists is returned by SendFile when file_path already exists
	// on disk and is not in the pending-CRC set — an upload without a
	// preceding CRC-Retry (1105).
	ErrFileExists = errors.New("vault: file exists and is not pending confirmation")
)
