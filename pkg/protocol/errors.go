package protocol

import "errors"

// ErrMalformedFrame is returned when a header or payload cannot be parsed
// according to the wire format: truncated buffers, fixed-length fields
// that over- or underflow, names that aren't valid UTF-8, or a name field
// with no NUL terminator anywhere in its fixed-width buffer.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// ErrNameTooLong is returned by encodeName when a name's UTF-8 encoding
// would not fit in NameSize-1 bytes (the final byte is reserved for the
// NUL terminator).
var ErrNameTooLong = errors.New("protocol: name exceeds 254 bytes")
