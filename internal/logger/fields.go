package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so lines can be grepped and aggregated.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Protocol & Operation
	// ========================================================================
	KeyOpcode    = "opcode"     // Request/response opcode
	KeyOpcodeStr = "opcode_str" // Human-readable opcode name
	KeyVersion   = "version"    // Protocol version byte

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyClientID   = "client_id"   // Client UUID, hex-encoded
	KeyClientName = "client_name" // Client-chosen display name
	KeyConnAddr   = "conn_addr"   // Remote address of the TCP connection

	// ========================================================================
	// File Operations
	// ========================================================================
	KeyFileName = "file_name" // File name named by the request
	KeyFilePath = "file_path" // On-disk path the file is stored at
	KeySize     = "size"      // Byte count (content size, chunk size, ...)
	KeyCRC      = "crc"       // cksum-compatible CRC32 value

	// ========================================================================
	// Session & Connection
	// ========================================================================
	KeyConnectionID = "connection_id" // Connection identifier
	KeyRequestID    = "request_id"    // Protocol-specific request ID

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Numeric error code
	KeyAttempt    = "attempt"     // CRC retry attempt number
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Opcode returns a slog.Attr for a request/response opcode
func Opcode(code uint16) slog.Attr {
	return slog.Any(KeyOpcode, code)
}

// OpcodeStr returns a slog.Attr for a human-readable opcode name
func OpcodeStr(name string) slog.Attr {
	return slog.String(KeyOpcodeStr, name)
}

// Version returns a slog.Attr for the protocol version byte
func Version(v byte) slog.Attr {
	return slog.Any(KeyVersion, v)
}

// ClientID returns a slog.Attr for the client UUID (formatted as hex)
func ClientID(id []byte) slog.Attr {
	return slog.String(KeyClientID, fmt.Sprintf("%x", id))
}

// ClientIDStr returns a slog.Attr for a client UUID already hex-encoded
func ClientIDStr(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// ClientName returns a slog.Attr for the client's display name
func ClientName(name string) slog.Attr {
	return slog.String(KeyClientName, name)
}

// ConnAddr returns a slog.Attr for the remote connection address
func ConnAddr(addr string) slog.Attr {
	return slog.String(KeyConnAddr, addr)
}

// FileName returns a slog.Attr for a file name
func FileName(name string) slog.Attr {
	return slog.String(KeyFileName, name)
}

// FilePath returns a slog.Attr for an on-disk file path
func FilePath(p string) slog.Attr {
	return slog.String(KeyFilePath, p)
}

// Size returns a slog.Attr for a byte count
func Size(s uint32) slog.Attr {
	return slog.Any(KeySize, s)
}

// CRC returns a slog.Attr for a cksum-compatible CRC32 value
func CRC(sum uint32) slog.Attr {
	return slog.Any(KeyCRC, sum)
}

// ConnectionID returns a slog.Attr for a connection identifier
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// RequestID returns a slog.Attr for a protocol-specific request ID
func RequestID(id uint32) slog.Attr {
	return slog.Any(KeyRequestID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Attempt returns a slog.Attr for a CRC retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
