package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/marmos91/vaultd/internal/logger"
	"github.com/marmos91/vaultd/pkg/protocol"
	"github.com/marmos91/vaultd/pkg/vault"
)

// VaultConnectionFactory creates a connection handler for each accepted
// TCP connection, closing over the single *vault.State every connection's
// handlers share.
type VaultConnectionFactory struct {
	State *vault.State
}

// NewConnection implements ConnectionFactory.
func (f *VaultConnectionFactory) NewConnection(conn net.Conn) ConnectionHandler {
	return &vaultConnection{conn: conn, state: f.State}
}

// vaultConnection serves exactly one request/response cycle per TCP
// connection (§6.2, the SUPPLEMENTED FEATURES note in SPEC_FULL.md): it
// reads the fixed header, parses the opcode-specific payload, completes
// any multi-packet upload, dispatches to a handler in pkg/vault, writes
// the response padded to PacketSize, and closes.
type vaultConnection struct {
	conn  net.Conn
	state *vault.State
}

// Serve implements ConnectionHandler.
func (c *vaultConnection) Serve(ctx context.Context) {
	defer c.conn.Close()

	logCtx := logger.NewLogContext(c.conn.RemoteAddr().String())
	ctx = logger.WithContext(ctx, logCtx)

	header, payload, err := c.readFirstPacket()
	if err != nil {
		logger.DebugCtx(ctx, "failed to read request packet", logger.KeyError, err.Error())
		return
	}
	logCtx = logCtx.WithClientID(headerClientIDHex(header)).WithOpcode(header.Code)
	ctx = logger.WithContext(ctx, logCtx)

	req, err := protocol.ParseRequest(header, payload)
	if err != nil {
		logger.WarnCtx(ctx, "malformed request", logger.KeyError, err.Error())
		c.writeBestEffort(ctx, protocol.EncodeServerError(header.ClientID))
		return
	}

	if req.SendFile != nil {
		if err := c.completeUpload(req.SendFile); err != nil {
			logger.WarnCtx(ctx, "failed to read upload body", logger.KeyError, err.Error())
			c.writeBestEffort(ctx, protocol.EncodeServerError(header.ClientID))
			return
		}
	}

	resp, err := c.dispatch(ctx, header, &req)
	if err != nil {
		logger.WarnCtx(ctx, "handler failed", logger.KeyError, err.Error())
		c.writeBestEffort(ctx, protocol.EncodeServerError(header.ClientID))
		return
	}
	if resp == nil {
		// 1105 (CRC-Retry): the protocol sends no response at all.
		return
	}
	c.writeBestEffort(ctx, resp)
}

// readFirstPacket reads a single packet-sized read off the wire, parses
// its header, and returns the header plus whatever payload bytes trailed
// it in that same read (spec §4.4/§4.5 step 1: "a readable event reads
// exactly one header's worth of bytes plus whatever trails in the same
// packet"). This is deliberately one Read call, not io.ReadFull: a short
// first read is a genuine, independent ciphertext chunk boundary for a
// SendFile request, not a partial frame to keep waiting on.
func (c *vaultConnection) readFirstPacket() (protocol.Header, []byte, error) {
	buf := make([]byte, protocol.PacketSize)
	n, err := c.conn.Read(buf)
	if n < protocol.HeaderSize {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return protocol.Header{}, nil, fmt.Errorf("read header: %w", err)
	}

	header, herr := protocol.ParseHeader(buf[:protocol.HeaderSize])
	if herr != nil {
		return protocol.Header{}, nil, herr
	}
	return header, buf[protocol.HeaderSize:n], nil
}

// completeUpload implements spec §4.5 step 2: reads further packets, each
// appended as its own independent ciphertext chunk (§4.3 — every chunk is
// encrypted under a fresh zero IV, so chunk boundaries must match the
// sender's exactly), until exactly ContentSize bytes of ciphertext have
// been accumulated. Whichever chunk's arrival crosses that total is
// clamped, discarding the surplus from that chunk alone.
func (c *vaultConnection) completeUpload(req *protocol.SendFileRequest) error {
	total := 0
	for _, chunk := range req.Ciphertext {
		total += len(chunk)
	}

	buf := make([]byte, protocol.PacketSize)
	for total < int(req.ContentSize) {
		n, err := c.conn.Read(buf)
		if n == 0 && err != nil {
			return fmt.Errorf("read upload chunk: %w", err)
		}

		if n > 0 {
			req.Ciphertext = append(req.Ciphertext, append([]byte(nil), buf[:n]...))
			total += n
		}

		if err != nil && err != io.EOF {
			return fmt.Errorf("read upload chunk: %w", err)
		}
		if err == io.EOF && total < int(req.ContentSize) {
			return fmt.Errorf("connection closed with %d ciphertext bytes still expected", int(req.ContentSize)-total)
		}
	}

	if overshoot := total - int(req.ContentSize); overshoot > 0 {
		last := len(req.Ciphertext) - 1
		req.Ciphertext[last] = req.Ciphertext[last][:len(req.Ciphertext[last])-overshoot]
	}
	return nil
}

// dispatch routes a parsed request to its handler in pkg/vault by opcode.
func (c *vaultConnection) dispatch(ctx context.Context, header protocol.Header, req *protocol.Request) ([]byte, error) {
	switch protocol.RequestCode(header.Code) {
	case protocol.ReqRegistration:
		return c.state.HandleRegistration(ctx, header, req.Registration)
	case protocol.ReqPublicKey:
		return c.state.HandlePublicKey(ctx, header, req.PublicKey)
	case protocol.ReqLogin:
		return c.state.HandleLogin(ctx, header, req.Login)
	case protocol.ReqSendFile:
		return c.state.HandleSendFile(ctx, header, req.SendFile)
	case protocol.ReqCRCValid:
		return c.state.HandleCRCValid(ctx, header, req.CRCValid)
	case protocol.ReqCRCRetry:
		return c.state.HandleCRCRetry(ctx, header, req.CRCRetry)
	case protocol.ReqCRCAbort:
		return c.state.HandleCRCAbort(ctx, header, req.CRCAbort)
	default:
		return nil, fmt.Errorf("unhandled opcode %d", header.Code)
	}
}

// writeBestEffort writes a response padded to PacketSize, looping until
// the whole frame is sent (spec §4.4). Write failures are logged and
// swallowed, matching §7's "the server logs but swallows IoError on
// response writes."
func (c *vaultConnection) writeBestEffort(ctx context.Context, frame []byte) {
	padded := protocol.PadToPacketSize(frame)
	if _, err := writeFull(c.conn, padded); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.WarnCtx(ctx, "failed to write response", logger.KeyError, err.Error())
	}
}

func writeFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func headerClientIDHex(h protocol.Header) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(h.ClientID)*2)
	for i, b := range h.ClientID {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}
