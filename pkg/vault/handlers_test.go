package vault

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/vaultd/internal/cksum"
	"github.com/marmos91/vaultd/pkg/cryptoenv"
	"github.com/marmos91/vaultd/pkg/protocol"
	"github.com/marmos91/vaultd/pkg/store"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	repo, err := store.New(&store.Config{Path: filepath.Join(t.TempDir(), "vaultd.db")})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	s, err := NewState(context.Background(), repo, t.TempDir())
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return s
}

// testRSAPublicKeyDER returns a PKCS#1 DER-encoded RSA public key sized to
// exactly fill the wire format's fixed PublicKeySize field. A 1184-bit
// modulus is a bit length whose PKCS#1 public key encoding (SEQUENCE
// of a 149-byte zero-padded modulus INTEGER plus a 5-byte 65537 exponent
// INTEGER, both under a long-form SEQUENCE header) comes out to exactly 160
// bytes, so the DER fills the field with no trailing padding that would
// otherwise trip the trailing-data check in x509.ParsePKCS1PublicKey.
func testRSAPublicKeyDER(t *testing.T) [protocol.PublicKeySize]byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 1184)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	der := x509.MarshalPKCS1PublicKey(&priv.PublicKey)
	if len(der) != protocol.PublicKeySize {
		t.Fatalf("PKCS1 public key DER is %d bytes, want %d", len(der), protocol.PublicKeySize)
	}
	var out [protocol.PublicKeySize]byte
	copy(out[:], der)
	return out
}

func registerClient(t *testing.T, s *State, name string) [protocol.ClientIDSize]byte {
	t.Helper()
	resp, err := s.HandleRegistration(context.Background(), protocol.Header{}, &protocol.RegistrationRequest{Name: name})
	if err != nil {
		t.Fatalf("HandleRegistration(%q): %v", name, err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespRegistrationOK) {
		t.Fatalf("registration code = %d, want %d", h.Code, protocol.RespRegistrationOK)
	}
	var clientID [protocol.ClientIDSize]byte
	copy(clientID[:], resp[protocol.HeaderSize:protocol.HeaderSize+protocol.ClientIDSize])
	return clientID
}

func exchangeKey(t *testing.T, s *State, clientID [protocol.ClientIDSize]byte, name string) {
	t.Helper()
	header := protocol.Header{ClientID: clientID}
	req := &protocol.PublicKeyRequest{Name: name, PublicKey: testRSAPublicKeyDER(t)}
	resp, err := s.HandlePublicKey(context.Background(), header, req)
	if err != nil {
		t.Fatalf("HandlePublicKey(%q): %v", name, err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespPublicKeyAck) {
		t.Fatalf("public key ack code = %d, want %d", h.Code, protocol.RespPublicKeyAck)
	}
}

func sessionKeyFor(t *testing.T, s *State, clientID [protocol.ClientIDSize]byte) []byte {
	t.Helper()
	idHex := hexClientID(clientID)
	row, err := s.repo.FindByID(context.Background(), idHex)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if row.AESKey == nil {
		t.Fatalf("client %s has no session key yet", idHex)
	}
	return row.AESKey
}

func hexClientID(clientID [protocol.ClientIDSize]byte) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, len(clientID)*2)
	for i, b := range clientID {
		buf[i*2] = hexDigits[b>>4]
		buf[i*2+1] = hexDigits[b&0xf]
	}
	return string(buf)
}

func uploadFile(t *testing.T, s *State, clientID [protocol.ClientIDSize]byte, aesKey []byte, fileName string, plaintext []byte) ([]byte, error) {
	t.Helper()
	chunk, err := cryptoenv.EncryptChunkForTesting(aesKey, plaintext)
	if err != nil {
		t.Fatalf("EncryptChunkForTesting: %v", err)
	}
	req := &protocol.SendFileRequest{
		ContentSize: uint32(len(plaintext)),
		FileName:    fileName,
		Ciphertext:  [][]byte{chunk},
	}
	return s.HandleSendFile(context.Background(), protocol.Header{ClientID: clientID}, req)
}

func TestRegistrationThenPublicKeyExchange(t *testing.T) {
	s := newTestState(t)
	clientID := registerClient(t, s, "alice")
	exchangeKey(t, s, clientID, "alice")

	key := sessionKeyFor(t, s, clientID)
	if len(key) != cryptoenv.SessionKeySize {
		t.Fatalf("session key length = %d, want %d", len(key), cryptoenv.SessionKeySize)
	}
}

func TestRegistrationNameCollision(t *testing.T) {
	s := newTestState(t)
	registerClient(t, s, "bob")

	resp, err := s.HandleRegistration(context.Background(), protocol.Header{}, &protocol.RegistrationRequest{Name: "bob"})
	if err != nil {
		t.Fatalf("second HandleRegistration: %v", err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespRegistrationFail) {
		t.Fatalf("code = %d, want RegistrationFail", h.Code)
	}
}

func TestPublicKeyExchangeUnknownClient(t *testing.T) {
	s := newTestState(t)
	registerClient(t, s, "carol")

	var strangerID [protocol.ClientIDSize]byte
	strangerID[0] = 0xff
	req := &protocol.PublicKeyRequest{Name: "carol", PublicKey: testRSAPublicKeyDER(t)}
	_, err := s.HandlePublicKey(context.Background(), protocol.Header{ClientID: strangerID}, req)
	if !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("got %v, want ErrUnknownClient", err)
	}
}

func TestLoginUnknownClient(t *testing.T) {
	s := newTestState(t)
	var clientID [protocol.ClientIDSize]byte
	resp, err := s.HandleLogin(context.Background(), protocol.Header{ClientID: clientID}, &protocol.LoginRequest{Name: "ghost"})
	if err != nil {
		t.Fatalf("HandleLogin: %v", err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespLoginFail) {
		t.Fatalf("code = %d, want LoginFail", h.Code)
	}
}

func TestLoginBeforePublicKeyExchangeFails(t *testing.T) {
	s := newTestState(t)
	clientID := registerClient(t, s, "dave")

	resp, err := s.HandleLogin(context.Background(), protocol.Header{ClientID: clientID}, &protocol.LoginRequest{Name: "dave"})
	if err != nil {
		t.Fatalf("HandleLogin: %v", err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespLoginFail) {
		t.Fatalf("code = %d, want LoginFail", h.Code)
	}
}

func TestLoginRekeysSessionKey(t *testing.T) {
	s := newTestState(t)
	clientID := registerClient(t, s, "erin")
	exchangeKey(t, s, clientID, "erin")
	firstKey := sessionKeyFor(t, s, clientID)

	resp, err := s.HandleLogin(context.Background(), protocol.Header{ClientID: clientID}, &protocol.LoginRequest{Name: "erin"})
	if err != nil {
		t.Fatalf("HandleLogin: %v", err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespLoginOK) {
		t.Fatalf("code = %d, want LoginOK", h.Code)
	}

	secondKey := sessionKeyFor(t, s, clientID)
	if string(firstKey) == string(secondKey) {
		t.Fatalf("login did not rotate the session key")
	}
}

func TestSendFileUploadAndCRCValid(t *testing.T) {
	s := newTestState(t)
	clientID := registerClient(t, s, "frank")
	exchangeKey(t, s, clientID, "frank")
	aesKey := sessionKeyFor(t, s, clientID)

	plaintext := []byte("hello, vault!")
	resp, err := uploadFile(t, s, clientID, aesKey, "hello.txt", plaintext)
	if err != nil {
		t.Fatalf("HandleSendFile: %v", err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespFileAck) {
		t.Fatalf("code = %d, want FileAck", h.Code)
	}

	wantSum, wantLen := cksum.Sum(plaintext)
	off := protocol.HeaderSize + protocol.ClientIDSize
	gotContentSize := uint32(resp[off]) | uint32(resp[off+1])<<8 | uint32(resp[off+2])<<16 | uint32(resp[off+3])<<24
	if gotContentSize != wantLen {
		t.Fatalf("content size = %d, want %d", gotContentSize, wantLen)
	}
	sumOff := off + 4 + protocol.NameSize
	gotSum := uint32(resp[sumOff]) | uint32(resp[sumOff+1])<<8 | uint32(resp[sumOff+2])<<16 | uint32(resp[sumOff+3])<<24
	if gotSum != wantSum {
		t.Fatalf("sum = %d, want %d", gotSum, wantSum)
	}

	crcResp, err := s.HandleCRCValid(context.Background(), protocol.Header{ClientID: clientID}, &protocol.CRCRequest{FileName: "hello.txt"})
	if err != nil {
		t.Fatalf("HandleCRCValid: %v", err)
	}
	h, err = protocol.ParseHeader(crcResp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespReceived) {
		t.Fatalf("code = %d, want Received", h.Code)
	}

	// A second upload of the same name, now neither pending nor retried,
	// collides with the file already on disk.
	if _, err := uploadFile(t, s, clientID, aesKey, "hello.txt", plaintext); !errors.Is(err, ErrFileExists) {
		t.Fatalf("got %v, want ErrFileExists", err)
	}
}

func TestSendFileCRCRetryOverwritesPendingUpload(t *testing.T) {
	s := newTestState(t)
	clientID := registerClient(t, s, "gina")
	exchangeKey(t, s, clientID, "gina")
	aesKey := sessionKeyFor(t, s, clientID)

	if _, err := uploadFile(t, s, clientID, aesKey, "report.txt", []byte("first attempt")); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	retryResp, err := s.HandleCRCRetry(context.Background(), protocol.Header{ClientID: clientID}, &protocol.CRCRequest{FileName: "report.txt"})
	if err != nil {
		t.Fatalf("HandleCRCRetry: %v", err)
	}
	if retryResp != nil {
		t.Fatalf("CRC retry should produce no response, got %v", retryResp)
	}

	// The retried upload reuses the same path and must succeed, even
	// though the file already exists on disk, because it is in the
	// pending set.
	finalPlaintext := []byte("second attempt, this one verifies")
	resp, err := uploadFile(t, s, clientID, aesKey, "report.txt", finalPlaintext)
	if err != nil {
		t.Fatalf("retry upload: %v", err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespFileAck) {
		t.Fatalf("code = %d, want FileAck", h.Code)
	}
}

func TestSendFileCRCAbortRemovesFile(t *testing.T) {
	s := newTestState(t)
	clientID := registerClient(t, s, "heidi")
	exchangeKey(t, s, clientID, "heidi")
	aesKey := sessionKeyFor(t, s, clientID)

	if _, err := uploadFile(t, s, clientID, aesKey, "throwaway.txt", []byte("doesn't matter")); err != nil {
		t.Fatalf("upload: %v", err)
	}

	idHex := hexClientID(clientID)
	filePath := filepath.Join(s.clientDir(idHex), "throwaway.txt")
	if _, err := os.Stat(filePath); err != nil {
		t.Fatalf("uploaded file missing before abort: %v", err)
	}

	resp, err := s.HandleCRCAbort(context.Background(), protocol.Header{ClientID: clientID}, &protocol.CRCRequest{FileName: "throwaway.txt"})
	if err != nil {
		t.Fatalf("HandleCRCAbort: %v", err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespReceived) {
		t.Fatalf("code = %d, want Received", h.Code)
	}

	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Fatalf("file still present after abort: err=%v", err)
	}
}

func TestSendFileRejectsPathTraversal(t *testing.T) {
	s := newTestState(t)
	clientID := registerClient(t, s, "ivan")
	exchangeKey(t, s, clientID, "ivan")
	aesKey := sessionKeyFor(t, s, clientID)

	_, err := uploadFile(t, s, clientID, aesKey, "../escape.txt", []byte("x"))
	if !errors.Is(err, ErrInvalidFileName) {
		t.Fatalf("got %v, want ErrInvalidFileName", err)
	}

	_, err = uploadFile(t, s, clientID, aesKey, "sub/escape.txt", []byte("x"))
	if !errors.Is(err, ErrInvalidFileName) {
		t.Fatalf("got %v, want ErrInvalidFileName", err)
	}
}

func TestSendFileMultiChunkUpload(t *testing.T) {
	s := newTestState(t)
	clientID := registerClient(t, s, "kelly")
	exchangeKey(t, s, clientID, "kelly")
	aesKey := sessionKeyFor(t, s, clientID)

	// Three independently-encrypted chunks, reproducing what a real
	// multi-packet upload hands HandleSendFile: each chunk has its own
	// zero-IV CBC framing and PKCS#7 padding, decrypted and concatenated
	// in order rather than as one continuous ciphertext stream.
	part1 := []byte("the first part of a file that spans ")
	part2 := []byte("more than one network packet ")
	part3 := []byte("and ends here.")

	chunk1, err := cryptoenv.EncryptChunkForTesting(aesKey, part1)
	if err != nil {
		t.Fatalf("EncryptChunkForTesting(part1): %v", err)
	}
	chunk2, err := cryptoenv.EncryptChunkForTesting(aesKey, part2)
	if err != nil {
		t.Fatalf("EncryptChunkForTesting(part2): %v", err)
	}
	chunk3, err := cryptoenv.EncryptChunkForTesting(aesKey, part3)
	if err != nil {
		t.Fatalf("EncryptChunkForTesting(part3): %v", err)
	}

	plaintext := append(append(append([]byte{}, part1...), part2...), part3...)
	req := &protocol.SendFileRequest{
		ContentSize: uint32(len(plaintext)),
		FileName:    "multipart.txt",
		Ciphertext:  [][]byte{chunk1, chunk2, chunk3},
	}
	resp, err := s.HandleSendFile(context.Background(), protocol.Header{ClientID: clientID}, req)
	if err != nil {
		t.Fatalf("HandleSendFile: %v", err)
	}
	h, err := protocol.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Code != uint16(protocol.RespFileAck) {
		t.Fatalf("code = %d, want FileAck", h.Code)
	}

	wantSum, wantLen := cksum.Sum(plaintext)
	off := protocol.HeaderSize + protocol.ClientIDSize
	gotContentSize := uint32(resp[off]) | uint32(resp[off+1])<<8 | uint32(resp[off+2])<<16 | uint32(resp[off+3])<<24
	if gotContentSize != wantLen {
		t.Fatalf("content size = %d, want %d", gotContentSize, wantLen)
	}
	sumOff := off + 4 + protocol.NameSize
	gotSum := uint32(resp[sumOff]) | uint32(resp[sumOff+1])<<8 | uint32(resp[sumOff+2])<<16 | uint32(resp[sumOff+3])<<24
	if gotSum != wantSum {
		t.Fatalf("sum = %d, want %d", gotSum, wantSum)
	}

	idHex := hexClientID(clientID)
	got, err := os.ReadFile(filepath.Join(s.clientDir(idHex), "multipart.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("written file = %q, want %q", got, plaintext)
	}
}

func TestSendFileUnknownClientRejected(t *testing.T) {
	s := newTestState(t)
	var strangerID [protocol.ClientIDSize]byte
	strangerID[0] = 0xaa

	_, err := uploadFile(t, s, strangerID, make([]byte, cryptoenv.SessionKeySize), "x.txt", []byte("x"))
	if !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("got %v, want ErrUnknownClient", err)
	}
}

func TestSendFileBeforeKeyExchangeRejected(t *testing.T) {
	s := newTestState(t)
	clientID := registerClient(t, s, "judy")

	_, err := uploadFile(t, s, clientID, make([]byte, cryptoenv.SessionKeySize), "x.txt", []byte("x"))
	if !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("got %v, want ErrUnknownClient", err)
	}
}
