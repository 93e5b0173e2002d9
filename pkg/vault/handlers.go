package vault

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/vaultd/internal/cksum"
	"github.com/marmos91/vaultd/pkg/cryptoenv"
	"github.com/marmos91/vaultd/pkg/protocol"
	"github.com/marmos91/vaultd/pkg/store"
)

// HandleRegistration implements opcode 1100 (spec §4.5): on a name
// collision it builds the RegistrationFail (2101) response directly
// rather than returning an error, since a collision is an expected
// protocol outcome, not a server failure.
func (s *State) HandleRegistration(ctx context.Context, header protocol.Header, req *protocol.RegistrationRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[req.Name]; exists {
		return protocol.EncodeRegistrationFail(header.ClientID), nil
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("vault: generate client id: %w", err)
	}
	var clientID [protocol.ClientIDSize]byte
	copy(clientID[:], id[:])
	idHex := hex.EncodeToString(clientID[:])

	if err := s.repo.InsertClient(ctx, idHex, req.Name, time.Now()); err != nil {
		return nil, fmt.Errorf("vault: insert client: %w", err)
	}
	s.names[req.Name] = idHex

	return protocol.EncodeRegistrationOK(clientID), nil
}

// HandlePublicKey implements opcode 1101 (spec §4.5), including the
// rekey behavior: any repeated 1101 for an already-keyed client replaces
// the stored public key and session key via a single atomic UPDATE
// (§9's resolved Open Question), rather than the original's
// delete-then-insert.
func (s *State) HandlePublicKey(ctx context.Context, header protocol.Header, req *protocol.PublicKeyRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idHex := hex.EncodeToString(header.ClientID[:])
	if known, ok := s.names[req.Name]; !ok || known != idHex {
		return nil, fmt.Errorf("vault: public key exchange for %q: %w", req.Name, ErrUnknownClient)
	}

	key, wrapped, err := cryptoenv.WrapSessionKey(req.PublicKey[:])
	if err != nil {
		return nil, fmt.Errorf("vault: wrap session key: %w", err)
	}

	if err := s.repo.SetKeys(ctx, idHex, req.Name, req.PublicKey[:], key, time.Now()); err != nil {
		return nil, fmt.Errorf("vault: set keys: %w", err)
	}

	return protocol.EncodePublicKeyAck(header.ClientID, wrapped), nil
}

// HandleLogin implements opcode 1102 (spec §4.5): an unknown client or a
// client with no prior public key produces the LoginFail (2106) response
// directly, matching §7's "UnknownClient at 1102 -> LoginFail" rule.
func (s *State) HandleLogin(ctx context.Context, header protocol.Header, req *protocol.LoginRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idHex := hex.EncodeToString(header.ClientID[:])
	known, ok := s.names[req.Name]
	if !ok || known != idHex {
		return protocol.EncodeLoginFail(header.ClientID), nil
	}

	row, err := s.repo.FindByNameID(ctx, idHex, req.Name)
	if err != nil {
		if errors.Is(err, store.ErrClientNotFound) {
			return protocol.EncodeLoginFail(header.ClientID), nil
		}
		return nil, fmt.Errorf("vault: find client: %w", err)
	}
	if row.PublicKey == nil {
		return protocol.EncodeLoginFail(header.ClientID), nil
	}

	key, wrapped, err := cryptoenv.WrapSessionKey(row.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("vault: wrap session key: %w", err)
	}

	if err := s.repo.SetKeys(ctx, idHex, req.Name, row.PublicKey, key, time.Now()); err != nil {
		return nil, fmt.Errorf("vault: set keys: %w", err)
	}

	return protocol.EncodeLoginOK(header.ClientID, wrapped), nil
}

// HandleSendFile implements opcode 1103 (spec §4.5 steps 3-9). The caller
// (the session dispatcher, C4) has already completed the blocking
// multi-packet read so req.Ciphertext holds, in order, exactly the chunks
// that arrived off the wire and together total req.ContentSize bytes;
// this handler only does state-guarded work: key lookup, pending-set
// bookkeeping, decrypt, write, and CRC.
func (s *State) HandleSendFile(ctx context.Context, header protocol.Header, req *protocol.SendFileRequest) ([]byte, error) {
	if !validFileName(req.FileName) {
		return nil, fmt.Errorf("vault: send file %q: %w", req.FileName, ErrInvalidFileName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idHex := hex.EncodeToString(header.ClientID[:])
	row, err := s.repo.FindByID(ctx, idHex)
	if err != nil {
		if errors.Is(err, store.ErrClientNotFound) {
			return nil, fmt.Errorf("vault: send file for unregistered client: %w", ErrUnknownClient)
		}
		return nil, fmt.Errorf("vault: find client: %w", err)
	}
	if row.AESKey == nil {
		return nil, fmt.Errorf("vault: send file before key exchange: %w", ErrUnknownClient)
	}

	targetDir := s.clientDir(idHex)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("vault: create client directory: %w", err)
	}
	filePath := filepath.Join(targetDir, req.FileName)

	_, isPending := s.pending[filePath]
	if !isPending {
		if _, err := os.Stat(filePath); err == nil {
			return nil, fmt.Errorf("vault: send file %q: %w", req.FileName, ErrFileExists)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("vault: stat existing file: %w", err)
		}
	}
	s.pending[filePath] = struct{}{}

	plaintext, err := cryptoenv.DecryptStream(row.AESKey, req.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt upload: %w", err)
	}

	if err := os.WriteFile(filePath, plaintext, 0o644); err != nil {
		return nil, fmt.Errorf("vault: write file: %w", err)
	}

	if isPending {
		// Retry path (§4.5 step 5): the file record from the prior
		// 1103 is replaced rather than duplicated.
		if _, err := s.repo.DeleteFile(ctx, idHex, req.FileName); err != nil && !errors.Is(err, store.ErrFileNotFound) {
			return nil, fmt.Errorf("vault: delete prior file record: %w", err)
		}
	}
	if err := s.repo.InsertFile(ctx, idHex, req.FileName, filePath); err != nil {
		return nil, fmt.Errorf("vault: insert file record: %w", err)
	}
	if err := s.repo.Touch(ctx, idHex, time.Now()); err != nil {
		return nil, fmt.Errorf("vault: touch client: %w", err)
	}

	sum, contentSize := cksum.Sum(plaintext)
	return protocol.EncodeFileAck(header.ClientID, contentSize, req.FileName, sum)
}

// HandleCRCValid implements opcode 1104 (spec §4.5): promotes the file
// record to verified, touches the client, and clears the pending-CRC
// entry.
func (s *State) HandleCRCValid(ctx context.Context, header protocol.Header, req *protocol.CRCRequest) ([]byte, error) {
	if !validFileName(req.FileName) {
		return nil, fmt.Errorf("vault: CRC-valid %q: %w", req.FileName, ErrInvalidFileName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idHex := hex.EncodeToString(header.ClientID[:])

	if err := s.repo.MarkFileVerified(ctx, idHex, req.FileName); err != nil {
		return nil, fmt.Errorf("vault: mark file verified: %w", err)
	}
	if err := s.repo.Touch(ctx, idHex, time.Now()); err != nil {
		return nil, fmt.Errorf("vault: touch client: %w", err)
	}

	delete(s.pending, filepath.Join(s.clientDir(idHex), req.FileName))

	return protocol.EncodeReceived(header.ClientID), nil
}

// HandleCRCRetry implements opcode 1105 (spec §4.5): touches the client,
// leaves the file on disk and pending, and sends no response at all —
// the client is expected to follow up with another 1103 reusing the same
// path. Retry counting is deliberately not enforced (§9).
func (s *State) HandleCRCRetry(ctx context.Context, header protocol.Header, req *protocol.CRCRequest) ([]byte, error) {
	if !validFileName(req.FileName) {
		return nil, fmt.Errorf("vault: CRC-retry %q: %w", req.FileName, ErrInvalidFileName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idHex := hex.EncodeToString(header.ClientID[:])
	if err := s.repo.Touch(ctx, idHex, time.Now()); err != nil {
		return nil, fmt.Errorf("vault: touch client: %w", err)
	}

	return nil, nil
}

// HandleCRCAbort implements opcode 1106 (spec §4.5): deletes the file
// record and the on-disk file, clears the pending-CRC entry, and
// responds with the same Received (2104) opcode as a valid CRC.
func (s *State) HandleCRCAbort(ctx context.Context, header protocol.Header, req *protocol.CRCRequest) ([]byte, error) {
	if !validFileName(req.FileName) {
		return nil, fmt.Errorf("vault: CRC-abort %q: %w", req.FileName, ErrInvalidFileName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idHex := hex.EncodeToString(header.ClientID[:])

	filePath, err := s.repo.DeleteFile(ctx, idHex, req.FileName)
	if err != nil {
		return nil, fmt.Errorf("vault: delete file record: %w", err)
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("vault: remove file: %w", err)
	}

	delete(s.pending, filePath)

	return protocol.EncodeReceived(header.ClientID), nil
}
