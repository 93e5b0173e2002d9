package store

import (
	"context"
	"time"
)

// ClientRow is the subset of Client fields the handshake state machine
// (C5) needs when looking a client up by (id, name).
type ClientRow struct {
	ID        string
	Name      string
	PublicKey []byte
	AESKey    []byte
	LastSeen  time.Time
}

// Repository is the capability bag §4.2 names: durable storage of clients
// and files. Every operation is total modulo the storage backend failing,
// in which case it returns the backend's error as is; not-found and
// duplicate outcomes are reported with the sentinels from errors.go. No
// operation retries internally.
type Repository interface {
	// InsertClient creates a new client row. Returns ErrDuplicateClient if
	// name is already registered (I1).
	InsertClient(ctx context.Context, id, name string, now time.Time) error

	// SetKeys atomically replaces the public key and session key for an
	// existing client row (the 1101 rekey path — an UPDATE, not the
	// original's delete-then-insert, per §9's resolved Open Question).
	SetKeys(ctx context.Context, id, name string, publicKey, aesKey []byte, now time.Time) error

	// Touch updates last_seen for a client.
	Touch(ctx context.Context, id string, now time.Time) error

	// FindByNameID looks up a client by (id, name). Returns
	// ErrClientNotFound if no such row exists.
	FindByNameID(ctx context.Context, id, name string) (*ClientRow, error)

	// FindByID looks up a client by id alone, for handlers (SendFile, the
	// CRC trio) whose request frame carries only the client id, not its
	// name. Returns ErrClientNotFound if no such row exists.
	FindByID(ctx context.Context, id string) (*ClientRow, error)

	// AllClientIDsNames returns every registered client's (id, name),
	// used to bootstrap the in-memory name-uniqueness list on startup.
	AllClientIDsNames(ctx context.Context) ([]ClientIDName, error)

	// InsertFile creates a file record with verified=0. Returns
	// ErrDuplicateFile if a record for (client_id, file_name) already
	// exists — callers handling the 1103 retry path delete the prior
	// record first.
	InsertFile(ctx context.Context, clientID, fileName, path string) error

	// MarkFileVerified sets verified=1 for (client_id, file_name).
	MarkFileVerified(ctx context.Context, clientID, fileName string) error

	// DeleteFile removes the file record for (client_id, file_name) and
	// returns the path it pointed to so the caller can remove the
	// on-disk file too.
	DeleteFile(ctx context.Context, clientID, fileName string) (path string, err error)
}

// ClientIDName is one row of AllClientIDsNames.
type ClientIDName struct {
	ID   string
	Name string
}

var _ Repository = (*GORMStore)(nil)

func (s *GORMStore) InsertClient(ctx context.Context, id, name string, now time.Time) error {
	client := &Client{ID: id, Name: name, LastSeen: now}
	if err := s.db.WithContext(ctx).Create(client).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateClient
		}
		return err
	}
	return nil
}

func (s *GORMStore) SetKeys(ctx context.Context, id, name string, publicKey, aesKey []byte, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&Client{}).
		Where("id = ? AND name = ?", id, name).
		Updates(map[string]any{
			"public_key": publicKey,
			"aes_key":    aesKey,
			"last_seen":  now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (s *GORMStore) Touch(ctx context.Context, id string, now time.Time) error {
	result := s.db.WithContext(ctx).Model(&Client{}).Where("id = ?", id).Update("last_seen", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (s *GORMStore) FindByNameID(ctx context.Context, id, name string) (*ClientRow, error) {
	client, err := getByField[Client](s.db, ctx, "id", id, ErrClientNotFound)
	if err != nil {
		return nil, err
	}
	if client.Name != name {
		return nil, ErrClientNotFound
	}
	return &ClientRow{
		ID:        client.ID,
		Name:      client.Name,
		PublicKey: client.PublicKey,
		AESKey:    client.AESKey,
		LastSeen:  client.LastSeen,
	}, nil
}

func (s *GORMStore) FindByID(ctx context.Context, id string) (*ClientRow, error) {
	client, err := getByField[Client](s.db, ctx, "id", id, ErrClientNotFound)
	if err != nil {
		return nil, err
	}
	return &ClientRow{
		ID:        client.ID,
		Name:      client.Name,
		PublicKey: client.PublicKey,
		AESKey:    client.AESKey,
		LastSeen:  client.LastSeen,
	}, nil
}

func (s *GORMStore) AllClientIDsNames(ctx context.Context) ([]ClientIDName, error) {
	clients, err := listAll[Client](s.db, ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ClientIDName, 0, len(clients))
	for _, c := range clients {
		out = append(out, ClientIDName{ID: c.ID, Name: c.Name})
	}
	return out, nil
}

func (s *GORMStore) InsertFile(ctx context.Context, clientID, fileName, path string) error {
	file := &File{ClientID: clientID, FileName: fileName, FilePath: path, Verified: false}
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateFile
		}
		return err
	}
	return nil
}

func (s *GORMStore) MarkFileVerified(ctx context.Context, clientID, fileName string) error {
	result := s.db.WithContext(ctx).
		Model(&File{}).
		Where("client_id = ? AND file_name = ?", clientID, fileName).
		Update("verified", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrFileNotFound
	}
	return nil
}

func (s *GORMStore) DeleteFile(ctx context.Context, clientID, fileName string) (string, error) {
	var file File
	if err := s.db.WithContext(ctx).
		Where("client_id = ? AND file_name = ?", clientID, fileName).
		First(&file).Error; err != nil {
		return "", convertNotFoundError(err, ErrFileNotFound)
	}
	if err := s.db.WithContext(ctx).Delete(&file).Error; err != nil {
		return "", err
	}
	return file.FilePath, nil
}
