package store

import "errors"

// Sentinel errors for repository operations, matching the error taxonomy
// named in §7 of the specification.
var (
	// ErrClientNotFound is returned by FindByNameID when no client row
	// matches the given (id, name) pair.
	ErrClientNotFound = errors.New("store: client not found")

	// ErrDuplicateClient is returned by InsertClient when name already
	// belongs to a registered client (I1).
	ErrDuplicateClient = errors.New("store: client name already registered")

	// ErrFileNotFound is returned by MarkFileVerified/DeleteFile when no
	// file record matches the given (client_id, file_name) pair.
	ErrFileNotFound = errors.New("store: file not found")

	// ErrDuplicateFile is returned by InsertFile when a record already
	// exists for (client_id, file_name) and the caller did not go through
	// the retry path (§4.5 step 5).
	ErrDuplicateFile = errors.New("store: file already exists")
)
