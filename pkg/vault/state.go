// Package vault implements the handshake state machine (C5): the seven
// request handlers named in spec §4.5 and the cross-request invariants
// they share — name uniqueness, the pending-CRC set, and rekeying. It is
// grounded on spec §5's note that the original's single-threaded-reactor
// global state becomes, in a goroutine-per-connection Go rewrite, "a
// single owning value passed by exclusive borrow into each handler": here
// that value is *State, and "exclusive borrow" becomes "hold the mutex
// for the handler's duration."
package vault

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marmos91/vaultd/pkg/store"
)

// State is the mutex-guarded owner of every piece of data the handshake
// handlers share across requests and connections: the in-memory
// name-uniqueness list (mirroring I1, belt-and-suspenders alongside the
// repository's unique index per §9), the pending-CRC set (§3), and the
// repository handle itself.
type State struct {
	mu sync.Mutex

	// names maps a registered client's display name to its hex-encoded
	// client id, bootstrapped from the repository on startup and kept in
	// sync by HandleRegistration.
	names map[string]string

	// pending is the set of absolute file paths currently uploaded but
	// not yet CRC-confirmed.
	pending map[string]struct{}

	repo store.Repository

	// storageRoot is the directory under which every client's
	// per-id subdirectory is created (the server process's working
	// directory, per §6.3).
	storageRoot string
}

// NewState bootstraps a State from the repository's current client list,
// per spec §4.2's "the in-memory user list is populated from
// clients(id, name)" bootstrapping rule.
func NewState(ctx context.Context, repo store.Repository, storageRoot string) (*State, error) {
	rows, err := repo.AllClientIDsNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault: bootstrap name list: %w", err)
	}

	names := make(map[string]string, len(rows))
	for _, row := range rows {
		names[row.Name] = row.ID
	}

	return &State{
		names:       names,
		pending:     make(map[string]struct{}),
		repo:        repo,
		storageRoot: storageRoot,
	}, nil
}

// clientDir returns the per-client storage directory for a hex client id,
// per §6.3: <cwd>/<client_id_hex>/.
func (s *State) clientDir(idHex string) string {
	return filepath.Join(s.storageRoot, idHex)
}

// validFileName rejects names containing a path separator or a ".."
// segment, closing the directory-traversal hole spec §9 flags and §6.3
// says a rewrite SHOULD close.
func validFileName(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	return name != ".." && name != "."
}
