// Package cas implements the content-addressed blob store: a flat directory
// whose filenames are the lowercase-hex SHA3-256 digest of their contents.
package cas

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	enerrors "enprot/internal/errors"
	"enprot/internal/log"
	"enprot/internal/util"
)

const hashAlg = "sha3-256"
const hashHexLen = 64

// Store is a directory on disk holding content-addressed blobs.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir. The directory is not created here;
// callers are expected to have validated it exists (e.g. via the CLI's
// -c flag handling).
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// Save computes the SHA3-256 digest of blob, writes it to the store under
// that digest's hex name if not already present, and returns the hex hash.
// Writes are performed by creating a uniquely-named temp file in the same
// directory and renaming it into place, so a concurrent reader never
// observes a partially-written blob.
func (s *Store) Save(blob []byte) (string, error) {
	hexhash, err := util.HexDigest(hashAlg, blob)
	if err != nil {
		return "", enerrors.NewCASError("save", "", err)
	}

	path := filepath.Join(s.Dir, hexhash)
	if _, err := os.Stat(path); err == nil {
		log.Debug("cas.save: already present, skipping write", log.Hash(hexhash))
		return hexhash, nil
	}

	tmp := filepath.Join(s.Dir, "."+hexhash+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return "", enerrors.NewCASError("save", hexhash, fmt.Errorf("write temp file: %w", err))
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", enerrors.NewCASError("save", hexhash, fmt.Errorf("rename into place: %w", err))
	}

	log.Debug("cas.save: wrote blob", log.Hash(hexhash), log.Int("bytes", len(blob)))
	return hexhash, nil
}

// Load validates hexhash, reads the blob stored under it, and verifies
// that its digest still matches before returning it.
func (s *Store) Load(hexhash string) ([]byte, error) {
	if !util.IsValidHexHash(hexhash, hashHexLen) {
		return nil, enerrors.NewCASError("load", hexhash, enerrors.ErrCASInvalidHash)
	}

	path := filepath.Join(s.Dir, hexhash)
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, enerrors.NewCASError("load", hexhash, fmt.Errorf("read: %w", err))
	}

	verify, err := util.HexDigest(hashAlg, blob)
	if err != nil {
		return nil, enerrors.NewCASError("load", hexhash, err)
	}
	if verify != hexhash {
		return nil, enerrors.NewCASError("load", hexhash, enerrors.ErrCASIntegrity)
	}

	log.Debug("cas.load: read blob", log.Hash(hexhash), log.Int("bytes", len(blob)))
	return blob, nil
}
