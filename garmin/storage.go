package garmin

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// TokenStore persists the OAuth1/OAuth2 token pair between runs. Storage
// always holds a matched pair: Save writes both or fails, and Load returns
// both or neither. Implementations must treat a missing pair and an
// unreadable pair identically -- Load returns (nil, nil, nil) and the
// caller falls open to a fresh login. Clear is idempotent.
type TokenStore interface {
	Save(o1 *OAuth1Token, o2 *OAuth2Token) error
	Load() (*OAuth1Token, *OAuth2Token, error)
	Clear() error
}

const (
	// storeDirPerm is the permission mode for the token directory.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the token files.
	storeFilePerm = fs.FileMode(0o600)
)

// Token filenames are part of the upgrade contract: a pair saved by one
// version must load under the next, so these never change.
const (
	oauth1FileName = "oauth1_token.json"
	oauth2FileName = "oauth2_token.json"
)

// DefaultStoreDir returns ~/.garmin-sync.
func DefaultStoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".garmin-sync"), nil
}

// FileStore persists the token pair as two JSON documents in a private
// directory. With a Cipher configured, file contents are sealed at rest.
type FileStore struct {
	dir    string
	cipher *Cipher
}

// NewFileStore creates a file store rooted at dir, or at DefaultStoreDir
// when dir is empty. The directory is created lazily on first Save.
// cipher may be nil for plaintext storage.
func NewFileStore(dir string, cipher *Cipher) (*FileStore, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultStoreDir(); err != nil {
			return nil, err
		}
	}

	return &FileStore{dir: dir, cipher: cipher}, nil
}

// Dir returns the directory the store writes into.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save writes both token documents. Partial pairs are refused so storage
// never holds one token without the other.
func (s *FileStore) Save(o1 *OAuth1Token, o2 *OAuth2Token) error {
	if o1 == nil || o2 == nil {
		return fmt.Errorf("refusing to save partial token pair")
	}

	if err := os.MkdirAll(s.dir, storeDirPerm); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	if err := s.writeToken(oauth1FileName, o1); err != nil {
		return err
	}

	return s.writeToken(oauth2FileName, o2)
}

func (s *FileStore) writeToken(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	if s.cipher != nil {
		if data, err = s.cipher.Seal(data); err != nil {
			return fmt.Errorf("sealing %s: %w", name, err)
		}
	}

	// Write-and-rename so a crash mid-write never leaves a truncated
	// token file behind.
	path := filepath.Join(s.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, storeFilePerm); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}

	return nil
}

// Load reads the stored pair. Missing or unparsable files yield
// (nil, nil, nil): "no saved session" and "corrupt saved session" are the
// same thing to callers, both fall open to the login flow.
func (s *FileStore) Load() (*OAuth1Token, *OAuth2Token, error) {
	var o1 OAuth1Token
	if !s.readToken(oauth1FileName, &o1) {
		return nil, nil, nil
	}

	var o2 OAuth2Token
	if !s.readToken(oauth2FileName, &o2) {
		return nil, nil, nil
	}

	return &o1, &o2, nil
}

func (s *FileStore) readToken(name string, v any) bool {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return false
	}

	if s.cipher != nil {
		if data, err = s.cipher.Open(data); err != nil {
			return false
		}
	}

	return json.Unmarshal(data, v) == nil
}

// Clear removes both token files, tolerating files that are already gone.
func (s *FileStore) Clear() error {
	for _, name := range []string{oauth1FileName, oauth2FileName} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}

	return nil
}
