// Package state provides a bbolt-backed token store, an alternative to the
// JSON file backend for deployments that prefer a single database file.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alexjbarnes/garmin-sync/garmin"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	tokensBucket = []byte("tokens")
	oauth1Key    = []byte("oauth1")
	oauth2Key    = []byte("oauth2")
)

// Store persists the token pair in a bbolt database. It implements
// garmin.TokenStore: Save writes both tokens in one transaction, Load
// returns both or neither, and Clear is idempotent.
type Store struct {
	db *bolt.DB
}

// DefaultPath returns ~/.garmin-sync/state.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".garmin-sync", "state.db"), nil
}

// Open opens the token database at the given path, creating it if it does
// not exist. The tokens bucket is created on open.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes both tokens in a single transaction, so a crash between the
// two writes cannot leave a half-saved session behind.
func (s *Store) Save(o1 *garmin.OAuth1Token, o2 *garmin.OAuth2Token) error {
	if o1 == nil || o2 == nil {
		return fmt.Errorf("refusing to save partial token pair")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tokensBucket)

		d1, err := json.Marshal(o1)
		if err != nil {
			return fmt.Errorf("encoding oauth1 token: %w", err)
		}

		d2, err := json.Marshal(o2)
		if err != nil {
			return fmt.Errorf("encoding oauth2 token: %w", err)
		}

		if err := b.Put(oauth1Key, d1); err != nil {
			return err
		}

		return b.Put(oauth2Key, d2)
	})
}

// Load reads the stored pair. A missing or unparsable entry yields
// (nil, nil, nil): the caller falls open to a fresh login.
func (s *Store) Load() (*garmin.OAuth1Token, *garmin.OAuth2Token, error) {
	var (
		o1 *garmin.OAuth1Token
		o2 *garmin.OAuth2Token
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tokensBucket)

		v1 := b.Get(oauth1Key)
		v2 := b.Get(oauth2Key)
		if v1 == nil || v2 == nil {
			return nil
		}

		var t1 garmin.OAuth1Token
		if json.Unmarshal(v1, &t1) != nil {
			return nil
		}

		var t2 garmin.OAuth2Token
		if json.Unmarshal(v2, &t2) != nil {
			return nil
		}

		o1, o2 = &t1, &t2

		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading state db: %w", err)
	}

	return o1, o2, nil
}

// Clear removes both tokens. Deleting absent keys is a no-op in bolt, so
// Clear is naturally idempotent.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tokensBucket)

		if err := b.Delete(oauth1Key); err != nil {
			return err
		}

		return b.Delete(oauth2Key)
	})
}
