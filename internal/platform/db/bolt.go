package db

import (
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

// OpenBolt opens the embedded store file. Bolt holds an exclusive file lock,
// so only one process may open a path at a time.
func OpenBolt(path string) (*bolt.DB, error) {
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return db, nil
}
