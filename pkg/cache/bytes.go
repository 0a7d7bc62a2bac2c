package cache

import (
	"errors"
	"fmt"
	"os"
)

// PutBytes stores `value` under the key through a single edit.
func (c *DiskCache) PutBytes(key string, value []byte) error {
	editor, err := c.Edit(key)
	if err != nil {
		return err
	}
	path, err := editor.File()
	if err != nil {
		return errors.Join(err, editor.Abort())
	}
	if err := os.WriteFile(path, value, 0o644); err != nil {
		return errors.Join(fmt.Errorf("failed to write value of %s: %w", key, err), editor.Abort())
	}
	return editor.Commit()
}

// GetBytes reads the whole committed value of the key.
func (c *DiskCache) GetBytes(key string) ([]byte, error) {
	snapshot, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = snapshot.Close() }()
	value, err := os.ReadFile(snapshot.File())
	if err != nil {
		return nil, fmt.Errorf("failed to read value of %s: %w", key, err)
	}
	return value, nil
}

// Contains reports whether the key has a readable value. Like Get, it counts as a use of the key.
func (c *DiskCache) Contains(key string) (bool, error) {
	snapshot, err := c.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, snapshot.Close()
}
