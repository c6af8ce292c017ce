// Package registry persists installed-rule metadata (id, kind, install
// time) to BoltDB for operator inspection. It implements rules.Registry.
// Like the audit store, it is a write-only observer: condrulesd never
// reinstalls rules from the registry on startup, since rule providers and
// actions are Go closures with no serializable form.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lumenhome/condrules/pkg/logx"
)

var rulesBucket = []byte("rules")

// Registry is the BoltDB-backed rule registry.
type Registry struct {
	db     *bolt.DB
	logger *logx.Logger
}

// Record is the persisted metadata for one installed rule.
type Record struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	InstalledAt time.Time `json:"installed_at"`
}

// Open opens (creating if necessary) the BoltDB database at path.
func Open(path string, logger *logx.Logger) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create registry directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open rule registry: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rulesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize rule registry: %w", err)
	}

	return &Registry{db: db, logger: logger}, nil
}

// PutRule implements rules.Registry.
func (r *Registry) PutRule(id string, kind string, installedAt time.Time) error {
	rec := Record{ID: id, Kind: kind, InstalledAt: installedAt}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal rule record: %w", err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rulesBucket).Put([]byte(id), data)
	})
}

// DeleteRule implements rules.Registry.
func (r *Registry) DeleteRule(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rulesBucket).Delete([]byte(id))
	})
}

// All returns every currently-registered rule record.
func (r *Registry) All() ([]Record, error) {
	var out []Record
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rulesBucket).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Close closes the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}
