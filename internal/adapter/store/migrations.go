package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"docbot/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	keySchemaVersion = []byte("schema_version")
	keyEmbedder      = []byte("embedder")
)

// SchemaInfo stores the schema version and the fingerprint of the embedder
// the stored vectors were produced with.
type SchemaInfo struct {
	Version  int    `json:"version"`
	Embedder string `json:"embedder"`
}

// GetSchemaInfo retrieves the current schema info from the database.
func (s *BoltStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if v := b.Get(keySchemaVersion); v != nil {
			if err := json.Unmarshal(v, &info.Version); err != nil {
				return fmt.Errorf("corrupt schema version: %w", err)
			}
		}
		info.Embedder = string(b.Get(keyEmbedder))
		return nil
	})
	return &info, err
}

// PinEmbedder records the embedder fingerprint on first use and rejects any
// other fingerprint afterwards with domain.ErrEmbeddingMismatch.
func (s *BoltStore) PinEmbedder(fingerprint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)

		version := 0
		if v := b.Get(keySchemaVersion); v != nil {
			if err := json.Unmarshal(v, &version); err != nil {
				return fmt.Errorf("corrupt schema version: %w", err)
			}
		}
		if version > CurrentSchemaVersion {
			return fmt.Errorf("database created by newer version (v%d > v%d)", version, CurrentSchemaVersion)
		}
		if version < CurrentSchemaVersion {
			data, _ := json.Marshal(CurrentSchemaVersion)
			if err := b.Put(keySchemaVersion, data); err != nil {
				return err
			}
		}

		stored := string(b.Get(keyEmbedder))
		switch {
		case stored == "":
			return b.Put(keyEmbedder, []byte(fingerprint))
		case stored != fingerprint:
			return fmt.Errorf("%w: index built with %s, configured embedder is %s",
				domain.ErrEmbeddingMismatch, stored, fingerprint)
		}
		return nil
	})
}

// Clear removes all documents, chunks and syntheses and unpins the
// embedder so the index can be rebuilt with a different model.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDocs, bucketChunks, bucketDocChunks, bucketSyntheses} {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Delete(keyEmbedder)
	})
}
