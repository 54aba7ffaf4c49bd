package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"docbot/internal/domain"
)

var (
	bucketDocs      = []byte("docs")
	bucketChunks    = []byte("chunks")
	bucketDocChunks = []byte("doc_chunks")
	bucketSyntheses = []byte("syntheses")
	bucketMeta      = []byte("meta")
)

type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketDocs, bucketChunks, bucketDocChunks, bucketSyntheses, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

type docMeta struct {
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
	IngestedAt int64  `json:"ingested_at"`
}

type chunkRecord struct {
	DocID          string    `json:"doc_id"`
	Seq            int       `json:"seq"`
	Content        string    `json:"content"`
	Page           int       `json:"page"`
	ParagraphIndex int       `json:"paragraph_index"`
	Embedding      []float32 `json:"embedding"`
}

func (s *BoltStore) GetDoc(id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		var meta docMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		doc = toDocument(id, meta)
		return nil
	})
	return doc, err
}

func (s *BoltStore) ListDocs() ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var meta docMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			docs = append(docs, toDocument(string(k), meta))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].IngestedAt.Equal(docs[j].IngestedAt) {
			return docs[i].IngestedAt.Before(docs[j].IngestedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func toDocument(id string, meta docMeta) domain.Document {
	return domain.Document{
		ID:         id,
		Filename:   meta.Filename,
		ChunkCount: meta.ChunkCount,
		IngestedAt: time.Unix(0, meta.IngestedAt).UTC(),
	}
}

// ReplaceDocument writes doc and its chunks in one transaction. Any chunks
// previously stored for the document are deleted in the same transaction,
// and its stored synthesis is cleared because it describes the old content.
func (s *BoltStore) ReplaceDocument(doc domain.Document, chunks []domain.Chunk) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteDocChunks(tx, doc.ID); err != nil {
			return err
		}

		meta := docMeta{
			Filename:   doc.Filename,
			ChunkCount: len(chunks),
			IngestedAt: doc.IngestedAt.UnixNano(),
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put([]byte(doc.ID), data); err != nil {
			return err
		}

		chunksBucket := tx.Bucket(bucketChunks)
		chunkIDs := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			if chunk.DocID != doc.ID {
				return fmt.Errorf("chunk %s belongs to %s, not %s", chunk.ID, chunk.DocID, doc.ID)
			}
			rec := chunkRecord{
				DocID:          chunk.DocID,
				Seq:            chunk.Seq,
				Content:        chunk.Content,
				Page:           chunk.Page,
				ParagraphIndex: chunk.ParagraphIndex,
				Embedding:      chunk.Embedding,
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := chunksBucket.Put([]byte(chunk.ID), data); err != nil {
				return err
			}
			chunkIDs = append(chunkIDs, chunk.ID)
		}

		idsData, err := json.Marshal(chunkIDs)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocChunks).Put([]byte(doc.ID), idsData); err != nil {
			return err
		}

		return tx.Bucket(bucketSyntheses).Delete([]byte(doc.ID))
	})
}

// DeleteDocument removes a document, its chunks and its synthesis.
func (s *BoltStore) DeleteDocument(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteDocChunks(tx, id); err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocChunks).Delete([]byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketSyntheses).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketDocs).Delete([]byte(id))
	})
}

func deleteDocChunks(tx *bbolt.Tx, docID string) error {
	data := tx.Bucket(bucketDocChunks).Get([]byte(docID))
	if data == nil {
		return nil
	}
	var chunkIDs []string
	if err := json.Unmarshal(data, &chunkIDs); err != nil {
		return err
	}
	chunksBucket := tx.Bucket(bucketChunks)
	for _, id := range chunkIDs {
		if err := chunksBucket.Delete([]byte(id)); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) GetChunksByDoc(docID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocChunks).Get([]byte(docID))
		if data == nil {
			return nil
		}
		var chunkIDs []string
		if err := json.Unmarshal(data, &chunkIDs); err != nil {
			return err
		}
		chunksBucket := tx.Bucket(bucketChunks)
		for _, id := range chunkIDs {
			data := chunksBucket.Get([]byte(id))
			if data == nil {
				return fmt.Errorf("chunk %s of %s missing from store", id, docID)
			}
			chunk, err := decodeChunk(id, data)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return chunks, err
}

// AllChunks loads every stored chunk, grouped by document.
func (s *BoltStore) AllChunks() (map[string][]domain.Chunk, error) {
	byDoc := make(map[string][]domain.Chunk)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			chunk, err := decodeChunk(string(k), v)
			if err != nil {
				return err
			}
			byDoc[chunk.DocID] = append(byDoc[chunk.DocID], chunk)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	for _, chunks := range byDoc {
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	}
	return byDoc, nil
}

func decodeChunk(id string, data []byte) (domain.Chunk, error) {
	var rec chunkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Chunk{}, fmt.Errorf("failed to decode chunk %s: %w", id, err)
	}
	return domain.Chunk{
		ID:             id,
		DocID:          rec.DocID,
		Seq:            rec.Seq,
		Content:        rec.Content,
		Page:           rec.Page,
		ParagraphIndex: rec.ParagraphIndex,
		Embedding:      rec.Embedding,
	}, nil
}

func (s *BoltStore) PutSynthesis(docID string, version time.Time, syn domain.Synthesis) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketDocs).Get([]byte(docID))
		if raw == nil {
			return fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
		}
		var meta docMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("corrupt document %s: %w", docID, err)
		}
		if meta.IngestedAt != version.UnixNano() {
			return fmt.Errorf("%w: %s was re-ingested", domain.ErrDocumentChanged, docID)
		}

		data, err := json.Marshal(syn)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSyntheses).Put([]byte(docID), data)
	})
}

func (s *BoltStore) GetSynthesis(docID string) (domain.Synthesis, error) {
	var syn domain.Synthesis
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSyntheses).Get([]byte(docID))
		if data == nil {
			return fmt.Errorf("synthesis for %s: %w", docID, domain.ErrNotFound)
		}
		return json.Unmarshal(data, &syn)
	})
	return syn, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
