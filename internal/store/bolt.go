package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ufindi/docintel/internal/models"
)

var (
	bucketDocuments   = []byte("documents")
	bucketExtractions = []byte("extractions")
	bucketValidations = []byte("validations")
	bucketCorrections = []byte("corrections")
	bucketLogs        = []byte("processing_logs")
)

// BoltStore persists records in a single bbolt file. Documents and the
// latest extraction are keyed by ID; validations, corrections and logs
// live in per-document sub-buckets keyed by sequence number so their
// order is preserved.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketDocuments, bucketExtractions, bucketValidations, bucketCorrections, bucketLogs}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init record store buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).Put([]byte(doc.ID), data)
	})
}

func (s *BoltStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc models.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *BoltStore) ListDocuments(ctx context.Context, f Filter) ([]*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(_, v []byte) error {
			var doc models.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("unmarshal document: %w", err)
			}
			if matches(&doc, f) {
				out = append(out, &doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *BoltStore) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		if docs.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := docs.Delete([]byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketExtractions).Delete([]byte(id)); err != nil {
			return err
		}
		for _, parent := range [][]byte{bucketValidations, bucketCorrections, bucketLogs} {
			b := tx.Bucket(parent)
			if b.Bucket([]byte(id)) == nil {
				continue
			}
			if err := b.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) SaveExtraction(ctx context.Context, ex *models.Extraction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal extraction: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExtractions).Put([]byte(ex.DocumentID), data)
	})
}

func (s *BoltStore) LatestExtraction(ctx context.Context, documentID string) (*models.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ex models.Extraction
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketExtractions).Get([]byte(documentID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &ex)
	})
	if err != nil {
		return nil, err
	}
	return &ex, nil
}

func (s *BoltStore) AppendValidation(ctx context.Context, v *models.Validation) error {
	return s.appendRecord(ctx, bucketValidations, v.DocumentID, v)
}

func (s *BoltStore) Validations(ctx context.Context, documentID string) ([]*models.Validation, error) {
	var out []*models.Validation
	err := s.readRecords(ctx, bucketValidations, documentID, func(data []byte) error {
		var v models.Validation
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		out = append(out, &v)
		return nil
	})
	return out, err
}

func (s *BoltStore) SaveCorrection(ctx context.Context, c *models.Correction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal correction: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		byDoc, err := tx.Bucket(bucketCorrections).CreateBucketIfNotExists([]byte(c.DocumentID))
		if err != nil {
			return err
		}
		// Corrections are keyed by their own ID so a propagation-flag
		// update overwrites in place.
		return byDoc.Put([]byte(c.ID), data)
	})
}

func (s *BoltStore) Corrections(ctx context.Context, documentID string) ([]*models.Correction, error) {
	var out []*models.Correction
	err := s.readRecords(ctx, bucketCorrections, documentID, func(data []byte) error {
		var c models.Correction
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		out = append(out, &c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CorrectedAt.Before(out[j].CorrectedAt) })
	return out, nil
}

func (s *BoltStore) AppendLog(ctx context.Context, entry *models.ProcessingLog) error {
	return s.appendRecord(ctx, bucketLogs, entry.DocumentID, entry)
}

func (s *BoltStore) Logs(ctx context.Context, documentID string) ([]*models.ProcessingLog, error) {
	var out []*models.ProcessingLog
	err := s.readRecords(ctx, bucketLogs, documentID, func(data []byte) error {
		var entry models.ProcessingLog
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		out = append(out, &entry)
		return nil
	})
	return out, err
}

func (s *BoltStore) appendRecord(ctx context.Context, parent []byte, documentID string, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		byDoc, err := tx.Bucket(parent).CreateBucketIfNotExists([]byte(documentID))
		if err != nil {
			return err
		}
		seq, err := byDoc.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return byDoc.Put(key, data)
	})
}

func (s *BoltStore) readRecords(ctx context.Context, parent []byte, documentID string, decode func([]byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		byDoc := tx.Bucket(parent).Bucket([]byte(documentID))
		if byDoc == nil {
			return nil
		}
		return byDoc.ForEach(func(_, v []byte) error {
			return decode(v)
		})
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
