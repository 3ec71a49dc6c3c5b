package memory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ufindi/docintel/internal/models"
)

var (
	bucketPatterns    = []byte("patterns")
	bucketCorrections = []byte("corrections")
	bucketCounts      = []byte("correction_counts")
)

// BoltStore persists correction memory in a single bbolt file. Patterns
// live under their signature, corrections under a per-type sequence, and
// per-(type, field path) counts in their own bucket so the retraining
// check stays a point read.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPatterns, bucketCorrections, bucketCounts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory store buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) PutPattern(ctx context.Context, p *models.Pattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPatterns)
		key := []byte(p.Signature)
		if b.Get(key) != nil {
			return ErrPatternExists
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) PatternsByType(ctx context.Context, t models.DocumentType) ([]*models.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.Pattern
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPatterns).ForEach(func(_, v []byte) error {
			var p models.Pattern
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshal pattern: %w", err)
			}
			if p.Type == t {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) AppendCorrection(ctx context.Context, rec CorrectionRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal correction: %w", err)
	}

	var count int
	err = s.db.Update(func(tx *bolt.Tx) error {
		byType, err := tx.Bucket(bucketCorrections).CreateBucketIfNotExists([]byte(rec.DocumentType))
		if err != nil {
			return err
		}
		seq, err := byType.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := byType.Put(key, data); err != nil {
			return err
		}

		counts := tx.Bucket(bucketCounts)
		countKeyBytes := []byte(countKey(rec.DocumentType, rec.FieldPath))
		count = 1
		if existing := counts.Get(countKeyBytes); existing != nil {
			count = int(binary.BigEndian.Uint64(existing)) + 1
		}
		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, uint64(count))
		return counts.Put(countKeyBytes, value)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *BoltStore) Corrections(ctx context.Context, t models.DocumentType) ([]CorrectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []CorrectionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		byType := tx.Bucket(bucketCorrections).Bucket([]byte(t))
		if byType == nil {
			return nil
		}
		return byType.ForEach(func(_, v []byte) error {
			var rec CorrectionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal correction: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
