package storage

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/screa/sfuel-miner/pkg/types"
)

const (
	CLAIMS_BUCKET = "claims"
)

// Storage persists submitted fuel claims
type Storage struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures buckets exist
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to open db")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(CLAIMS_BUCKET)); err != nil {
			return errors.Wrap(err, "Cannot create claims bucket")
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// RecordClaim appends a receipt under the next sequence number
func (s *Storage) RecordClaim(r *types.ClaimReceipt) error {
	receiptBytes, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "Unable to marshal receipt")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CLAIMS_BUCKET))
		seq, err := b.NextSequence()
		if err != nil {
			return errors.Wrap(err, "Unable to allocate claim id")
		}
		return b.Put(itob(seq), receiptBytes)
	})
}

// ListClaims returns up to limit receipts, newest first. limit <= 0 returns all.
func (s *Storage) ListClaims(limit int) ([]types.ClaimReceipt, error) {
	var receipts []types.ClaimReceipt

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(CLAIMS_BUCKET)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(receipts) >= limit {
				break
			}

			var r types.ClaimReceipt
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrapf(err, "Unable to unmarshal claim %d", binary.BigEndian.Uint64(k))
			}
			receipts = append(receipts, r)
		}
		return nil
	})

	return receipts, err
}

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
