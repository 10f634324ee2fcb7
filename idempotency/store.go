// Package idempotency stores the responses of mutating dashboard requests
// keyed by the client's Idempotency-Key header, so a retried submission is
// answered from the store instead of uploading and writing to the ledger again.
package idempotency

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("skillendorse.idempotency")

const bucketName = "responses"

var (
	// ErrInFlight is returned when a request with the same key is still running.
	ErrInFlight = errors.New("a request with this idempotency key is in progress")

	// ErrKeyReused is returned when a key is presented for a different request.
	ErrKeyReused = errors.New("idempotency key was used for a different request")

	// ErrNotReserved is returned when completing a key that was never reserved.
	ErrNotReserved = errors.New("idempotency key is not reserved")
)

// Record is a reserved or completed request.
type Record struct {
	Key         string          `json:"key"`
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Complete    bool            `json:"complete"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Store is a bolt-backed idempotency store. Records expire after ttl.
type Store struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (or creates) the store at path.
func Open(path string, ttl time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}

	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) expired(r *Record) bool {
	return s.ttl > 0 && s.now().Sub(r.CreatedAt) > s.ttl
}

// Reserve claims key for the request identified by fingerprint.
//
// Returns (nil, nil) when the caller now owns the key and must run the request.
// Returns (record, nil) when a completed response should be replayed.
// A key still in progress yields ErrInFlight; a key bound to another
// fingerprint yields ErrKeyReused.
func (s *Store) Reserve(key, fingerprint string) (*Record, error) {
	var replay *Record

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		if existing := b.Get([]byte(key)); existing != nil {
			var r Record
			if err := json.Unmarshal(existing, &r); err != nil {
				return err
			}
			if !s.expired(&r) {
				switch {
				case r.Fingerprint != fingerprint:
					return ErrKeyReused
				case !r.Complete:
					return ErrInFlight
				default:
					replay = &r
					return nil
				}
			}
		}

		data, err := json.Marshal(Record{
			Key:         key,
			Fingerprint: fingerprint,
			CreatedAt:   s.now().UTC(),
		})
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return nil, err
	}

	return replay, nil
}

// Complete stores the response for a reserved key.
func (s *Store) Complete(key string, status int, contentType string, body []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		existing := b.Get([]byte(key))
		if existing == nil {
			return ErrNotReserved
		}
		var r Record
		if err := json.Unmarshal(existing, &r); err != nil {
			return err
		}

		r.Status = status
		r.ContentType = contentType
		r.Body = append(json.RawMessage(nil), body...)
		r.Complete = true

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Release drops a reservation so the client may retry with the same key.
// Releasing an unknown key is a no-op.
func (s *Store) Release(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// Get returns the record stored under key, or nil.
func (s *Store) Get(key string) (*Record, error) {
	var result *Record

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if v == nil {
			return nil
		}
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		result = &r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Purge removes expired records and returns how many were removed.
func (s *Store) Purge() (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				logger.Warningf("Purge: dropping undecodable record '%s': %v", k, err)
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if s.expired(&r) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		logger.Infof("Purged %d expired idempotency records", removed)
	}
	return removed, nil
}
